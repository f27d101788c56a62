package gpslogger

import (
	"time"

	"pizero-gpslog/internal/gpsd"
)

// State is the snapshot published after every poll cycle.
type State struct {
	Mode     gpsd.Mode `json:"mode"`
	ModeName string    `json:"mode_name"`

	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
	Alt    float64 `json:"alt,omitempty"`
	HasAlt bool    `json:"has_alt"`
	Speed  float64 `json:"speed,omitempty"`
	Track  float64 `json:"track,omitempty"`

	PrecH    float64 `json:"prec_h,omitempty"`
	PrecV    float64 `json:"prec_v,omitempty"`
	Sats     int     `json:"sats"`
	SatsUsed int     `json:"sats_used"`

	FixTime  time.Time `json:"fix_time,omitempty"`
	MapURL   string    `json:"map_url,omitempty"`
	LastPoll time.Time `json:"last_poll"`

	File         string `json:"file,omitempty"`
	Polls        uint64 `json:"polls"`
	LinesWritten uint64 `json:"lines_written"`
	LastError    string `json:"last_error,omitempty"`
}

// HasFix reports a 2D or 3D fix.
func (s State) HasFix() bool { return s.Mode >= gpsd.Mode2D }
