package gpsd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Mode is the NMEA fix mode reported in a TPV object.
type Mode int

const (
	ModeNoData Mode = 0
	ModeNoFix  Mode = 1
	Mode2D     Mode = 2
	Mode3D     Mode = 3
)

func (m Mode) String() string {
	switch m {
	case ModeNoData:
		return "no data"
	case ModeNoFix:
		return "no fix"
	case Mode2D:
		return "2D fix"
	case Mode3D:
		return "3D fix"
	default:
		return "mode " + strconv.Itoa(int(m))
	}
}

// ErrorEstimate holds gpsd's 95% confidence error estimates.
//
//	C: climb/sink (m/s), mode 3 only
//	S: speed (m/s)
//	T: timestamp (s)
//	V: vertical (m), mode 3 only
//	X: longitude (m)
//	Y: latitude (m)
type ErrorEstimate struct {
	C float64 `json:"c"`
	S float64 `json:"s"`
	T float64 `json:"t"`
	V float64 `json:"v"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Movement is the horizontal speed, course and climb of a 3D fix.
type Movement struct {
	Speed float64 `json:"speed"`
	Track float64 `json:"track"`
	Climb float64 `json:"climb"`
}

// Fix is one GPS sample decoded from a gpsd POLL reply.
//
// Values that need a minimum fix mode are only reachable through the
// accessors that check it. A Fix is not modified after ParsePoll returns it.
type Fix struct {
	mode     Mode
	sats     int
	satsUsed int

	lat    float64
	lon    float64
	alt    float64
	track  float64
	hspeed float64
	climb  float64

	// timestamp is the receiver's ISO-8601 UTC time; empty below a 2D fix.
	timestamp string
	errs      ErrorEstimate

	raw json.RawMessage
}

type pollReport struct {
	Class  string          `json:"class"`
	Active json.RawMessage `json:"active"`
	TPV    []tpvReport     `json:"tpv"`
	Sky    []skyReport     `json:"sky"`
}

type tpvReport struct {
	Mode  int     `json:"mode"`
	Time  string  `json:"time"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Alt   float64 `json:"alt"`
	Track float64 `json:"track"`
	Speed float64 `json:"speed"`
	Climb float64 `json:"climb"`

	Epc float64 `json:"epc"`
	Eps float64 `json:"eps"`
	Ept float64 `json:"ept"`
	Epv float64 `json:"epv"`
	Epx float64 `json:"epx"`
	Epy float64 `json:"epy"`
}

type skySat struct {
	Used bool `json:"used"`
}

type skyReport struct {
	Satellites []skySat `json:"satellites"`
}

// ParsePoll decodes one POLL line into a Fix.
//
// It returns ErrNoActiveGPS when gpsd reports no active device. A fix below
// 2D is returned without error; callers check Mode() (or get ErrNoFix from
// the gated accessors).
func ParsePoll(line []byte) (*Fix, error) {
	line = bytes.TrimSpace(line)
	var pkt pollReport
	if err := json.Unmarshal(line, &pkt); err != nil {
		return nil, &DecodeError{Line: line, Err: err}
	}
	if pkt.Class != "POLL" {
		return nil, &ProtocolError{Step: "poll", Class: pkt.Class, Want: []string{"POLL"}}
	}

	if !isActive(pkt.Active) {
		return nil, ErrNoActiveGPS
	}
	f := &Fix{raw: append(json.RawMessage(nil), line...)}

	// gpsd may carry more than one report per cycle; the newest is last.
	if n := len(pkt.Sky); n > 0 {
		sky := pkt.Sky[n-1]
		f.sats = len(sky.Satellites)
		for _, sat := range sky.Satellites {
			if sat.Used {
				f.satsUsed++
			}
		}
	}

	if len(pkt.TPV) == 0 {
		return f, nil
	}
	tpv := pkt.TPV[len(pkt.TPV)-1]
	f.mode = Mode(tpv.Mode)
	if f.mode < Mode2D {
		return f, nil
	}

	f.lat = tpv.Lat
	f.lon = tpv.Lon
	f.track = tpv.Track
	f.hspeed = tpv.Speed
	f.timestamp = tpv.Time
	f.errs = ErrorEstimate{
		S: tpv.Eps,
		T: tpv.Ept,
		X: tpv.Epx,
		Y: tpv.Epy,
	}

	if f.mode >= Mode3D {
		// Missing alt/epv stay 0.0; a 3D fix can not tell absent from zero.
		f.alt = tpv.Alt
		f.climb = tpv.Climb
		f.errs.C = tpv.Epc
		f.errs.V = tpv.Epv
	}
	return f, nil
}

// isActive accepts both the boolean form and gpsd's device count.
func isActive(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	switch s {
	case "", "null", "false", "0":
		return false
	case "true":
		return true
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return n != 0
}

func (f *Fix) require(need Mode) error {
	if f == nil {
		return &FixTooLowError{Have: ModeNoData, Need: need}
	}
	if f.mode < need {
		return &FixTooLowError{Have: f.mode, Need: need}
	}
	return nil
}

// Mode returns the fix mode; ModeNoData for a nil Fix.
func (f *Fix) Mode() Mode {
	if f == nil {
		return ModeNoData
	}
	return f.mode
}

// Satellites returns the used and visible counts from the newest sky
// report. They are reported at every mode.
func (f *Fix) Satellites() (used, visible int) {
	if f == nil {
		return 0, 0
	}
	return f.satsUsed, f.sats
}

// Timestamp returns the receiver time as gpsd sent it. Needs a 2D fix.
func (f *Fix) Timestamp() (string, error) {
	if err := f.require(Mode2D); err != nil {
		return "", err
	}
	return f.timestamp, nil
}

// Track returns the course over ground in degrees. Needs a 2D fix.
func (f *Fix) Track() (float64, error) {
	if err := f.require(Mode2D); err != nil {
		return 0, err
	}
	return f.track, nil
}

// Raw returns the POLL line exactly as gpsd sent it.
func (f *Fix) Raw() json.RawMessage {
	if f == nil {
		return nil
	}
	return append(json.RawMessage(nil), f.raw...)
}

// Position returns latitude and longitude in degrees. Needs a 2D fix.
func (f *Fix) Position() (lat, lon float64, err error) {
	if err := f.require(Mode2D); err != nil {
		return 0, 0, err
	}
	return f.lat, f.lon, nil
}

// Altitude returns the altitude in meters. Needs a 3D fix.
func (f *Fix) Altitude() (float64, error) {
	if err := f.require(Mode3D); err != nil {
		return 0, err
	}
	return f.alt, nil
}

// Movement needs a 3D fix.
func (f *Fix) Movement() (Movement, error) {
	if err := f.require(Mode3D); err != nil {
		return Movement{}, err
	}
	return Movement{Speed: f.hspeed, Track: f.track, Climb: f.climb}, nil
}

// SpeedVertical returns the climb rate with changes inside the climb error
// estimate reported as 0.
func (f *Fix) SpeedVertical() (float64, error) {
	if err := f.require(Mode2D); err != nil {
		return 0, err
	}
	if math.Abs(f.climb) < f.errs.C {
		return 0, nil
	}
	return f.climb, nil
}

// Speed returns the horizontal speed with values inside the speed error
// estimate reported as 0.
func (f *Fix) Speed() (float64, error) {
	if err := f.require(Mode2D); err != nil {
		return 0, err
	}
	if f.hspeed < f.errs.S {
		return 0, nil
	}
	return f.hspeed, nil
}

// PositionPrecision returns the horizontal error (worse of x/y) and the
// vertical error in meters. Vertical is 0 below a 3D fix.
func (f *Fix) PositionPrecision() (horizontal, vertical float64, err error) {
	if err := f.require(Mode2D); err != nil {
		return 0, 0, err
	}
	return math.Max(f.errs.X, f.errs.Y), f.errs.V, nil
}

// Time parses the receiver timestamp. Needs a 2D fix.
func (f *Fix) Time() (time.Time, error) {
	if err := f.require(Mode2D); err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, f.timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("gpsd: parse fix time %q: %w", f.timestamp, err)
	}
	return t.UTC(), nil
}

// MapURL links the position on openstreetmap.org. Needs a 2D fix.
func (f *Fix) MapURL() (string, error) {
	if err := f.require(Mode2D); err != nil {
		return "", err
	}
	return fmt.Sprintf("http://www.openstreetmap.org/?mlat=%v&mlon=%v&zoom=15", f.lat, f.lon), nil
}

func (f *Fix) String() string {
	if f == nil {
		return "<Fix nil>"
	}
	switch {
	case f.mode < Mode2D:
		return fmt.Sprintf("<Fix %s>", f.mode)
	case f.mode == Mode2D:
		return fmt.Sprintf("<Fix 2D %v %v>", f.lat, f.lon)
	default:
		return fmt.Sprintf("<Fix 3D %v %v (%v m)>", f.lat, f.lon, f.alt)
	}
}
