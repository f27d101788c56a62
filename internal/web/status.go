package web

import (
	"sync/atomic"
	"time"

	"pizero-gpslog/internal/gpslogger"
)

// Status is the read side of the running daemon for /api/status.
type Status struct {
	startUnixNano int64
	version       string
	gpsdAddr      string
	outDir        string
	interval      time.Duration
	state         atomic.Pointer[func() gpslogger.State]
}

func NewStatus(version, gpsdAddr, outDir string, interval time.Duration) *Status {
	s := &Status{
		startUnixNano: time.Now().UTC().UnixNano(),
		version:       version,
		gpsdAddr:      gpsdAddr,
		outDir:        outDir,
		interval:      interval,
	}
	return s
}

// SetStateSource installs the function that returns the latest logger
// state, normally (*gpslogger.Service).State.
func (s *Status) SetStateSource(fn func() gpslogger.State) {
	s.state.Store(&fn)
}

type StatusSnapshot struct {
	Service   string          `json:"service"`
	Version   string          `json:"version"`
	NowUTC    string          `json:"now_utc"`
	UptimeSec int64           `json:"uptime_sec"`
	GPSD      string          `json:"gpsd"`
	OutDir    string          `json:"out_dir"`
	Interval  string          `json:"interval"`
	State     gpslogger.State `json:"state"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, s.startUnixNano).UTC()
	snap := StatusSnapshot{
		Service:   "pizero-gpslog",
		Version:   s.version,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		GPSD:      s.gpsdAddr,
		OutDir:    s.outDir,
		Interval:  s.interval.String(),
	}
	if fn := s.state.Load(); fn != nil {
		snap.State = (*fn)()
	}
	return snap
}
