package gpslogger

import (
	"context"
	"fmt"
	"time"

	"pizero-gpslog/internal/gpsd"
)

func heading(now time.Time, mode gpsd.Mode) string {
	return now.UTC().Format("15:04:05Z") + " " + shortMode(mode)
}

func shortMode(m gpsd.Mode) string {
	switch m {
	case gpsd.ModeNoData:
		return "no GPS"
	case gpsd.ModeNoFix:
		return "no fix"
	case gpsd.Mode2D:
		return "2D"
	case gpsd.Mode3D:
		return "3D"
	default:
		return fmt.Sprintf("mode %d", int(m))
	}
}

// fixStatus renders "3D 3.1,7.0m 7/11": mode, horizontal and vertical
// precision, used/visible satellites.
func fixStatus(st State) string {
	return fmt.Sprintf("%s %.1f,%.1fm %d/%d", shortMode(st.Mode), st.PrecH, st.PrecV, st.SatsUsed, st.Sats)
}

// showStatus also blanks the coordinate lines; they only show a current fix.
func (s *Service) showStatus(now time.Time, mode gpsd.Mode, status string) {
	s.cfg.Display.SetHeading(heading(now, mode))
	s.cfg.Display.SetStatus(status)
	s.cfg.Display.SetLat("")
	s.cfg.Display.SetLon("")
}

func (s *Service) showFix(st State) {
	s.cfg.Display.SetHeading(heading(st.LastPoll, st.Mode))
	s.cfg.Display.SetStatus(fixStatus(st))
	s.cfg.Display.SetLat(fmt.Sprintf("Lat: %.6f", st.Lat))
	s.cfg.Display.SetLon(fmt.Sprintf("Lon: %.6f", st.Lon))
}

type nopSurface struct{}

func (nopSurface) SetHeading(string) {}
func (nopSurface) SetStatus(string)  {}
func (nopSurface) SetLat(string)     {}
func (nopSurface) SetLon(string)     {}

type nopIndicator struct{}

func (nopIndicator) On() error   { return nil }
func (nopIndicator) Off() error  { return nil }
func (nopIndicator) IsLit() bool { return false }
func (nopIndicator) Blink(context.Context, time.Duration, time.Duration, int) error {
	return nil
}
