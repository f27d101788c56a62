// Package gpslogger runs the poll, classify, act loop: every interval it
// asks gpsd for the current fix, drives the indicators and status surface
// from the fix mode, and appends fixes to the session log.
package gpslogger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pizero-gpslog/internal/cell"
	"pizero-gpslog/internal/gpsd"
	"pizero-gpslog/internal/metrics"
	"pizero-gpslog/internal/publish"
)

// FixSource is satisfied by *gpsd.Poller and *gpsd.Client.
type FixSource interface {
	Poll(ctx context.Context) (*gpsd.Fix, error)
}

type deviceSource interface {
	Device() (gpsd.DeviceInfo, error)
}

// Indicator is satisfied by *led.LED.
type Indicator interface {
	On() error
	Off() error
	IsLit() bool
	Blink(ctx context.Context, on, off time.Duration, n int) error
}

// Surface is satisfied by *display.Manager.
type Surface interface {
	SetHeading(string)
	SetStatus(string)
	SetLat(string)
	SetLon(string)
}

// SessionLog is satisfied by *fixlog.Writer.
type SessionLog interface {
	Append(fixTime time.Time, raw []byte) error
	Flush() error
	Close() error
	Path() string
}

type Publisher interface {
	Publish(publish.Summary) error
}

type blinkPattern struct {
	on, off time.Duration
	n       int
}

var (
	noFixBlink    = blinkPattern{100 * time.Millisecond, 100 * time.Millisecond, 3}
	fix2DBlink    = blinkPattern{500 * time.Millisecond, 250 * time.Millisecond, 2}
	fix3DBlink    = blinkPattern{500 * time.Millisecond, 250 * time.Millisecond, 1}
	activityBlink = blinkPattern{250 * time.Millisecond, 250 * time.Millisecond, 1}
)

const (
	statusNoGPS = "No GPS yet"
	statusNoFix = "No Fix yet"
)

type Config struct {
	Interval time.Duration
	// FlushEach flushes and syncs the session file after every line.
	FlushEach bool

	// Alert shows fix quality; Activity pulses once per written line.
	Alert    Indicator
	Activity Indicator

	Display   Surface
	Publisher Publisher
	Metrics   *metrics.Collector

	// OnState receives every published snapshot.
	OnState func(State)

	Logger zerolog.Logger
	Now    func() time.Time
}

type Service struct {
	cfg   Config
	src   FixSource
	out   SessionLog
	log   zerolog.Logger
	state cell.Value[State]
}

func New(src FixSource, out SessionLog, cfg Config) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Display == nil {
		cfg.Display = nopSurface{}
	}
	if cfg.Alert == nil {
		cfg.Alert = nopIndicator{}
	}
	if cfg.Activity == nil {
		cfg.Activity = nopIndicator{}
	}
	return &Service{
		cfg: cfg,
		src: src,
		out: out,
		log: cfg.Logger.With().Str("component", "gpslogger").Logger(),
	}
}

// State returns the latest snapshot.
func (s *Service) State() State { return s.state.Get() }

// Run polls every interval until ctx is canceled or a fatal error occurs.
// The period does not include the time a cycle takes. It returns nil on
// cancellation. The session log is flushed and closed before Run returns.
func (s *Service) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := s.out.Close(); cerr != nil {
			s.log.Error().Err(cerr).Msg("closing session log failed")
			if err == nil {
				err = cerr
			}
		}
	}()

	s.indicate(s.cfg.Activity.Off())
	s.log.Info().Dur("interval", s.cfg.Interval).Bool("flush", s.cfg.FlushEach).Msg("logger started")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("logger stopping")
			return nil
		case <-ticker.C:
		}
		if err := s.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (s *Service) cycle(ctx context.Context) error {
	st := s.state.Get()
	st.Polls++
	st.LastPoll = s.cfg.Now().UTC()
	st.LastError = ""
	defer func() { s.publishState(st) }()

	fix, err := s.src.Poll(ctx)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, gpsd.ErrNoActiveGPS):
		s.log.Warn().Msg("no data returned by gpsd (no active GPS)")
		s.cfg.Metrics.ObservePoll(metrics.ResultNoGPS)
		s.noGPS(&st)
		return nil
	case errors.Is(err, gpsd.ErrDisconnected):
		s.cfg.Metrics.ObservePoll(metrics.ResultDisconnected)
		st.LastError = err.Error()
		s.noGPS(&st)
		return nil
	default:
		s.cfg.Metrics.ObservePoll(metrics.ResultError)
		st.LastError = err.Error()
		return fmt.Errorf("poll gpsd: %w", err)
	}

	mode := fix.Mode()
	used, visible := fix.Satellites()
	s.cfg.Metrics.ObserveFix(int(mode), used, visible)
	st.Mode = mode
	st.ModeName = mode.String()
	st.Sats = visible
	st.SatsUsed = used
	if s.cfg.Alert.IsLit() {
		s.indicate(s.cfg.Alert.Off())
	}

	if mode < gpsd.Mode2D {
		s.log.Warn().Stringer("fix", fix).Msg("no GPS fix yet")
		s.cfg.Metrics.ObservePoll(metrics.ResultNoFix)
		clearFix(&st)
		s.showStatus(st.LastPoll, mode, statusNoFix)
		s.blink(ctx, s.cfg.Alert, noFixBlink)
		return nil
	}

	s.cfg.Metrics.ObservePoll(metrics.ResultFix)
	s.log.Info().Stringer("fix", fix).Msg("fix")
	fixTime := s.fillFix(&st, fix)
	s.showFix(st)

	pattern := fix3DBlink
	if mode == gpsd.Mode2D {
		pattern = fix2DBlink
	}
	s.blink(ctx, s.cfg.Alert, pattern)

	if err := s.out.Append(fixTime, fix.Raw()); err != nil {
		st.LastError = err.Error()
		return err
	}
	if s.cfg.FlushEach {
		if err := s.out.Flush(); err != nil {
			st.LastError = err.Error()
			return err
		}
	}
	st.LinesWritten++
	st.File = s.out.Path()
	s.cfg.Metrics.LineWritten()
	s.publishFix(fix)
	s.blink(ctx, s.cfg.Activity, activityBlink)
	return nil
}

func (s *Service) noGPS(st *State) {
	st.Mode = gpsd.ModeNoData
	st.ModeName = gpsd.ModeNoData.String()
	st.Sats, st.SatsUsed = 0, 0
	clearFix(st)
	if !s.cfg.Alert.IsLit() {
		s.indicate(s.cfg.Alert.On())
	}
	s.showStatus(st.LastPoll, gpsd.ModeNoData, statusNoGPS)
}

// clearFix drops the values of the last fix so a downgraded snapshot never
// reports a stale position.
func clearFix(st *State) {
	st.Lat, st.Lon = 0, 0
	st.Alt, st.HasAlt = 0, false
	st.Speed, st.Track = 0, 0
	st.PrecH, st.PrecV = 0, 0
	st.FixTime = time.Time{}
	st.MapURL = ""
}

// fillFix copies fix fields into st and returns the time that names the
// session file.
func (s *Service) fillFix(st *State, fix *gpsd.Fix) time.Time {
	st.Lat, st.Lon, _ = fix.Position()
	st.PrecH, st.PrecV, _ = fix.PositionPrecision()
	st.Speed, _ = fix.Speed()
	st.Track, _ = fix.Track()
	st.Alt, st.HasAlt = 0, false
	if alt, err := fix.Altitude(); err == nil {
		st.Alt, st.HasAlt = alt, true
	}
	st.MapURL, _ = fix.MapURL()

	t, err := fix.Time()
	if err != nil {
		s.log.Warn().Err(err).Msg("fix has no usable time; using the system clock")
		t = st.LastPoll
	}
	st.FixTime = t
	return t
}

func (s *Service) publishFix(fix *gpsd.Fix) {
	if s.cfg.Publisher == nil {
		return
	}
	var device string
	if ds, ok := s.src.(deviceSource); ok {
		if d, err := ds.Device(); err == nil {
			device = d.Path
		}
	}
	sum, err := publish.Summarize(fix, device)
	if err != nil {
		s.log.Debug().Err(err).Msg("fix not publishable")
		return
	}
	if err := s.cfg.Publisher.Publish(sum); err != nil {
		s.log.Warn().Err(err).Msg("publish fix failed")
	}
}

func (s *Service) publishState(st State) {
	s.state.Set(st)
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}

func (s *Service) blink(ctx context.Context, ind Indicator, p blinkPattern) {
	if err := ind.Blink(ctx, p.on, p.off, p.n); err != nil && ctx.Err() == nil {
		s.log.Warn().Err(err).Msg("indicator blink failed")
	}
}

func (s *Service) indicate(err error) {
	if err != nil {
		s.log.Warn().Err(err).Msg("indicator update failed")
	}
}
