package display

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pizero-gpslog/internal/cell"
)

// Logical lines, top to bottom.
const (
	LineHeading = iota
	LineStatus
	LineLat
	LineLon
	LineExtraData

	NumLines
)

const (
	defaultWidthChars = 21
	minWriterPeriod   = time.Second
)

// Manager holds the five logical lines and pushes them to a driver from its
// own goroutine. Setters may be called from any goroutine.
type Manager struct {
	width  int
	height int
	lines  [NumLines]cell.Value[string]

	driver  Driver
	refresh time.Duration
	log     zerolog.Logger
}

// NewManager wraps driver; a nil driver keeps the lines in memory only.
// refresh is raised to one second and to the driver's minimum refresh
// interval. Driver rows past the logical lines are left unused.
func NewManager(driver Driver, refresh time.Duration, logger zerolog.Logger) *Manager {
	m := &Manager{
		width:   defaultWidthChars,
		height:  NumLines,
		driver:  driver,
		refresh: refresh,
		log:     logger.With().Str("component", "display").Logger(),
	}
	if m.refresh < minWriterPeriod {
		m.refresh = minWriterPeriod
	}
	if driver != nil {
		m.width = driver.WidthChars()
		m.height = min(driver.HeightLines(), NumLines)
		if floor := driver.MinRefresh(); floor > m.refresh {
			m.log.Debug().Dur("min_refresh", floor).Msg("raising refresh to driver minimum")
			m.refresh = floor
		}
	}
	return m
}

func (m *Manager) WidthChars() int  { return m.width }
func (m *Manager) HeightLines() int { return m.height }

// ShowsExtraData reports whether the display has a row for the extra data
// line.
func (m *Manager) ShowsExtraData() bool { return m.height > LineExtraData }

func (m *Manager) SetHeading(s string)   { m.lines[LineHeading].Set(s) }
func (m *Manager) SetStatus(s string)    { m.lines[LineStatus].Set(s) }
func (m *Manager) SetLat(s string)       { m.lines[LineLat].Set(s) }
func (m *Manager) SetLon(s string)       { m.lines[LineLon].Set(s) }
func (m *Manager) SetExtraData(s string) { m.lines[LineExtraData].Set(s) }

// Lines returns the current logical lines.
func (m *Manager) Lines() [NumLines]string {
	var out [NumLines]string
	for i := range m.lines {
		out[i] = m.lines[i].Get()
	}
	return out
}

func (m *Manager) Clear() {
	for i := range m.lines {
		m.lines[i].Set("")
	}
}

// SetFilledText spreads free text over all lines: explicit newlines start a
// new line, long lines wrap at the display width, anything past the last
// display line is dropped and returned, and unused lines are blanked.
func (m *Manager) SetFilledText(s string) (dropped []string) {
	slots := wrapText(s, m.width)
	if len(slots) > m.height {
		dropped = slots[m.height:]
		slots = slots[:m.height]
		m.log.Warn().Strs("removed", dropped).Msg("filled text overflowed")
	}
	for len(slots) < NumLines {
		slots = append(slots, "")
	}
	for i := 0; i < NumLines; i++ {
		m.lines[i].Set(slots[i])
	}
	return dropped
}

func wrapText(s string, width int) []string {
	var slots []string
	for _, part := range strings.Split(s, "\n") {
		r := []rune(part)
		if width <= 0 || len(r) <= width {
			slots = append(slots, part)
			continue
		}
		for i := 0; i < len(r); i += width {
			end := i + width
			if end > len(r) {
				end = len(r)
			}
			slots = append(slots, string(r[i:end]))
		}
	}
	return slots
}

// Run refreshes the driver until ctx is canceled, then clears and closes it.
func (m *Manager) Run(ctx context.Context) error {
	if m.driver == nil {
		<-ctx.Done()
		return nil
	}
	m.log.Info().Dur("refresh", m.refresh).Msg("display writer started")
	defer func() {
		if err := m.driver.Clear(); err != nil {
			m.log.Warn().Err(err).Msg("display clear failed")
		}
		if err := m.driver.Close(); err != nil {
			m.log.Warn().Err(err).Msg("display close failed")
		}
	}()

	for {
		start := time.Now()
		if err := m.iteration(); err != nil {
			m.log.Error().Err(err).Msg("display update failed")
		}
		wait := m.refresh - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (m *Manager) iteration() error {
	lines := m.Lines()
	for i, s := range lines {
		if i < m.height {
			m.driver.SetLine(i, s)
		}
	}
	return m.driver.Update()
}
