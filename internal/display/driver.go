package display

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnknownDriver is returned by Open for a name nobody registered.
var ErrUnknownDriver = errors.New("display: unknown driver")

// Driver is a fixed grid of text lines.
type Driver interface {
	WidthChars() int
	HeightLines() int
	// MinRefresh is the shortest interval the hardware tolerates between
	// updates (e-paper is slow, OLED is not).
	MinRefresh() time.Duration

	// SetLine stages the zero-indexed line; Update pushes staged lines out.
	SetLine(n int, s string)
	Update() error
	Clear() error
	Close() error
}

type DriverConfig struct {
	Logger zerolog.Logger

	// I2CBus is the periph bus name; empty picks the first bus.
	I2CBus string
	// Width and Height are the panel size in pixels.
	Width  int
	Height int
}

type Factory func(cfg DriverConfig) (Driver, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver available by name. It panics on a duplicate name,
// like database/sql.Register.
func Register(name string, f Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("display: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("display: Register called twice for driver " + name)
	}
	registry[name] = f
}

// Open constructs the named driver.
func Open(name string, cfg DriverConfig) (Driver, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	registryMu.RLock()
	f, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownDriver, name, strings.Join(Drivers(), ", "))
	}
	return f(cfg)
}

// Drivers lists registered driver names.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Grid is the staged line buffer shared by drivers.
type Grid struct {
	width int
	lines []string
	log   zerolog.Logger
}

func NewGrid(width, height int, logger zerolog.Logger) *Grid {
	return &Grid{width: width, lines: make([]string, height), log: logger}
}

func (g *Grid) WidthChars() int  { return g.width }
func (g *Grid) HeightLines() int { return len(g.lines) }

// SetLine truncates content to the display width.
func (g *Grid) SetLine(n int, s string) {
	if n < 0 || n >= len(g.lines) {
		g.log.Debug().Int("line", n).Int("lines", len(g.lines)).Msg("display has no such line")
		return
	}
	if r := []rune(s); len(r) > g.width {
		g.log.Debug().Str("content", s).Msg("truncating content")
		s = string(r[:g.width])
	}
	g.lines[n] = s
}

// Lines returns a copy of the staged lines.
func (g *Grid) Lines() []string {
	return append([]string(nil), g.lines...)
}

func (g *Grid) reset() {
	for i := range g.lines {
		g.lines[i] = ""
	}
}
