// Package extradata produces the short free-form reading shown on the last
// display line.
package extradata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrUnknownProvider = errors.New("extradata: unknown provider")

// Provider returns one display-sized message per call.
type Provider interface {
	Name() string
	Message(ctx context.Context) (string, error)
}

type Config struct {
	Logger zerolog.Logger
	// OutDir is the fix log directory; the disk provider reports on it.
	OutDir string
}

type Factory func(cfg Config) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, f Factory) {
	name = strings.ToLower(strings.TrimSpace(name))
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("extradata: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("extradata: Register called twice for provider " + name)
	}
	registry[name] = f
}

// Open returns the named provider. "none" and "" return nil, nil.
func Open(name string, cfg Config) (Provider, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "none" {
		return nil, nil
	}
	registryMu.RLock()
	f, ok := registry[key]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (available: none, %s)", ErrUnknownProvider, name, strings.Join(Providers(), ", "))
	}
	return f(cfg)
}

func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Run polls p every interval and hands each message to set until ctx is
// canceled. Provider errors are logged and leave the previous message.
func Run(ctx context.Context, p Provider, interval time.Duration, set func(string), logger zerolog.Logger) {
	if p == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	log := logger.With().Str("component", "extradata").Str("provider", p.Name()).Logger()
	log.Info().Dur("interval", interval).Msg("extra data provider started")

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		msg, err := p.Message(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case err != nil:
			log.Warn().Err(err).Msg("extra data read failed")
		default:
			set(msg)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
