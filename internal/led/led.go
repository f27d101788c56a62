// Package led drives the status LEDs.
//
// An LED with no pin configured (pin <= 0) only logs its transitions, which
// keeps the daemon usable on a workstation or a Pi without LEDs wired.
package led

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrUnboundedBlink rejects a blink that would never return.
var ErrUnboundedBlink = errors.New("led: blink needs a positive count")

// output is the digital line behind an LED.
type output interface {
	SetValue(v int) error
	Close() error
}

type LED struct {
	name string
	pin  int
	log  zerolog.Logger

	mu  sync.Mutex
	out output
	lit bool

	// gen identifies the current blink; any other state change bumps it so a
	// running pattern stops touching the line.
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Open claims BCM GPIO pin as an output, initially off.
func Open(name string, pin int, logger zerolog.Logger) (*LED, error) {
	l := &LED{
		name: name,
		pin:  pin,
		log:  logger.With().Str("component", "led").Str("led", name).Int("pin", pin).Logger(),
	}
	if pin <= 0 {
		l.out = logOutput{log: l.log}
		l.log.Info().Msg("no pin configured; led is log only")
		return l, nil
	}
	out, err := openGPIOFn(pin, "pizero-gpslog-"+name)
	if err != nil {
		return nil, err
	}
	l.out = out
	l.log.Info().Msg("led initialized")
	return l, nil
}

func (l *LED) Name() string { return l.name }

// On, Off and Toggle stop a running blink.
func (l *LED) On() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopBlinkLocked()
	return l.setLocked(true)
}

func (l *LED) Off() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopBlinkLocked()
	return l.setLocked(false)
}

func (l *LED) Toggle() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopBlinkLocked()
	return l.setLocked(!l.lit)
}

func (l *LED) IsLit() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lit
}

// Blink starts flashing the LED n times in the background and returns
// without waiting. The pattern ends with the LED off. A later On, Off,
// Toggle, Blink or Close replaces it, and canceling ctx stops it.
func (l *LED) Blink(ctx context.Context, onTime, offTime time.Duration, n int) error {
	if n <= 0 {
		return ErrUnboundedBlink
	}
	if onTime < 0 || offTime < 0 {
		return fmt.Errorf("led: negative blink timing on=%s off=%s", onTime, offTime)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return fmt.Errorf("led %s: closed", l.name)
	}
	l.stopBlinkLocked()
	bctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done
	l.log.Debug().Dur("on", onTime).Dur("off", offTime).Int("n", n).Msg("blink")
	go l.blink(bctx, l.gen, done, onTime, offTime, n)
	return nil
}

func (l *LED) blink(ctx context.Context, gen uint64, done chan struct{}, onTime, offTime time.Duration, n int) {
	defer close(done)
	for i := 0; i < n; i++ {
		if !l.setIfCurrent(gen, true) {
			return
		}
		if !sleepCtx(ctx, onTime) {
			l.setIfCurrent(gen, false)
			return
		}
		if !l.setIfCurrent(gen, false) {
			return
		}
		if i < n-1 && !sleepCtx(ctx, offTime) {
			return
		}
	}
}

// setIfCurrent drives the line only while gen is still the active blink.
func (l *LED) setIfCurrent(gen uint64, on bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || l.out == nil {
		return false
	}
	if err := l.setLocked(on); err != nil {
		l.log.Warn().Err(err).Msg("blink stopped")
		return false
	}
	return true
}

func (l *LED) stopBlinkLocked() {
	l.gen++
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// blinkDone is closed when the latest blink goroutine has returned.
func (l *LED) blinkDone() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		c := make(chan struct{})
		close(c)
		return c
	}
	return l.done
}

// Close turns the LED off and releases the line.
func (l *LED) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	l.stopBlinkLocked()
	_ = l.setLocked(false)
	err := l.out.Close()
	l.out = nil
	return err
}

func (l *LED) setLocked(on bool) error {
	if l.out == nil {
		return fmt.Errorf("led %s: closed", l.name)
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.out.SetValue(v); err != nil {
		return fmt.Errorf("led %s: set value: %w", l.name, err)
	}
	l.lit = on
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type logOutput struct {
	log zerolog.Logger
}

func (o logOutput) SetValue(v int) error {
	if v != 0 {
		o.log.Debug().Msg("ON")
	} else {
		o.log.Debug().Msg("OFF")
	}
	return nil
}

func (o logOutput) Close() error { return nil }
