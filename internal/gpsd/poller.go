package gpsd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// ErrDisconnected wraps socket errors that dropped the gpsd session. The
// next Poll reconnects.
var ErrDisconnected = errors.New("gpsd: session lost")

type PollerConfig struct {
	Client ClientConfig

	// Reconnect enables reconnect with exponential backoff. When false the
	// first socket error is returned as is.
	Reconnect bool

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// MaxElapsed bounds one reconnect attempt series; 0 retries until the
	// context is canceled.
	MaxElapsed time.Duration

	// OnReconnect is called after every successful connect but the first.
	OnReconnect func()
}

// Poller owns a Client and replaces it when the connection fails.
type Poller struct {
	cfg  PollerConfig
	log  zerolog.Logger
	dial func(ctx context.Context, cfg ClientConfig) (*Client, error)

	mu       sync.Mutex
	client   *Client
	sessions int
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	cfg.Client = cfg.Client.withDefaults()
	return &Poller{
		cfg:  cfg,
		log:  cfg.Client.Logger.With().Str("component", "gpsd").Str("addr", cfg.Client.Addr).Logger(),
		dial: Dial,
	}
}

// Connect opens the session if there is none.
func (p *Poller) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.sessionLocked(ctx)
	return err
}

// Poll returns the current fix, connecting first if needed.
func (p *Poller) Poll(ctx context.Context) (*Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.sessionLocked(ctx)
	if err != nil {
		return nil, err
	}
	fix, err := c.Poll(ctx)
	if err == nil || errors.Is(err, ErrNoActiveGPS) || IsFatal(err) || ctx.Err() != nil {
		return fix, err
	}

	_ = c.Close()
	p.client = nil
	if !p.cfg.Reconnect {
		return nil, err
	}
	p.log.Warn().Err(err).Msg("gpsd session lost")
	return nil, fmt.Errorf("%w: %w", ErrDisconnected, err)
}

// Device reports the receiver of the current session.
func (p *Poller) Device() (DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return DeviceInfo{}, fmt.Errorf("gpsd: not connected")
	}
	return p.client.Device()
}

func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

func (p *Poller) sessionLocked(ctx context.Context) (*Client, error) {
	if p.client != nil {
		return p.client, nil
	}

	var (
		c   *Client
		err error
	)
	if !p.cfg.Reconnect {
		c, err = p.dial(ctx, p.cfg.Client)
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = p.cfg.BackoffInitial
		b.MaxInterval = p.cfg.BackoffMax

		c, err = backoff.Retry(ctx, func() (*Client, error) {
			c, err := p.dial(ctx, p.cfg.Client)
			if err != nil && IsFatal(err) {
				return nil, backoff.Permanent(err)
			}
			return c, err
		},
			backoff.WithBackOff(b),
			backoff.WithMaxElapsedTime(p.cfg.MaxElapsed),
			backoff.WithNotify(func(err error, next time.Duration) {
				p.log.Warn().Err(err).Dur("retry_in", next).Msg("gpsd connect failed")
			}),
		)
	}
	if err != nil {
		return nil, err
	}

	p.client = c
	p.sessions++
	if p.sessions > 1 {
		p.log.Info().Int("session", p.sessions).Msg("gpsd reconnected")
		if p.cfg.OnReconnect != nil {
			p.cfg.OnReconnect()
		}
	}
	return c, nil
}
