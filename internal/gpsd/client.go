package gpsd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

const (
	DefaultAddr = "127.0.0.1:2947"

	defaultDialTimeout = 2 * time.Second
	defaultIOTimeout   = 5 * time.Second

	// POLL replies carry every cached TPV/SKY/GST report; leave headroom.
	maxLineBytes = 256 * 1024

	watchCommand = "?WATCH={\"enable\":true}\n"
	pollCommand  = "?POLL;\n"
)

var minRelease = semver.MustParse("3.0.0")

// ClientConfig controls one gpsd session.
type ClientConfig struct {
	Addr string

	DialTimeout time.Duration
	// IOTimeout bounds each request/response round trip. A context deadline
	// that expires sooner wins.
	IOTimeout time.Duration

	Logger zerolog.Logger
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = defaultIOTimeout
	}
	return cfg
}

// Version is the VERSION banner gpsd sends on connect.
type Version struct {
	Release    string `json:"release"`
	Rev        string `json:"rev"`
	ProtoMajor int    `json:"proto_major"`
	ProtoMinor int    `json:"proto_minor"`
}

// DeviceInfo describes one receiver from the DEVICES message.
type DeviceInfo struct {
	Path   string `json:"path"`
	BPS    int    `json:"bps"`
	Driver string `json:"driver"`
}

type classOnly struct {
	Class string `json:"class"`
}

type devicesReport struct {
	Devices []DeviceInfo `json:"devices"`
}

// Client is a synchronous gpsd session: one request, one reply line, no
// pipelining. Round trips are serialized.
type Client struct {
	cfg  ClientConfig
	log  zerolog.Logger
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	mu      sync.Mutex
	version Version
	devices []DeviceInfo
	watch   json.RawMessage
}

// Dial connects to gpsd and completes the VERSION/WATCH handshake.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	cfg = cfg.withDefaults()
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	cfg.Logger.Debug().Str("addr", cfg.Addr).Msg("connecting to gpsd")
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("gpsd dial %s: %w", cfg.Addr, err)
	}
	c, err := NewClient(ctx, conn, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewClient runs the handshake over an already open connection. The client
// owns conn afterwards.
func NewClient(ctx context.Context, conn net.Conn, cfg ClientConfig) (*Client, error) {
	if conn == nil {
		return nil, fmt.Errorf("gpsd: conn is nil")
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("component", "gpsd").Str("addr", cfg.Addr).Logger(),
		conn: conn,
		r:    bufio.NewReaderSize(conn, 4096),
		w:    bufio.NewWriter(conn),
	}
	if err := c.handshake(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := c.arm(ctx)
	defer stop()

	c.log.Debug().Msg("waiting for welcome message")
	line, class, err := c.readMessage(ctx)
	if err != nil {
		return err
	}
	if class != "VERSION" {
		return &ProtocolError{Step: "handshake", Class: class, Want: []string{"VERSION"}}
	}
	var v Version
	if err := json.Unmarshal(line, &v); err != nil {
		return &DecodeError{Line: line, Err: err}
	}
	if err := checkVersion(v); err != nil {
		return err
	}
	c.version = v
	c.log.Info().Str("release", v.Release).Int("proto_major", v.ProtoMajor).Int("proto_minor", v.ProtoMinor).Msg("gpsd connected")

	c.log.Debug().Msg("enabling watch")
	if err := c.send(ctx, watchCommand); err != nil {
		return err
	}

	for i := 0; i < 2; i++ {
		line, class, err := c.readMessage(ctx)
		if err != nil {
			return err
		}
		switch class {
		case "DEVICES":
			var rep devicesReport
			if err := json.Unmarshal(line, &rep); err != nil {
				return &DecodeError{Line: line, Err: err}
			}
			if len(rep.Devices) == 0 {
				c.log.Warn().Msg("no gps devices found")
			}
			c.devices = rep.Devices
		case "WATCH":
			c.watch = append(json.RawMessage(nil), line...)
		default:
			return &ProtocolError{Step: "handshake", Class: class, Want: []string{"DEVICES", "WATCH"}}
		}
	}
	return nil
}

func checkVersion(v Version) error {
	if v.ProtoMajor != 0 && v.ProtoMajor < 3 {
		return &ProtocolError{Step: "handshake", Class: "VERSION", Msg: fmt.Sprintf("protocol %d.%d is older than 3; is the server gpsd 3 or newer?", v.ProtoMajor, v.ProtoMinor)}
	}
	if v.Release == "" {
		return nil
	}
	rel, err := semver.NewVersion(v.Release)
	if err != nil {
		// Distribution builds append suffixes semver can not always parse.
		return nil
	}
	if rel.LessThan(minRelease) {
		return &ProtocolError{Step: "handshake", Class: "VERSION", Msg: fmt.Sprintf("gpsd release %s is older than %s", v.Release, minRelease)}
	}
	return nil
}

// Poll asks gpsd for the current fix.
func (c *Client) Poll(ctx context.Context) (*Fix, error) {
	if c == nil {
		return nil, fmt.Errorf("gpsd client is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stop := c.arm(ctx)
	defer stop()

	c.log.Debug().Msg("polling gps")
	if err := c.send(ctx, pollCommand); err != nil {
		return nil, err
	}
	line, err := c.readLine(ctx)
	if err != nil {
		return nil, err
	}
	return ParsePoll(line)
}

// Version returns the banner received during the handshake.
func (c *Client) Version() Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Devices returns the device list from the handshake.
func (c *Client) Devices() []DeviceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DeviceInfo(nil), c.devices...)
}

// Watch returns the WATCH echo from the handshake.
func (c *Client) Watch() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(json.RawMessage(nil), c.watch...)
}

// Device returns the receiver gpsd is using (the first one reported).
func (c *Client) Device() (DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.devices) == 0 {
		return DeviceInfo{}, fmt.Errorf("gpsd: no devices reported")
	}
	return c.devices[0], nil
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// arm sets the I/O deadline for one round trip and makes ctx cancellation
// interrupt a blocked read or write.
func (c *Client) arm(ctx context.Context) (stop func()) {
	deadline := time.Now().Add(c.cfg.IOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetDeadline(deadline)
	unregister := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { unregister() }
}

func (c *Client) send(ctx context.Context, cmd string) error {
	if _, err := c.w.WriteString(cmd); err != nil {
		return c.ioErr(ctx, "write", err)
	}
	if err := c.w.Flush(); err != nil {
		return c.ioErr(ctx, "write", err)
	}
	return nil
}

func (c *Client) readLine(ctx context.Context) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			return nil, fmt.Errorf("gpsd: line exceeds %d bytes", maxLineBytes)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, c.ioErr(ctx, "read", err)
	}
	return bytes.TrimSpace(buf), nil
}

func (c *Client) readMessage(ctx context.Context) ([]byte, string, error) {
	line, err := c.readLine(ctx)
	if err != nil {
		return nil, "", err
	}
	var base classOnly
	if err := json.Unmarshal(line, &base); err != nil {
		return nil, "", &DecodeError{Line: line, Err: err}
	}
	return line, base.Class, nil
}

func (c *Client) ioErr(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("gpsd %s: %w", op, ctxErr)
	}
	return fmt.Errorf("gpsd %s: %w", op, err)
}
