package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"pizero-gpslog/internal/config"
	"pizero-gpslog/internal/display"
	"pizero-gpslog/internal/extradata"
	"pizero-gpslog/internal/fixlog"
	"pizero-gpslog/internal/gpsd"
	"pizero-gpslog/internal/gpslogger"
	"pizero-gpslog/internal/led"
	"pizero-gpslog/internal/metrics"
	"pizero-gpslog/internal/publish"
	"pizero-gpslog/internal/web"
)

// teardown releases what run opened, in order: display and extra data
// workers, LEDs, MQTT, web server, gpsd session. The session file is
// closed by the logging loop before any of these.
type teardown struct {
	stopAux func()
	aux     sync.WaitGroup
	leds    []*led.LED
	pub     *publish.MQTTPublisher
	stopWeb func()
	poller  *gpsd.Poller
	log     zerolog.Logger
}

func (t *teardown) run() {
	if t.stopAux != nil {
		t.stopAux()
		t.aux.Wait()
	}
	for _, l := range t.leds {
		if err := l.Off(); err != nil {
			t.log.Warn().Err(err).Str("led", l.Name()).Msg("led off")
		}
		if err := l.Close(); err != nil {
			t.log.Warn().Err(err).Str("led", l.Name()).Msg("led close")
		}
	}
	if t.pub != nil {
		t.pub.Close()
	}
	if t.stopWeb != nil {
		t.stopWeb()
	}
	if t.poller != nil {
		if err := t.poller.Close(); err != nil {
			t.log.Debug().Err(err).Msg("gpsd close")
		}
	}
}

// run wires the daemon and blocks until ctx is canceled or the logging loop
// fails.
func run(ctx context.Context, cfg config.Config, stderr io.Writer) error {
	var logs *web.LogBuffer
	var tee io.Writer
	if cfg.Web.Enabled() {
		logs = web.NewLogBuffer(2000)
		tee = logs
	}
	log, err := newLogger(cfg.Log, stderr, tee)
	if err != nil {
		return err
	}
	log.Warn().Str("version", version).Str("url", projectURL).Msg("starting pizero-gpslog")

	td := &teardown{log: log}
	defer td.run()

	coll, err := metrics.NewCollector(nil)
	if err != nil {
		return err
	}

	red, err := led.Open("red", cfg.LED.RedPin, log)
	if err != nil {
		return err
	}
	td.leds = append(td.leds, red)
	green, err := led.Open("green", cfg.LED.GreenPin, log)
	if err != nil {
		return err
	}
	td.leds = append(td.leds, green)
	if err := green.On(); err != nil {
		log.Warn().Err(err).Msg("activity led")
	}

	mgr, err := openDisplay(cfg.Display, log)
	if err != nil {
		return err
	}
	mgr.SetFilledText(fmt.Sprintf("pizero-gpslog %s\n%s\nstarting....", version, projectURL))

	provider, err := extradata.Open(cfg.ExtraData.Provider, extradata.Config{Logger: log, OutDir: cfg.Logger.OutDir})
	if err != nil {
		return err
	}
	if provider != nil && cfg.Display.Enabled() && !mgr.ShowsExtraData() {
		log.Warn().Str("provider", provider.Name()).Int("rows", mgr.HeightLines()).
			Msg("display has no row for the extra data line; it is only kept in memory")
	}

	// Display and extra data outlive the loop so the last state stays
	// visible until the session file is closed.
	auxCtx, stopAux := context.WithCancel(context.Background())
	td.stopAux = stopAux
	td.aux.Add(2)
	go func() {
		defer td.aux.Done()
		_ = mgr.Run(auxCtx)
	}()
	go func() {
		defer td.aux.Done()
		extradata.Run(auxCtx, provider, cfg.ExtraData.Interval, mgr.SetExtraData, log)
	}()

	var pub gpslogger.Publisher
	if cfg.MQTT.Enabled() {
		p, err := publish.NewMQTTPublisher(publish.Config{
			Broker:  cfg.MQTT.Broker,
			Topic:   cfg.MQTT.Topic,
			QoS:     byte(cfg.MQTT.QoS),
			Retain:  cfg.MQTT.Retain,
			Timeout: cfg.MQTT.Timeout,
			Logger:  log,
		})
		if err != nil {
			log.Error().Err(err).Msg("mqtt disabled")
		} else {
			pub = p
			td.pub = p
		}
	}

	fixes := web.NewFixBroadcaster()
	var status *web.Status
	if cfg.Web.Enabled() {
		status = web.NewStatus(version, cfg.GPSD.Addr(), cfg.Logger.OutDir, cfg.Logger.Interval)
		stop, err := startWeb(cfg.Web.Listen, web.Handler(status, logs, fixes, coll.Handler()), log)
		if err != nil {
			return err
		}
		td.stopWeb = stop
	}

	poller := gpsd.NewPoller(gpsd.PollerConfig{
		Client: gpsd.ClientConfig{
			Addr:        cfg.GPSD.Addr(),
			DialTimeout: cfg.GPSD.DialTimeout,
			IOTimeout:   cfg.GPSD.IOTimeout,
			Logger:      log,
		},
		Reconnect:      cfg.GPSD.ReconnectEnabled(),
		BackoffInitial: cfg.GPSD.BackoffInitial,
		BackoffMax:     cfg.GPSD.BackoffMax,
		MaxElapsed:     cfg.GPSD.MaxElapsed,
		OnReconnect:    coll.Reconnected,
	})
	td.poller = poller

	log.Info().Str("addr", cfg.GPSD.Addr()).Msg("connecting to gpsd")
	if err := poller.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect gpsd: %w", err)
	}
	if dev, err := poller.Device(); err == nil {
		log.Info().Str("path", dev.Path).Int("bps", dev.BPS).Str("driver", dev.Driver).Msg("gps device")
	}

	out := fixlog.NewWriter(cfg.Logger.OutDir, log)
	svc := gpslogger.New(poller, out, gpslogger.Config{
		Interval:  cfg.Logger.Interval,
		FlushEach: cfg.Logger.FlushEnabled(),
		Alert:     red,
		Activity:  green,
		Display:   mgr,
		Publisher: pub,
		Metrics:   coll,
		OnState:   fixes.Publish,
		Logger:    log,
	})
	if status != nil {
		status.SetStateSource(svc.State)
	}
	log.Info().Str("out_dir", cfg.Logger.OutDir).Dur("interval", cfg.Logger.Interval).Msg("logging fixes")

	if err := svc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("logger stopped")
		return err
	}
	log.Warn().Msg("pizero-gpslog stopping")
	return nil
}

func openDisplay(cfg config.DisplayConfig, log zerolog.Logger) (*display.Manager, error) {
	if !cfg.Enabled() {
		return display.NewManager(nil, cfg.Refresh, log), nil
	}
	drv, err := display.Open(cfg.Driver, display.DriverConfig{
		Logger: log,
		I2CBus: cfg.I2CBus,
		Width:  cfg.Width,
		Height: cfg.Height,
	})
	if err != nil {
		return nil, fmt.Errorf("display: %w", err)
	}
	return display.NewManager(drv, cfg.Refresh, log), nil
}

// startWeb binds addr and serves h in the background. The returned func
// stops the server and waits for it.
func startWeb(addr string, h http.Handler, log zerolog.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("web: listen %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- web.Serve(ctx, ln, h, log) }()
	return func() {
		cancel()
		if err := <-done; err != nil {
			log.Warn().Err(err).Msg("web server")
		}
	}, nil
}
