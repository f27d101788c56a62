package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Handler wires the API. logs, fixes and metrics are optional.
func Handler(status *Status, logs *LogBuffer, fixes *FixBroadcaster, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})
	mux.Handle("/api/about", aboutHandler(status.version))
	mux.Handle("/api/fix/stream", fixStreamHandler(fixes))
	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if !allowGet(w, r) {
			return
		}
		snap := status.Snapshot(time.Now().UTC())
		st := snap.State
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<!doctype html><html><head><meta charset=\"utf-8\"><title>pizero-gpslog</title></head><body>")
		_, _ = fmt.Fprintf(w, "<h1>pizero-gpslog %s</h1>", html.EscapeString(snap.Version))
		_, _ = fmt.Fprintf(w, "<pre>gpsd=%s\nmode=%s\nsats=%d/%d\nlat=%.6f lon=%.6f\nfile=%s\nlines_written=%d\npolls=%d</pre>",
			html.EscapeString(snap.GPSD), html.EscapeString(st.ModeName), st.SatsUsed, st.Sats,
			st.Lat, st.Lon, html.EscapeString(st.File), st.LinesWritten, st.Polls,
		)
		if st.MapURL != "" {
			_, _ = fmt.Fprintf(w, "<p><a href=\"%s\">map</a></p>", html.EscapeString(st.MapURL))
		}
		_, _ = fmt.Fprintf(w, "<p><a href=\"/api/status\">/api/status</a> <a href=\"/api/logs?format=text\">/api/logs</a></p>")
		_, _ = fmt.Fprintf(w, "</body></html>")
	})

	return mux
}

// Serve runs the HTTP server on ln until ctx is canceled.
func Serve(ctx context.Context, ln net.Listener, h http.Handler, logger zerolog.Logger) error {
	log := logger.With().Str("component", "web").Logger()
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		// Request contexts end with ctx so open fix streams return on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("web server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("web shutdown")
			_ = srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
