package main

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"pizero-gpslog/internal/config"
)

const (
	fakeVersion = `{"class":"VERSION","release":"3.22","rev":"3.22","proto_major":3,"proto_minor":14}`
	fakeDevices = `{"class":"DEVICES","devices":[{"class":"DEVICE","path":"/dev/ttyACM0","driver":"u-blox","bps":9600}]}`
	fakeWatch   = `{"class":"WATCH","enable":true,"json":false}`
	fakePoll3D  = `{"class":"POLL","time":"2020-01-02T03:04:05.000Z","active":1,"tpv":[{"class":"TPV","device":"/dev/ttyACM0","mode":3,"time":"2020-01-02T03:04:05.000Z","lat":45.5,"lon":-122.9,"alt":100.5,"epx":3.1,"epy":4.2,"epv":7}],"sky":[]}`
)

// serveFakeGPSD answers the handshake and every poll with a 3D fix.
func serveFakeGPSD(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = ln.Close()
		wg.Wait()
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				r := bufio.NewReader(conn)
				write := func(s string) bool {
					_, err := conn.Write([]byte(s + "\n"))
					return err == nil
				}
				if !write(fakeVersion) {
					return
				}
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					switch {
					case strings.HasPrefix(line, "?WATCH"):
						if !write(fakeDevices) || !write(fakeWatch) {
							return
						}
					case strings.HasPrefix(line, "?POLL"):
						if !write(fakePoll3D) {
							return
						}
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func testConfig(t *testing.T, gpsdAddr string) config.Config {
	t.Helper()
	host, port, err := net.SplitHostPort(gpsdAddr)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	var cfg config.Config
	cfg.GPSD.Host = host
	cfg.GPSD.Port = mustAtoi(t, port)
	cfg.Logger.Interval = 10 * time.Millisecond
	cfg.Logger.OutDir = t.TempDir()
	cfg.Log.Level = "info"
	if err := cfg.DefaultAndValidate(); err != nil {
		t.Fatalf("DefaultAndValidate: %v", err)
	}
	return cfg
}

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("Atoi(%q): %v", s, err)
	}
	return n
}

func TestRun_LogsFixesUntilCanceled(t *testing.T) {
	cfg := testConfig(t, serveFakeGPSD(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var stderr syncBuffer
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, &stderr) }()

	want := filepath.Join(cfg.Logger.OutDir, "2020-01-02_03-04-05.json")
	deadline := time.Now().Add(10 * time.Second)
	for {
		b, err := os.ReadFile(want)
		if err == nil && strings.Count(string(b), "\n") >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session file not written; log:\n%s", stderr.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("run did not stop")
	}

	b, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	first := strings.SplitN(string(b), "\n", 2)[0]
	if first != fakePoll3D {
		t.Fatalf("line=%q", first)
	}
	if !strings.Contains(stderr.String(), "starting pizero-gpslog") {
		t.Fatalf("missing startup log:\n%s", stderr.String())
	}
}

func TestRun_CanceledWhileConnecting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := testConfig(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := run(ctx, cfg, &syncBuffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRun_NoReconnectFailsFast(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := testConfig(t, addr)
	off := false
	cfg.GPSD.Reconnect = &off
	if err := run(context.Background(), cfg, &syncBuffer{}); err == nil {
		t.Fatalf("expected connect error")
	}
}

func TestRun_UnknownDisplayDriver(t *testing.T) {
	cfg := testConfig(t, "127.0.0.1:1")
	cfg.Display.Driver = "e-ink"
	err := run(context.Background(), cfg, &syncBuffer{})
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("err=%v", err)
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
