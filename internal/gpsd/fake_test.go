package gpsd

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	versionLine = `{"class":"VERSION","release":"3.22","rev":"3.22","proto_major":3,"proto_minor":14}`
	devicesLine = `{"class":"DEVICES","devices":[{"class":"DEVICE","path":"/dev/ttyACM0","driver":"u-blox","activated":"2025-01-02T03:04:05.000Z","flags":1,"native":1,"bps":9600,"parity":"N","stopbits":1,"cycle":1.00}]}`
	watchLine   = `{"class":"WATCH","enable":true,"json":false,"nmea":false,"raw":0,"scaled":false,"timing":false,"split24":false,"pps":false}`

	poll3DLine = `{"class":"POLL","time":"2025-06-01T12:00:01.000Z","active":1,"tpv":[{"class":"TPV","device":"/dev/ttyACM0","mode":3,"time":"2025-06-01T12:00:00.000Z","ept":0.005,"lat":45.5,"lon":-122.9,"alt":100.5,"epx":3.1,"epy":4.2,"epv":7.0,"track":270.0,"speed":1.5,"climb":0.2,"eps":0.3,"epc":0.4}],"gst":[{"class":"GST","device":"/dev/ttyACM0"}],"sky":[{"class":"SKY","device":"/dev/ttyACM0","satellites":[{"PRN":1,"used":true},{"PRN":2,"used":false},{"PRN":3,"used":true}]}]}`
)

// fakeServer is the gpsd side of a net.Pipe.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (s *fakeServer) send(line string) {
	_ = s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.WriteString(s.conn, line+"\n"); err != nil {
		s.t.Errorf("fake gpsd write: %v", err)
	}
}

func (s *fakeServer) expect(want string) {
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := s.r.ReadString('\n')
	if err != nil {
		s.t.Errorf("fake gpsd read: %v", err)
		return
	}
	if got != want {
		s.t.Errorf("fake gpsd got %q want %q", got, want)
	}
}

// rest drains the connection until the client closes it.
func (s *fakeServer) rest() string {
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, _ := io.ReadAll(s.r)
	return string(b)
}

func (s *fakeServer) handshake() {
	s.send(versionLine)
	s.expect(watchCommand)
	s.send(devicesLine)
	s.send(watchLine)
}

// startFake runs script on the server end of a pipe and returns the client end.
func startFake(t *testing.T, script func(s *fakeServer)) (net.Conn, <-chan struct{}) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer serverConn.Close()
		script(&fakeServer{t: t, conn: serverConn, r: bufio.NewReader(serverConn)})
	}()
	t.Cleanup(func() {
		_ = clientConn.Close()
		<-done
	})
	return clientConn, done
}

func testClientConfig() ClientConfig {
	return ClientConfig{Addr: "pipe", IOTimeout: 2 * time.Second, Logger: zerolog.Nop()}
}

func newTestClient(t *testing.T, script func(s *fakeServer)) *Client {
	t.Helper()
	conn, _ := startFake(t, script)
	c, err := NewClient(context.Background(), conn, testClientConfig())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func pollLine(mode int, extra string) string {
	var b strings.Builder
	b.WriteString(`{"class":"POLL","active":1,"tpv":[{"class":"TPV","mode":`)
	b.WriteString(string(rune('0' + mode)))
	if extra != "" {
		b.WriteString(",")
		b.WriteString(extra)
	}
	b.WriteString(`}],"sky":[{"class":"SKY"}]}`)
	return b.String()
}

func newReader(conn net.Conn) *bufio.Reader { return bufio.NewReader(conn) }
