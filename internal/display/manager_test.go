package display

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	*Grid
	minRefresh time.Duration

	mu      sync.Mutex
	updates int
	cleared bool
	closed  bool
	last    []string
}

func newFakeDriver(width, height int) *fakeDriver {
	return &fakeDriver{Grid: NewGrid(width, height, zerolog.Nop())}
}

func (f *fakeDriver) MinRefresh() time.Duration { return f.minRefresh }

func (f *fakeDriver) Update() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	f.last = f.Lines()
	return nil
}

func (f *fakeDriver) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()
	f.cleared = true
	return nil
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeDriver) state() (int, []string, bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates, append([]string(nil), f.last...), f.cleared, f.closed
}

func TestSetFilledText_WrapsLongLine(t *testing.T) {
	m := NewManager(newFakeDriver(20, 5), time.Second, zerolog.Nop())
	text := "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFGHI"
	require.Len(t, text, 45)

	dropped := m.SetFilledText(text)
	assert.Empty(t, dropped)
	assert.Equal(t, [NumLines]string{
		"abcdefghijklmnopqrst",
		"uvwxyz0123456789ABCD",
		"EFGHI",
		"",
		"",
	}, m.Lines())
}

func TestSetFilledText_ExplicitBreaks(t *testing.T) {
	m := NewManager(nil, time.Second, zerolog.Nop())
	m.SetFilledText("pizero-gpslog 1.0\nhttp://x\nstarting....")
	got := m.Lines()
	assert.Equal(t, "pizero-gpslog 1.0", got[0])
	assert.Equal(t, "http://x", got[1])
	assert.Equal(t, "starting....", got[2])
	assert.Equal(t, "", got[3])
}

func TestSetFilledText_OverflowDropped(t *testing.T) {
	m := NewManager(newFakeDriver(10, 3), time.Second, zerolog.Nop())
	dropped := m.SetFilledText("one\ntwo\nthree\nfour\nfive")
	assert.Equal(t, []string{"four", "five"}, dropped)
	got := m.Lines()
	assert.Equal(t, "three", got[2])
	assert.Equal(t, "", got[3])
	assert.Equal(t, "", got[4])
}

func TestManager_SettersAndClear(t *testing.T) {
	m := NewManager(nil, 0, zerolog.Nop())
	m.SetHeading("h")
	m.SetStatus("s")
	m.SetLat("lat")
	m.SetLon("lon")
	m.SetExtraData("x")
	assert.Equal(t, [NumLines]string{"h", "s", "lat", "lon", "x"}, m.Lines())
	m.Clear()
	assert.Equal(t, [NumLines]string{}, m.Lines())
}

func TestNewManager_RefreshRaisedToDriverMinimum(t *testing.T) {
	d := newFakeDriver(21, 5)
	d.minRefresh = 15 * time.Second
	m := NewManager(d, time.Second, zerolog.Nop())
	assert.Equal(t, 15*time.Second, m.refresh)

	m = NewManager(nil, 0, zerolog.Nop())
	assert.Equal(t, minWriterPeriod, m.refresh)

	fast := newFakeDriver(21, 5)
	fast.minRefresh = 100 * time.Millisecond
	m = NewManager(fast, 100*time.Millisecond, zerolog.Nop())
	assert.Equal(t, time.Second, m.refresh, "writer never runs faster than once a second")
}

func TestNewManager_HeightClampedToLogicalLines(t *testing.T) {
	m := NewManager(newFakeDriver(10, 8), time.Second, zerolog.Nop())
	assert.Equal(t, NumLines, m.HeightLines())
	assert.True(t, m.ShowsExtraData())

	dropped := m.SetFilledText("1\n2\n3\n4\n5\n6\n7")
	assert.Equal(t, []string{"6", "7"}, dropped)

	short := NewManager(newFakeDriver(10, 4), time.Second, zerolog.Nop())
	assert.False(t, short.ShowsExtraData())
	assert.True(t, NewManager(nil, 0, zerolog.Nop()).ShowsExtraData())
}

func TestManager_RunPushesLinesAndCleansUp(t *testing.T) {
	d := newFakeDriver(5, 2)
	m := NewManager(d, 10*time.Millisecond, zerolog.Nop())
	m.refresh = 10 * time.Millisecond
	m.SetHeading("heading-too-long")
	m.SetStatus("ok")
	m.SetLat("hidden")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _, _, _ := d.state()
		return n >= 2
	}, time.Second, 5*time.Millisecond)

	_, last, _, _ := d.state()
	assert.Equal(t, []string{"headi", "ok"}, last)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	_, _, cleared, closed := d.state()
	assert.True(t, cleared)
	assert.True(t, closed)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("e-ink-9000", DriverConfig{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownDriver))
	assert.Contains(t, err.Error(), "dummy")
}

func TestOpen_Dummy(t *testing.T) {
	d, err := Open(" Dummy ", DriverConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Equal(t, 21, d.WidthChars())
	assert.Equal(t, 5, d.HeightLines())
	assert.Equal(t, 15*time.Second, d.MinRefresh())
	d.SetLine(0, "hello")
	d.SetLine(9, "ignored")
	require.NoError(t, d.Update())
	require.NoError(t, d.Clear())
	require.NoError(t, d.Close())
}

func TestRegister_DuplicatePanics(t *testing.T) {
	assert.Panics(t, func() { Register("dummy", newDummy) })
}

func TestFitRows(t *testing.T) {
	// 7x13 face: ascent 11, height 13.
	rows, lineH := fitRows(64, 11, 13)
	assert.Equal(t, NumLines, rows, "128x64 panel shows every logical line")
	assert.Equal(t, 12, lineH)

	rows, lineH = fitRows(32, 11, 13)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 13, lineH)
}
