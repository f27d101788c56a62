package gpsd

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePoll_InactiveIgnoresContents(t *testing.T) {
	cases := []string{
		`{"class":"POLL","active":false,"tpv":[{"mode":3,"lat":1,"lon":2}],"sky":[{"satellites":[{"used":true}]}]}`,
		`{"class":"POLL","active":0,"tpv":[{"mode":3,"lat":1,"lon":2}],"sky":[]}`,
		`{"class":"POLL","tpv":[{"mode":2}],"sky":[{}]}`,
		`{"class":"POLL","active":null,"tpv":[],"sky":[]}`,
	}
	for _, line := range cases {
		fix, err := ParsePoll([]byte(line))
		if !errors.Is(err, ErrNoActiveGPS) {
			t.Fatalf("line=%s err=%v want ErrNoActiveGPS", line, err)
		}
		if fix != nil {
			t.Fatalf("line=%s expected nil fix", line)
		}
	}
}

func TestParsePoll_ActiveAcceptsBoolAndCount(t *testing.T) {
	for _, active := range []string{"true", "1", "2"} {
		line := `{"class":"POLL","active":` + active + `,"tpv":[{"mode":1}],"sky":[{}]}`
		fix, err := ParsePoll([]byte(line))
		require.NoError(t, err, active)
		assert.Equal(t, ModeNoFix, fix.Mode())
	}
}

func TestParsePoll_3DFix(t *testing.T) {
	fix, err := ParsePoll([]byte(poll3DLine))
	require.NoError(t, err)

	assert.Equal(t, Mode3D, fix.Mode())
	assert.Equal(t, 3, fix.sats)
	assert.Equal(t, 2, fix.satsUsed)
	assert.Equal(t, "2025-06-01T12:00:00.000Z", fix.timestamp)
	assert.Equal(t, ErrorEstimate{C: 0.4, S: 0.3, T: 0.005, V: 7.0, X: 3.1, Y: 4.2}, fix.errs)

	lat, lon, err := fix.Position()
	require.NoError(t, err)
	assert.InDelta(t, 45.5, lat, 1e-9)
	assert.InDelta(t, -122.9, lon, 1e-9)

	alt, err := fix.Altitude()
	require.NoError(t, err)
	assert.InDelta(t, 100.5, alt, 1e-9)

	mv, err := fix.Movement()
	require.NoError(t, err)
	assert.Equal(t, Movement{Speed: 1.5, Track: 270.0, Climb: 0.2}, mv)

	h, v, err := fix.PositionPrecision()
	require.NoError(t, err)
	assert.InDelta(t, 4.2, h, 1e-9)
	assert.InDelta(t, 7.0, v, 1e-9)

	ts, err := fix.Time()
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	url, err := fix.MapURL()
	require.NoError(t, err)
	assert.Equal(t, "http://www.openstreetmap.org/?mlat=45.5&mlon=-122.9&zoom=15", url)
	assert.Equal(t, "<Fix 3D 45.5 -122.9 (100.5 m)>", fix.String())
}

func TestParsePoll_LastReportWins(t *testing.T) {
	line := `{"class":"POLL","active":1,` +
		`"tpv":[{"mode":3,"lat":1,"lon":1,"time":"2025-01-01T00:00:00Z"},{"mode":2,"lat":2,"lon":3,"time":"2025-01-01T00:00:01Z"}],` +
		`"sky":[{"satellites":[{"used":true},{"used":true}]},{"satellites":[{"used":false}]}]}`
	fix, err := ParsePoll([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, Mode2D, fix.Mode())
	assert.Equal(t, 1, fix.sats)
	assert.Equal(t, 0, fix.satsUsed)
	lat, lon, err := fix.Position()
	require.NoError(t, err)
	assert.Equal(t, 2.0, lat)
	assert.Equal(t, 3.0, lon)
}

func TestParsePoll_SkyWithoutSatellites(t *testing.T) {
	fix, err := ParsePoll([]byte(pollLine(3, `"lat":1,"lon":2`)))
	require.NoError(t, err)
	assert.Equal(t, 0, fix.sats)
	assert.Equal(t, 0, fix.satsUsed)
}

func TestParsePoll_NoFixAccessorsFail(t *testing.T) {
	for _, mode := range []int{0, 1} {
		fix, err := ParsePoll([]byte(pollLine(mode, `"lat":1,"lon":2,"alt":3`)))
		require.NoError(t, err)
		assert.Equal(t, Mode(mode), fix.Mode())
		assert.Zero(t, fix.lat)

		_, _, err = fix.Position()
		assert.ErrorIs(t, err, ErrNoFix)
		_, err = fix.Altitude()
		assert.ErrorIs(t, err, ErrNoFix)
		_, err = fix.Movement()
		assert.ErrorIs(t, err, ErrNoFix)
		_, err = fix.Speed()
		assert.ErrorIs(t, err, ErrNoFix)
		_, err = fix.SpeedVertical()
		assert.ErrorIs(t, err, ErrNoFix)
		_, _, err = fix.PositionPrecision()
		assert.ErrorIs(t, err, ErrNoFix)
		_, err = fix.Time()
		assert.ErrorIs(t, err, ErrNoFix)
	}
}

func TestFix_AccessorsGateByMode(t *testing.T) {
	noFix, err := ParsePoll([]byte(`{"class":"POLL","active":1,"tpv":[{"mode":1,"track":90,"time":"2020-01-02T03:04:05Z"}],"sky":[{"satellites":[{"used":true},{"used":false}]}]}`))
	require.NoError(t, err)
	used, visible := noFix.Satellites()
	assert.Equal(t, 1, used, "satellites are reported without a fix")
	assert.Equal(t, 2, visible)
	_, err = noFix.Track()
	assert.ErrorIs(t, err, ErrNoFix)
	_, err = noFix.Timestamp()
	assert.ErrorIs(t, err, ErrNoFix)

	fix2D, err := ParsePoll([]byte(pollLine(2, `"track":90,"time":"2020-01-02T03:04:05Z"`)))
	require.NoError(t, err)
	track, err := fix2D.Track()
	require.NoError(t, err)
	assert.Equal(t, 90.0, track)
	ts, err := fix2D.Timestamp()
	require.NoError(t, err)
	assert.Equal(t, "2020-01-02T03:04:05Z", ts)

	var nilFix *Fix
	assert.Equal(t, ModeNoData, nilFix.Mode())
	used, visible = nilFix.Satellites()
	assert.Zero(t, used)
	assert.Zero(t, visible)
}

func TestParsePoll_2DFixRefusesAltitude(t *testing.T) {
	fix, err := ParsePoll([]byte(pollLine(2, `"lat":1.5,"lon":2.5,"alt":300,"climb":4,"epv":9,"epc":2`)))
	require.NoError(t, err)

	lat, lon, err := fix.Position()
	require.NoError(t, err)
	assert.Equal(t, 1.5, lat)
	assert.Equal(t, 2.5, lon)

	_, err = fix.Altitude()
	var tooLow *FixTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, Mode2D, tooLow.Have)
	assert.Equal(t, Mode3D, tooLow.Need)

	_, err = fix.Movement()
	assert.ErrorIs(t, err, ErrNoFix)

	// 3D-only values are not taken from a 2D report.
	assert.Zero(t, fix.alt)
	assert.Zero(t, fix.climb)
	assert.Zero(t, fix.errs.V)
	assert.Zero(t, fix.errs.C)

	_, v, err := fix.PositionPrecision()
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestParsePoll_3DMissingFieldsDefaultToZero(t *testing.T) {
	fix, err := ParsePoll([]byte(pollLine(3, `"lat":1,"lon":2`)))
	require.NoError(t, err)
	alt, err := fix.Altitude()
	require.NoError(t, err)
	assert.Zero(t, alt)
	assert.Zero(t, fix.errs.V)
	assert.Equal(t, "", fix.timestamp)
}

func TestSpeed_NoiseGate(t *testing.T) {
	cases := []struct {
		name   string
		speed  float64
		eps    float64
		expect float64
	}{
		{"below", 0.29, 0.3, 0},
		{"boundary", 0.3, 0.3, 0.3},
		{"above", 2.0, 0.3, 2.0},
		{"no estimate", 0.01, 0, 0.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, _ := json.Marshal(map[string]any{"mode": 2, "speed": tc.speed, "eps": tc.eps})
			line := `{"class":"POLL","active":true,"tpv":[` + string(b) + `],"sky":[]}`
			fix, err := ParsePoll([]byte(line))
			require.NoError(t, err)
			got, err := fix.Speed()
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestSpeedVertical_SignInsensitiveGate(t *testing.T) {
	cases := []struct {
		climb  float64
		epc    float64
		expect float64
	}{
		{-0.05, 0.1, 0},
		{0.05, 0.1, 0},
		{-0.1, 0.1, -0.1},
		{-2.5, 0.1, -2.5},
		{1.0, 0.1, 1.0},
	}
	for _, tc := range cases {
		b, _ := json.Marshal(map[string]any{"mode": 3, "climb": tc.climb, "epc": tc.epc})
		line := `{"class":"POLL","active":true,"tpv":[` + string(b) + `],"sky":[]}`
		fix, err := ParsePoll([]byte(line))
		require.NoError(t, err)
		got, err := fix.SpeedVertical()
		require.NoError(t, err)
		if math.Abs(got-tc.expect) > 1e-12 {
			t.Fatalf("climb=%v epc=%v got=%v want=%v", tc.climb, tc.epc, got, tc.expect)
		}
	}
}

func TestFix_RawRoundTrip(t *testing.T) {
	fix, err := ParsePoll([]byte(poll3DLine + "\n"))
	require.NoError(t, err)

	var want, got map[string]any
	require.NoError(t, json.Unmarshal([]byte(poll3DLine), &want))
	require.NoError(t, json.Unmarshal(fix.Raw(), &got))
	assert.Equal(t, want, got)

	// Raw hands out a copy.
	raw := fix.Raw()
	raw[0] = 'X'
	assert.Equal(t, byte('{'), fix.Raw()[0])
}

func TestParsePoll_Errors(t *testing.T) {
	_, err := ParsePoll([]byte(`{"class":"POLL",`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.True(t, IsFatal(err))

	_, err = ParsePoll([]byte(`{"class":"ERROR","message":"unrecognized request"}`))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "ERROR", pe.Class)
	assert.True(t, IsFatal(err))

	assert.False(t, IsFatal(ErrNoActiveGPS))
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "no data", ModeNoData.String())
	assert.Equal(t, "2D fix", Mode2D.String())
	assert.Equal(t, "mode 7", Mode(7).String())
	assert.Equal(t, "<Fix no fix>", (&Fix{mode: ModeNoFix}).String())
}
