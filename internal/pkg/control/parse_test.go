package control

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
)

func TestParseInput(t *testing.T) {
	input, ok := ParseInput("extInput:hdmi?port=2")
	require.True(t, ok)
	assert.Equal(t, "hdmi2", input)

	input, ok = ParseInput("extInput:composite?port=1")
	require.True(t, ok)
	assert.Equal(t, "composite1", input)

	_, ok = ParseInput("tv:dvbt?trip=9018.4161.10304&srvName=BBC ONE")
	assert.False(t, ok)
	_, ok = ParseInput("")
	assert.False(t, ok)
}

func TestInputRoundTrip(t *testing.T) {
	for _, class := range []string{"hdmi", "composite", "component", "scart", "widi"} {
		for port := 1; port <= 12; port++ {
			id := fmt.Sprintf("%s%d", class, port)

			uri, ok := BuildInputURI(id)
			require.True(t, ok, id)
			assert.Equal(t, fmt.Sprintf("extInput:%s?port=%d", class, port), uri)

			back, ok := ParseInput(uri)
			require.True(t, ok, uri)
			assert.Equal(t, id, back)
		}
	}
}

func TestBuildInputURIRejects(t *testing.T) {
	for _, id := range []string{"", "hdmi", "2", "app", "hdmi-2"} {
		_, ok := BuildInputURI(id)
		assert.False(t, ok, id)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind FailureKind
		code string
		text string
	}{
		{context.DeadlineExceeded, Timeout, "", "context deadline exceeded"},
		{errors.Wrap(context.Canceled, "POST /system"), Timeout, "", "POST /system: context canceled"},
		{errors.New("dial tcp 10.0.0.5:80: connect: connection refused"), Timeout, "", "dial tcp 10.0.0.5:80: connect: connection refused"},
		{errors.New("request aborted"), Timeout, "", "request aborted"},
		{&bravia.RemoteMethodError{Code: 7, Message: "Illegal State"}, Generic, "7", "[7] Illegal State (code:..."},
		{errors.New("boom"), Generic, "", "boom"},
		{errors.New(""), Generic, "", "Unknown error"},
		{nil, Generic, "", "Unknown error"},
	}

	for _, tt := range tests {
		f := Classify(tt.err)
		assert.Equal(t, tt.kind, f.Kind, "%v", tt.err)
		assert.Equal(t, tt.code, f.Code, "%v", tt.err)
		assert.Equal(t, tt.text, f.Text, "%v", tt.err)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		cmd     *Command
		pollNow bool
	}{
		{`true`, nil, true},
		{`false`, nil, false},
		{`{}`, nil, true},
		{` "hello" `, nil, false},
		{`42`, nil, false},
		{`[1,2]`, nil, false},
		{`{"power":true}`, &Command{Power: boolPtr(true)}, false},
		{`{"volume":15,"mute":false}`, &Command{Volume: volumePtr("15"), Mute: boolPtr(false)}, false},
		{`{"volume":"+2"}`, &Command{Volume: volumePtr("+2")}, false},
		{`{"input":"hdmi3"}`, &Command{Input: strPtr("hdmi3")}, false},
		{`{"unknown":1}`, &Command{}, false},
	}

	for _, tt := range tests {
		cmd, pollNow, err := ParseCommand([]byte(tt.payload))
		require.NoError(t, err, tt.payload)
		assert.Equal(t, tt.cmd, cmd, tt.payload)
		assert.Equal(t, tt.pollNow, pollNow, tt.payload)
	}

	for _, bad := range []string{`{"power":`, `{"volume":true}`, `{"power":"yes"}`, ``} {
		_, _, err := ParseCommand([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func volumePtr(v string) *Volume {
	vol := Volume(v)
	return &vol
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 10*time.Second, Interval{Value: 10, Unit: "seconds"}.Duration())
	assert.Equal(t, 2*time.Minute, Interval{Value: 2, Unit: "minutes"}.Duration())
	assert.Equal(t, time.Hour, Interval{Value: 1, Unit: "Hours"}.Duration())
	assert.Equal(t, 5*time.Second, Interval{Value: 5, Unit: "fortnights"}.Duration())
	assert.Equal(t, time.Duration(0), Interval{Value: 0, Unit: "seconds"}.Duration())
	assert.Equal(t, 120, Interval{Value: 2, Unit: "minutes"}.retrySeconds())
}

func TestParseOutputMode(t *testing.T) {
	assert.Equal(t, OutputAlways, ParseOutputMode("always"))
	assert.Equal(t, OutputAlways, ParseOutputMode("ALWAYS"))
	assert.Equal(t, OutputChange, ParseOutputMode("change"))
	assert.Equal(t, OutputChange, ParseOutputMode(""))
}

func TestSchedulerDropsBusyTicks(t *testing.T) {
	s := newScheduler("test")
	ran := 0

	require.True(t, s.tryAcquire())
	s.tick(func() { ran++ })
	assert.Equal(t, 0, ran)

	s.release()
	s.tick(func() { ran++ })
	assert.Equal(t, 1, ran)
}

func TestSchedulerAcquireHonoursContext(t *testing.T) {
	s := newScheduler("test")
	require.NoError(t, s.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, context.Canceled, s.acquire(ctx))

	s.release()
	assert.True(t, s.tryAcquire())
}

func TestIntervalSchedule(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(1500*time.Millisecond), intervalSchedule(1500*time.Millisecond).Next(now))
}
