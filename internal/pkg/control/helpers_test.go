package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
)

type call struct {
	Method string
	Params string
}

type response struct {
	result string
	err    error
}

// fakeTV is an Invoker with canned responses per service.method
type fakeTV struct {
	t *testing.T

	mu        sync.Mutex
	responses map[string]response
	calls     []call

	// block, if set, is waited on by every call
	block chan struct{}
}

func newFakeTV(t *testing.T) *fakeTV {
	return &fakeTV{t: t, responses: map[string]response{}}
}

func (f *fakeTV) on(service bravia.ServiceName, method, result string) *fakeTV {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.responses[string(service)+"."+method] = response{result: result}
	return f
}

func (f *fakeTV) fail(service bravia.ServiceName, method string, err error) *fakeTV {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.responses[string(service)+"."+method] = response{err: err}
	return f
}

// an active TV showing HDMI 2 at volume 25
func (f *fakeTV) poweredOn() *fakeTV {
	return f.on(bravia.System, "getPowerStatus", `{"status":"active"}`).
		on(bravia.Audio, "getVolumeInformation", `[{"target":"speaker","volume":25,"mute":false},{"target":"headphone","volume":10,"mute":false}]`).
		on(bravia.AVContent, "getPlayingContentInfo", `{"uri":"extInput:hdmi?port=2","source":"extInput:hdmi","title":"HDMI 2"}`).
		on(bravia.System, "setPowerStatus", ``).
		on(bravia.Audio, "setAudioVolume", ``).
		on(bravia.Audio, "setAudioMute", ``).
		on(bravia.AVContent, "setPlayContent", ``)
}

func (f *fakeTV) Invoke(ctx context.Context, service bravia.ServiceName, method, version string, params interface{}) (json.RawMessage, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := call{Method: string(service) + "." + method}
	if params != nil {
		b, err := json.Marshal(params)
		require.NoError(f.t, err)
		c.Params = string(b)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, c)

	r, ok := f.responses[c.Method]
	if !ok {
		return nil, &bravia.RemoteMethodError{Code: 12, Message: "No Such Method"}
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.result == "" {
		return nil, nil
	}
	return json.RawMessage(r.result), nil
}

func (f *fakeTV) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Method)
	}
	return out
}

func (f *fakeTV) callsTo(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// recorder is an Output that keeps everything it is given
type recorder struct {
	mu       sync.Mutex
	sent     []interface{}
	statuses []Status
	errs     []error
}

func (r *recorder) Send(payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, payload)
}

func (r *recorder) Status(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *recorder) Error(err error, cause interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) sentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) lastSent() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func (r *recorder) lastStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return Status{}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recorder) errCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.PollVolume = true
	cfg.PollInput = true
	cfg.PowerOnDelay = 0
	cfg.SettleDelay = 0
	cfg.StatusClearDelay = 20 * time.Millisecond
	return cfg
}

func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
