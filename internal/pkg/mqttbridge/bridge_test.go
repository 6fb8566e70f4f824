package mqttbridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu       sync.Mutex
	payloads []string
	done     chan struct{}
	want     int
}

func (h *recordingHandler) Handle(ctx context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.payloads = append(h.payloads, string(payload))
	if len(h.payloads) == h.want {
		close(h.done)
	}
	return nil
}

func TestTopics(t *testing.T) {
	cfg := Config{Name: "lounge"}
	assert.Equal(t, "devices/lounge/state", cfg.StateTopic())
	assert.Equal(t, "devices/lounge/command", cfg.CommandTopic())

	cfg.Prefix = "home/tv"
	assert.Equal(t, "home/tv/lounge/status", cfg.StatusTopic())
	assert.Equal(t, "home/tv/lounge/error", cfg.ErrorTopic())
}

func TestNewDefaults(t *testing.T) {
	b := New(Config{Name: "lounge"})
	assert.Equal(t, uint16(DefaultKeepAlive), b.cfg.KeepAlive)
	assert.Equal(t, "bravia-control-lounge", b.cfg.ClientID)
}

func TestCommandsDispatchedInOrder(t *testing.T) {
	h := &recordingHandler{done: make(chan struct{}), want: 2}
	b := New(Config{Name: "lounge"})

	handled, err := b.onPublish(paho.PublishReceived{Packet: &paho.Publish{
		Topic:   "devices/lounge/state",
		Payload: []byte(`{"power":true}`),
	}})
	require.NoError(t, err)
	assert.False(t, handled)

	for _, p := range []string{`{"power":true}`, `{"volume":"+5"}`} {
		handled, err := b.onPublish(paho.PublishReceived{Packet: &paho.Publish{
			Topic:   "devices/lounge/command",
			Payload: []byte(p),
		}})
		require.NoError(t, err)
		assert.True(t, handled)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.dispatch(ctx, h)

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("commands not dispatched")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{`{"power":true}`, `{"volume":"+5"}`}, h.payloads)
}

func TestEncode(t *testing.T) {
	body, err := encode(json.RawMessage(`{"status":"active"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"status":"active"}`, string(body))

	body, err = encode(json.RawMessage(nil))
	require.NoError(t, err)
	assert.Equal(t, "null", string(body))

	body, err = encode(map[string]bool{"power": false})
	require.NoError(t, err)
	assert.JSONEq(t, `{"power":false}`, string(body))
}

func TestOutputWithoutConnection(t *testing.T) {
	b := New(Config{Name: "lounge"})

	assert.NotPanics(t, func() {
		b.Send(map[string]bool{"power": true})
		b.Error(assert.AnError, nil)
	})
}
