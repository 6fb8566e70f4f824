package mqttbridge

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/jake-scott/bravia-control/internal/pkg/control"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

/*
 * Bridge connects a controller to an MQTT broker.  Emitted states are
 * published retained to {prefix}/{name}/state so a late subscriber sees the
 * current state, status text goes to {prefix}/{name}/status and failures to
 * {prefix}/{name}/error.  Payloads received on {prefix}/{name}/command are
 * handed to the controller one at a time, in arrival order.
 */

const (
	DefaultPrefix    = "devices"
	DefaultKeepAlive = 20
	publishTimeout   = 5 * time.Second
	commandBacklog   = 16
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string

	Prefix string
	Name   string

	KeepAlive uint16
	QoS       byte
}

func (c Config) topic(leaf string) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "/" + c.Name + "/" + leaf
}

func (c Config) StateTopic() string   { return c.topic("state") }
func (c Config) StatusTopic() string  { return c.topic("status") }
func (c Config) ErrorTopic() string   { return c.topic("error") }
func (c Config) CommandTopic() string { return c.topic("command") }

// Handler consumes command payloads
type Handler interface {
	Handle(ctx context.Context, payload []byte) error
}

type Bridge struct {
	cfg Config

	commands chan []byte

	mu sync.RWMutex
	cm *autopaho.ConnectionManager
}

func New(cfg Config) *Bridge {
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "bravia-control-" + cfg.Name
	}

	return &Bridge{
		cfg:      cfg,
		commands: make(chan []byte, commandBacklog),
	}
}

func (b *Bridge) clientConfig(u *url.URL) autopaho.ClientConfig {
	ctxLogger := logging.Logger(nil).WithField("broker", b.cfg.Broker)

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		KeepAlive:                     b.cfg.KeepAlive,
		CleanStartOnInitialConnection: false,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			ctxLogger.Info("mqtt connection up")

			// subscribing here re-establishes the subscription after a reconnect
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{
					{Topic: b.cfg.CommandTopic(), QoS: b.cfg.QoS},
				},
			}); err != nil {
				ctxLogger.WithError(err).Errorf("subscribing to %s", b.cfg.CommandTopic())
			}
		},
		OnConnectError: func(err error) {
			ctxLogger.WithError(err).Warn("mqtt connection attempt failed")
		},
		ClientConfig: paho.ClientConfig{
			ClientID:          b.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){b.onPublish},
			OnClientError: func(err error) {
				ctxLogger.WithError(err).Error("mqtt client error")
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				if d.Properties != nil {
					ctxLogger.Warnf("server requested disconnect: %s", d.Properties.ReasonString)
				} else {
					ctxLogger.Warnf("server requested disconnect; reason code: %d", d.ReasonCode)
				}
			},
		},
	}

	if b.cfg.Username != "" {
		cfg.ConnectUsername = b.cfg.Username
		cfg.ConnectPassword = []byte(b.cfg.Password)
	}

	return cfg
}

// Run connects to the broker and feeds commands to handler until ctx is
// cancelled.  It returns once the connection is down.
func (b *Bridge) Run(ctx context.Context, handler Handler) error {
	u, err := url.Parse(b.cfg.Broker)
	if err != nil {
		return errors.Wrapf(err, "parsing broker URL %s", b.cfg.Broker)
	}

	// reconnects until ctx is cancelled
	cm, err := autopaho.NewConnection(ctx, b.clientConfig(u))
	if err != nil {
		return errors.Wrap(err, "starting mqtt connection")
	}

	b.mu.Lock()
	b.cm = cm
	b.mu.Unlock()

	if err := cm.AwaitConnection(ctx); err != nil {
		return errors.Wrap(err, "waiting for mqtt connection")
	}

	b.dispatch(ctx, handler)

	<-cm.Done()
	return nil
}

func (b *Bridge) onPublish(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil || pr.Packet.Topic != b.cfg.CommandTopic() {
		return false, nil
	}

	payload := append([]byte(nil), pr.Packet.Payload...)
	select {
	case b.commands <- payload:
	default:
		logging.Logger(nil).Warnf("%s: command backlog full, dropping %s", b.cfg.Name, payload)
	}

	return true, nil
}

// dispatch hands queued commands to the handler until ctx is done
func (b *Bridge) dispatch(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-b.commands:
			if err := handler.Handle(ctx, payload); err != nil {
				logging.Logger(ctx).WithError(err).Warnf("%s: command %s failed", b.cfg.Name, payload)
			}
		}
	}
}

func (b *Bridge) publish(topic string, payload []byte, retain bool) {
	b.mu.RLock()
	cm := b.cm
	b.mu.RUnlock()

	if cm == nil {
		logging.Logger(nil).Debugf("not connected, dropping publish to %s", topic)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if _, err := cm.Publish(ctx, &paho.Publish{
		QoS:     b.cfg.QoS,
		Topic:   topic,
		Payload: payload,
		Retain:  retain,
	}); err != nil {
		logging.Logger(nil).WithError(err).Warnf("publishing to %s", topic)
	}
}

func encode(v interface{}) ([]byte, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if raw == nil {
			return []byte("null"), nil
		}
		return raw, nil
	}

	return json.Marshal(v)
}

func (b *Bridge) Send(payload interface{}) {
	body, err := encode(payload)
	if err != nil {
		logging.Logger(nil).WithError(err).Errorf("%s: encoding state", b.cfg.Name)
		return
	}

	b.publish(b.cfg.StateTopic(), body, true)
}

func (b *Bridge) Status(s control.Status) {
	body, _ := json.Marshal(s)
	b.publish(b.cfg.StatusTopic(), body, true)
}

type errorMessage struct {
	Error string      `json:"error"`
	Cause interface{} `json:"cause,omitempty"`
}

func (b *Bridge) Error(err error, cause interface{}) {
	body, mErr := json.Marshal(errorMessage{Error: err.Error(), Cause: cause})
	if mErr != nil {
		body, _ = json.Marshal(errorMessage{Error: err.Error()})
	}

	b.publish(b.cfg.ErrorTopic(), body, false)
}
