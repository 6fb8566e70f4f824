package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
	"github.com/jake-scott/bravia-control/internal/pkg/metrics"
)

// MethodSpec names one API method as service:version:method
type MethodSpec struct {
	Service bravia.ServiceName
	Version string
	Method  string
}

func (m MethodSpec) String() string {
	return fmt.Sprintf("%s:%s:%s", m.Service, m.Version, m.Method)
}

// ParseMethodSpec parses service:version:method, eg. system:1.0:getPowerStatus
func ParseMethodSpec(s string) (MethodSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return MethodSpec{}, fmt.Errorf("invalid method %q, format: protocol:version:method", s)
	}

	service, ok := bravia.ParseServiceName(parts[0])
	if !ok {
		return MethodSpec{}, fmt.Errorf("unknown service protocol %q", parts[0])
	}

	return MethodSpec{Service: service, Version: parts[1], Method: parts[2]}, nil
}

// PollableMethod is a read-only method that makes sense to poll
type PollableMethod struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// PollableMethods is offered to configuration UIs
var PollableMethods = []PollableMethod{
	{Value: "system:1.0:getPowerStatus", Label: "getPowerStatus (power state)"},
	{Value: "audio:1.0:getVolumeInformation", Label: "getVolumeInformation (volume/mute)"},
	{Value: "avContent:1.0:getPlayingContentInfo", Label: "getPlayingContentInfo (current input)"},
	{Value: "avContent:1.0:getCurrentExternalInputsStatus", Label: "getCurrentExternalInputsStatus (HDMI status)"},
}

// MethodPollerConfig controls a MethodPoller
type MethodPollerConfig struct {
	Name string

	// Method to poll, service:version:method.  Empty disables polling and
	// requires every Invoke to name a method.
	Method string
	// Payload is the method parameter; a JSON string holding JSON is unwrapped
	Payload json.RawMessage

	Polling    bool
	Interval   Interval
	OutputMode OutputMode

	StatusClearDelay time.Duration
}

// MethodPoller polls a single API method and emits its result
type MethodPoller struct {
	tv    Invoker
	out   Output
	cfg   MethodPollerConfig
	sched *scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	lastResult json.RawMessage
	clearTimer *time.Timer
}

func NewMethodPoller(tv Invoker, out Output, cfg MethodPollerConfig) *MethodPoller {
	if cfg.StatusClearDelay <= 0 {
		cfg.StatusClearDelay = DefaultStatusClearDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &MethodPoller{
		tv:     tv,
		out:    out,
		cfg:    cfg,
		sched:  newScheduler(cfg.Name),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *MethodPoller) Start() {
	if !p.cfg.Polling || p.cfg.Method == "" {
		return
	}

	p.sched.start(p.cfg.Interval.Duration(), func() {
		p.poll(p.ctx)
	})
}

func (p *MethodPoller) Stop() {
	p.cancel()
	p.sched.stop()

	p.mu.Lock()
	if p.clearTimer != nil {
		p.clearTimer.Stop()
		p.clearTimer = nil
	}
	p.mu.Unlock()
}

// payload parameters may arrive as a JSON document inside a JSON string
func normalizePayload(payload json.RawMessage) (json.RawMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || string(payload) == "null" {
		return nil, nil
	}

	if payload[0] == '"' {
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("payload is not valid JSON: %s", s)
		}
		return json.RawMessage(s), nil
	}

	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid JSON: %s", payload)
	}
	return payload, nil
}

func (p *MethodPoller) invokeMethod(ctx context.Context, method string, payload json.RawMessage) (json.RawMessage, error) {
	spec, err := ParseMethodSpec(method)
	if err != nil {
		return nil, err
	}

	params, err := normalizePayload(payload)
	if err != nil {
		return nil, err
	}

	var arg interface{}
	if params != nil {
		arg = params
	}

	return p.tv.Invoke(ctx, spec.Service, spec.Method, spec.Version, arg)
}

func compactJSON(raw json.RawMessage) string {
	if raw == nil {
		return "null"
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (p *MethodPoller) poll(ctx context.Context) {
	p.out.Status(Status{Fill: FillBlue, Shape: ShapeDot, Text: "polling..."})

	result, err := p.invokeMethod(ctx, p.cfg.Method, p.cfg.Payload)
	if err != nil {
		if p.ctx.Err() != nil {
			return
		}

		f := Classify(err)
		if f.Kind == Timeout {
			metrics.ObservePoll(p.cfg.Name, metrics.OutcomeTimeout)
			p.out.Status(Status{
				Fill:  FillRed,
				Shape: ShapeRing,
				Text:  fmt.Sprintf("timeout (retry %ds)", p.cfg.Interval.retrySeconds()),
			})
			return
		}

		metrics.ObservePoll(p.cfg.Name, metrics.OutcomeError)
		logging.Logger(ctx).WithError(err).Warnf("%s: polling %s", p.cfg.Name, p.cfg.Method)
		p.out.Status(Status{Fill: FillRed, Shape: ShapeDot, Text: f.Text})
		return
	}

	if p.cfg.OutputMode != OutputAlways {
		p.mu.Lock()
		unchanged := p.lastResult != nil && compactJSON(p.lastResult) == compactJSON(result)
		if !unchanged {
			p.lastResult = append(json.RawMessage(nil), result...)
			if p.lastResult == nil {
				p.lastResult = json.RawMessage("null")
			}
		}
		p.mu.Unlock()

		if unchanged {
			metrics.ObservePoll(p.cfg.Name, metrics.OutcomeUnchanged)
			p.out.Status(Status{})
			return
		}
	}

	metrics.ObservePoll(p.cfg.Name, metrics.OutcomeEmitted)
	p.out.Send(result)
	p.out.Status(Status{})
}

// Invoke calls a method on demand.  The configured method and payload take
// precedence over the ones given.
func (p *MethodPoller) Invoke(ctx context.Context, method string, payload json.RawMessage) (json.RawMessage, error) {
	if p.cfg.Method != "" {
		method = p.cfg.Method
	}
	if len(p.cfg.Payload) > 0 {
		payload = p.cfg.Payload
	}
	if method == "" {
		err := fmt.Errorf("no method given")
		p.out.Error(err, method)
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.sched.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.sched.release()

	p.out.Status(Status{Fill: FillBlue, Shape: ShapeDot, Text: "invoking..."})

	result, err := p.invokeMethod(ctx, method, payload)
	if err != nil {
		p.out.Error(err, method)
		p.out.Status(Status{Fill: FillRed, Shape: ShapeDot, Text: "failed"})
	} else {
		p.out.Send(result)
		p.out.Status(Status{Fill: FillGreen, Shape: ShapeDot, Text: "success"})
	}

	p.mu.Lock()
	if p.clearTimer != nil {
		p.clearTimer.Stop()
	}
	p.clearTimer = time.AfterFunc(p.cfg.StatusClearDelay, func() {
		p.out.Status(Status{})
	})
	p.mu.Unlock()

	return result, err
}
