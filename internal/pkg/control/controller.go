package control

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
	"github.com/jake-scott/bravia-control/internal/pkg/metrics"
)

// State is the observed TV state.  Volume, mute and input are only present
// when the TV is on and tracking for them is enabled.
type State struct {
	Power  bool    `json:"power"`
	Volume *int    `json:"volume,omitempty"`
	Mute   *bool   `json:"mute,omitempty"`
	Input  *string `json:"input,omitempty"`
}

// Controller polls the TV state and executes commands, never both at once
type Controller struct {
	tv    Invoker
	out   Output
	cfg   Config
	sched *scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	lastState  *State
	clearTimer *time.Timer
}

func NewController(tv Invoker, out Output, cfg Config) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		tv:     tv,
		out:    out,
		cfg:    cfg,
		sched:  newScheduler(cfg.Name),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins polling if it is enabled
func (c *Controller) Start() {
	if !c.cfg.Polling {
		return
	}

	logging.Logger(nil).Infof("%s: polling every %s", c.cfg.Name, c.cfg.Interval.Duration())
	c.sched.start(c.cfg.Interval.Duration(), func() {
		c.poll(c.ctx)
	})
}

// Stop cancels the timer and any request in flight, and waits for them
func (c *Controller) Stop() {
	c.cancel()
	c.sched.stop()

	c.mu.Lock()
	if c.clearTimer != nil {
		c.clearTimer.Stop()
		c.clearTimer = nil
	}
	c.mu.Unlock()
}

// LastState returns the most recently emitted state
func (c *Controller) LastState() (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastState == nil {
		return State{}, false
	}
	return *c.lastState, true
}

// Poll waits for any running poll or command, then polls
func (c *Controller) Poll(ctx context.Context) error {
	ctx, cancel := c.joinContext(ctx)
	defer cancel()

	if err := c.sched.acquire(ctx); err != nil {
		return err
	}
	defer c.sched.release()

	c.poll(ctx)
	return nil
}

// Handle processes one input payload: a Command, or a request to poll now
func (c *Controller) Handle(ctx context.Context, payload []byte) error {
	cmd, pollNow, err := ParseCommand(payload)
	if err != nil {
		c.out.Error(err, string(payload))
		return err
	}

	if pollNow {
		return c.Poll(ctx)
	}
	if cmd == nil {
		logging.Logger(ctx).Debugf("%s: ignoring payload %s", c.cfg.Name, payload)
		return nil
	}

	return c.Execute(ctx, *cmd)
}

// Execute runs a command once nothing else is running
func (c *Controller) Execute(ctx context.Context, cmd Command) error {
	ctx, cancel := c.joinContext(ctx)
	defer cancel()

	if err := c.sched.acquire(ctx); err != nil {
		return err
	}
	defer c.sched.release()

	if err := c.execute(ctx, cmd); err != nil {
		c.commandFailed(err, cmd)
		return err
	}

	if c.cfg.PollAfterCommand {
		if err := sleep(ctx, c.cfg.SettleDelay); err != nil {
			return err
		}
		c.poll(ctx)
	}

	return nil
}

// ctx that is also cancelled by Stop
func (c *Controller) joinContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) execute(ctx context.Context, cmd Command) error {
	ctxLogger := logging.Logger(ctx)

	if cmd.Power != nil {
		ctxLogger.Debugf("%s: power %t", c.cfg.Name, *cmd.Power)
		if _, err := c.tv.Invoke(ctx, bravia.System, "setPowerStatus", bravia.DefaultVersion,
			map[string]interface{}{"status": *cmd.Power}); err != nil {
			return err
		}

		if *cmd.Power {
			if err := sleep(ctx, c.cfg.PowerOnDelay); err != nil {
				return err
			}
		}
	}

	if cmd.Volume != nil {
		if _, err := c.tv.Invoke(ctx, bravia.Audio, "setAudioVolume", bravia.DefaultVersion,
			map[string]interface{}{"target": "speaker", "volume": string(*cmd.Volume)}); err != nil {
			return err
		}
	}

	if cmd.Mute != nil {
		if _, err := c.tv.Invoke(ctx, bravia.Audio, "setAudioMute", bravia.DefaultVersion,
			map[string]interface{}{"status": *cmd.Mute}); err != nil {
			return err
		}
	}

	if cmd.Input != nil {
		uri, ok := BuildInputURI(*cmd.Input)
		if !ok {
			ctxLogger.Warnf("%s: ignoring unrecognised input %q", c.cfg.Name, *cmd.Input)
		} else if _, err := c.tv.Invoke(ctx, bravia.AVContent, "setPlayContent", bravia.DefaultVersion,
			map[string]interface{}{"uri": uri}); err != nil {
			return err
		}
	}

	return nil
}

func (c *Controller) commandFailed(err error, cmd Command) {
	c.out.Error(err, cmd)
	c.out.Status(Status{Fill: FillRed, Shape: ShapeDot, Text: "command failed"})

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clearTimer != nil {
		c.clearTimer.Stop()
	}
	c.clearTimer = time.AfterFunc(c.cfg.StatusClearDelay, func() {
		c.mu.Lock()
		last := c.lastState
		c.mu.Unlock()

		c.updateStatus(last)
	})
}

type powerStatus struct {
	Status string `json:"status"`
}

type volumeInformation struct {
	Target string `json:"target"`
	Volume int    `json:"volume"`
	Mute   bool   `json:"mute"`
}

type playingContentInfo struct {
	URI string `json:"uri"`
}

func isIllegalState(err error) bool {
	return bravia.IsRemoteMethodError(err, 7) || strings.Contains(err.Error(), "Illegal State")
}

// sample queries the TV.  Only the power query can fail the cycle.
func (c *Controller) sample(ctx context.Context) (*State, error) {
	ctxLogger := logging.Logger(ctx)
	state := &State{}

	raw, err := c.tv.Invoke(ctx, bravia.System, "getPowerStatus", bravia.DefaultVersion, nil)
	if err != nil {
		return nil, err
	}

	var power powerStatus
	if raw != nil {
		if err := json.Unmarshal(raw, &power); err != nil {
			return nil, fmt.Errorf("decoding power status: %s", err)
		}
	}
	state.Power = power.Status == "active"

	// a TV in standby errors or returns stale data for everything else
	if !state.Power {
		return state, nil
	}

	if c.cfg.PollVolume {
		raw, err := c.tv.Invoke(ctx, bravia.Audio, "getVolumeInformation", bravia.DefaultVersion, nil)
		if err != nil {
			ctxLogger.WithError(err).Debugf("%s: ignoring volume query failure", c.cfg.Name)
		} else {
			var vols []volumeInformation
			if err := json.Unmarshal(raw, &vols); err != nil || len(vols) == 0 {
				ctxLogger.Debugf("%s: ignoring volume information %s", c.cfg.Name, raw)
			} else {
				state.Volume = &vols[0].Volume
				state.Mute = &vols[0].Mute
			}
		}
	}

	if c.cfg.PollInput {
		raw, err := c.tv.Invoke(ctx, bravia.AVContent, "getPlayingContentInfo", bravia.DefaultVersion, nil)
		switch {
		case err != nil && isIllegalState(err):
			input := AppInput
			state.Input = &input
		case err != nil:
			ctxLogger.WithError(err).Debugf("%s: ignoring input query failure", c.cfg.Name)
		default:
			var info playingContentInfo
			if raw != nil {
				_ = json.Unmarshal(raw, &info)
			}
			if input, ok := ParseInput(info.URI); ok {
				state.Input = &input
			}
		}
	}

	return state, nil
}

// poll runs one cycle; the caller holds the scheduler
func (c *Controller) poll(ctx context.Context) {
	state, err := c.sample(ctx)
	if err != nil {
		// shutting down
		if c.ctx.Err() != nil {
			return
		}
		c.pollFailed(err)
		return
	}

	c.mu.Lock()
	unchanged := c.lastState != nil && reflect.DeepEqual(*c.lastState, *state)
	if unchanged && c.cfg.OutputMode != OutputAlways {
		c.mu.Unlock()
		metrics.ObservePoll(c.cfg.Name, metrics.OutcomeUnchanged)
		c.updateStatus(state)
		return
	}
	c.lastState = state
	c.mu.Unlock()

	metrics.ObservePoll(c.cfg.Name, metrics.OutcomeEmitted)
	c.updateStatus(state)
	c.out.Send(*state)
}

func (c *Controller) pollFailed(err error) {
	f := Classify(err)

	if f.Kind == Timeout {
		metrics.ObservePoll(c.cfg.Name, metrics.OutcomeTimeout)
		logging.Logger(nil).WithError(err).Debugf("%s: TV not reachable", c.cfg.Name)
		c.out.Status(Status{
			Fill:  FillRed,
			Shape: ShapeRing,
			Text:  fmt.Sprintf("not connected (retry %ds)", c.cfg.Interval.retrySeconds()),
		})
		return
	}

	metrics.ObservePoll(c.cfg.Name, metrics.OutcomeError)
	logging.Logger(nil).WithError(err).Warnf("%s: poll failed", c.cfg.Name)
	c.out.Status(Status{Fill: FillRed, Shape: ShapeDot, Text: f.Text})
}

func (c *Controller) updateStatus(state *State) {
	c.out.Status(StatusFor(state))
}

// StatusFor describes a state for the status indicator
func StatusFor(state *State) Status {
	if state == nil {
		return Status{Fill: FillRed, Shape: ShapeRing, Text: "error"}
	}

	if !state.Power {
		return Status{Fill: FillGrey, Shape: ShapeRing, Text: "power: standby"}
	}

	parts := []string{"power: on"}
	if state.Volume != nil {
		vol := fmt.Sprintf("vol: %d", *state.Volume)
		if state.Mute != nil && *state.Mute {
			vol += " (mute)"
		}
		parts = append(parts, vol)
	}
	if state.Input != nil {
		parts = append(parts, "input: "+*state.Input)
	}

	return Status{Fill: FillGreen, Shape: ShapeDot, Text: strings.Join(parts, " | ")}
}
