package control

import (
	"strings"
	"time"
)

// OutputMode decides when a poller emits
type OutputMode string

const (
	// OutputChange emits only when the polled value differs from the last one
	OutputChange OutputMode = "change"
	// OutputAlways emits on every successful poll
	OutputAlways OutputMode = "always"
)

// ParseOutputMode defaults to OutputChange for anything it doesn't recognise
func ParseOutputMode(s string) OutputMode {
	if OutputMode(strings.ToLower(s)) == OutputAlways {
		return OutputAlways
	}

	return OutputChange
}

var unitMultipliers = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
}

// Interval is a poll interval in user-facing units
type Interval struct {
	Value int
	Unit  string
}

// Duration converts the interval; unknown units are taken as seconds
func (i Interval) Duration() time.Duration {
	if i.Value <= 0 {
		return 0
	}

	mult, ok := unitMultipliers[strings.ToLower(i.Unit)]
	if !ok {
		mult = time.Second
	}

	return time.Duration(i.Value) * mult
}

// retrySeconds is how long until the next tick, for status text
func (i Interval) retrySeconds() int {
	return int(i.Duration().Round(time.Second) / time.Second)
}

const (
	DefaultIntervalValue = 10
	DefaultIntervalUnit  = "seconds"

	DefaultPowerOnDelay     = time.Second * 3
	DefaultSettleDelay      = time.Millisecond * 500
	DefaultStatusClearDelay = time.Second * 3
)

// Config controls a state Controller
type Config struct {
	Name string

	// Polling enables the timer; commands work either way
	Polling    bool
	PollVolume bool
	PollInput  bool
	Interval   Interval
	OutputMode OutputMode

	// PollAfterCommand runs a poll once a command has been executed
	PollAfterCommand bool

	// PowerOnDelay is how long the TV takes to wake up after power on
	PowerOnDelay time.Duration
	// SettleDelay is the pause between a command and the poll after it
	SettleDelay time.Duration
	// StatusClearDelay is how long a command failure stays on the status
	StatusClearDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Name:             "bravia-control",
		Interval:         Interval{Value: DefaultIntervalValue, Unit: DefaultIntervalUnit},
		OutputMode:       OutputChange,
		PollAfterCommand: true,
		PowerOnDelay:     DefaultPowerOnDelay,
		SettleDelay:      DefaultSettleDelay,
		StatusClearDelay: DefaultStatusClearDelay,
	}
}
