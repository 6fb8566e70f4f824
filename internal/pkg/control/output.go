package control

import (
	"context"
	"encoding/json"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

// Invoker is the part of the TV client that the pollers use
type Invoker interface {
	Invoke(ctx context.Context, service bravia.ServiceName, method, version string, params interface{}) (json.RawMessage, error)
}

// Status indicator colours and shapes
const (
	FillRed   = "red"
	FillGreen = "green"
	FillGrey  = "grey"
	FillBlue  = "blue"

	ShapeDot  = "dot"
	ShapeRing = "ring"
)

// Status is what the host shows next to a running poller.  The zero value
// clears the indicator.
type Status struct {
	Fill  string `json:"fill,omitempty"`
	Shape string `json:"shape,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Output is provided by whatever hosts a poller: it receives emitted
// payloads, status updates and failures
type Output interface {
	Send(payload interface{})
	Status(s Status)
	Error(err error, cause interface{})
}

type multiOutput []Output

// MultiOutput fans every call out to each of outs, in order
func MultiOutput(outs ...Output) Output {
	return multiOutput(outs)
}

func (m multiOutput) Send(payload interface{}) {
	for _, o := range m {
		o.Send(payload)
	}
}

func (m multiOutput) Status(s Status) {
	for _, o := range m {
		o.Status(s)
	}
}

func (m multiOutput) Error(err error, cause interface{}) {
	for _, o := range m {
		o.Error(err, cause)
	}
}

// LogOutput reports status changes and failures to the log and drops payloads
type LogOutput struct {
	Name string
}

func (l LogOutput) Send(payload interface{}) {}

func (l LogOutput) Status(s Status) {
	if s.Text == "" {
		return
	}

	logging.Logger(nil).WithField("poller", l.Name).Infof("status: %s", s.Text)
}

func (l LogOutput) Error(err error, cause interface{}) {
	logging.Logger(nil).WithField("poller", l.Name).WithError(err).Errorf("handling %+v", cause)
}
