package control

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Volume accepts either a number or a string such as "+5"; the TV always
// wants a string
type Volume string

func (v *Volume) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = Volume(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("volume must be a number or string, got %s", b)
	}

	*v = Volume(n.String())
	return nil
}

// Command changes any subset of the TV state
type Command struct {
	Power  *bool   `json:"power,omitempty"`
	Volume *Volume `json:"volume,omitempty"`
	Mute   *bool   `json:"mute,omitempty"`
	Input  *string `json:"input,omitempty"`
}

// ParseCommand decodes an input payload.  `true` and `{}` ask for an
// immediate poll.  Payloads that are valid JSON but not objects are
// ignored: cmd is nil and pollNow is false.
func ParseCommand(payload []byte) (cmd *Command, pollNow bool, err error) {
	payload = bytes.TrimSpace(payload)

	var probe interface{}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, false, errors.Wrap(err, "decoding command")
	}

	switch v := probe.(type) {
	case bool:
		return nil, v, nil
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, true, nil
		}
	default:
		return nil, false, nil
	}

	cmd = &Command{}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, false, errors.Wrap(err, "decoding command")
	}

	return cmd, false, nil
}
