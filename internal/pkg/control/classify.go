package control

import (
	"context"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// FailureKind says whether a failure looks like it will go away by itself
type FailureKind int

const (
	// Generic failures stay on the status until the next good poll
	Generic FailureKind = iota
	// Timeout failures mean the TV couldn't be reached; we retry next tick
	Timeout
)

func (k FailureKind) String() string {
	if k == Timeout {
		return "timeout"
	}
	return "error"
}

// Failure is a classified error, ready for display
type Failure struct {
	Kind FailureKind
	Code string
	Text string
}

const maxStatusMessage = 20

var (
	errorCodeRegexp = regexp.MustCompile(`(?i)code[:\s]+(\d+)`)

	timeoutMarkers = []string{"timeout", "abort", "ETIMEDOUT", "ECONNREFUSED", "connection refused"}
)

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	msg := err.Error()
	for _, marker := range timeoutMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

func shorten(msg string) string {
	r := []rune(msg)
	if len(r) > maxStatusMessage {
		return string(r[:maxStatusMessage]) + "..."
	}
	return msg
}

// Classify sorts err into Timeout or Generic and builds its status text
func Classify(err error) Failure {
	if err == nil {
		return Failure{Kind: Generic, Text: "Unknown error"}
	}

	msg := err.Error()
	if msg == "" {
		msg = "Unknown error"
	}

	if isTimeout(err) {
		return Failure{Kind: Timeout, Text: msg}
	}

	f := Failure{Kind: Generic, Text: shorten(msg)}
	if m := errorCodeRegexp.FindStringSubmatch(msg); m != nil {
		f.Code = m[1]
		f.Text = "[" + f.Code + "] " + f.Text
	}

	return f
}
