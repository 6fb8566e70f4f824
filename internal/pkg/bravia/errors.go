package bravia

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotConfigured is returned when the client is used before the host, port
// and pre-shared key have been set
var ErrNotConfigured = errors.New("the Sony BRAVIA TV is not configured properly, please check your settings")

// RequestFailedError is a non-2xx response to a JSON API request
type RequestFailedError struct {
	StatusCode int
	Status     string
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("request failed: %d %s", e.StatusCode, e.Status)
}

// DeviceFaultError carries the UPnP error description from a SOAP fault
type DeviceFaultError struct {
	Description string
}

func (e *DeviceFaultError) Error() string {
	return e.Description
}

// TransportFailedError is a non-2xx IRCC response whose body could not be decoded
type TransportFailedError struct {
	StatusCode int
}

func (e *TransportFailedError) Error() string {
	return fmt.Sprintf("IRCC request failed: %d", e.StatusCode)
}

// RemoteMethodError is the `error` member of an API response
type RemoteMethodError struct {
	Code    int
	Message string
}

func (e *RemoteMethodError) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// UnknownCodeError is returned when a symbolic IRCC name isn't known to the TV
type UnknownCodeError struct {
	Name string
}

func (e *UnknownCodeError) Error() string {
	return fmt.Sprintf("unknown IRCC code: %s", e.Name)
}

// IsRemoteMethodError reports whether err is an API error with the given code
func IsRemoteMethodError(err error, code int) bool {
	var rme *RemoteMethodError
	if errors.As(err, &rme) {
		return rme.Code == code
	}

	return false
}
