package control

import (
	"fmt"
	"regexp"
)

// The TV names its external inputs extInput:<class>?port=<n>, eg.
// extInput:hdmi?port=2.  We call that hdmi2.
var (
	inputURIRegexp = regexp.MustCompile(`extInput:(\w+)\?port=(\d+)`)
	inputIDRegexp  = regexp.MustCompile(`^([A-Za-z_]+)(\d+)$`)
)

// AppInput is reported when the TV is showing an app rather than an input
const AppInput = "app"

// ParseInput turns a content URI into a short input ID; ok is false for
// URIs that aren't external inputs
func ParseInput(uri string) (string, bool) {
	m := inputURIRegexp.FindStringSubmatch(uri)
	if m == nil {
		return "", false
	}

	return m[1] + m[2], true
}

// BuildInputURI is the inverse of ParseInput
func BuildInputURI(input string) (string, bool) {
	m := inputIDRegexp.FindStringSubmatch(input)
	if m == nil {
		return "", false
	}

	return fmt.Sprintf("extInput:%s?port=%s", m[1], m[2]), true
}
