package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-openapi/runtime/middleware/header"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

// Builds a TV client for admin queries
type ClientFactory func(cfg bravia.Config) *bravia.Client

func sendJSONResponse(w http.ResponseWriter, r *http.Request, d interface{}) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	if err := enc.Encode(d); err != nil {
		logging.Logger(r.Context()).WithError(err).Error("sending json response")
	}
}

// admin endpoints answer every failure with a 500 and a plain message
func sendAdminError(w http.ResponseWriter, r *http.Request, msg string) {
	logging.Logger(r.Context()).Warnf("admin request %s failed: %s", r.URL.Path, msg)
	http.Error(w, msg, http.StatusInternalServerError)
}

// Read the TV settings from the host, port and psk query values
func tvConfigFromQuery(r *http.Request) (bravia.Config, bool) {
	q := r.URL.Query()
	host, portStr, psk := q.Get("host"), q.Get("port"), q.Get("psk")
	if host == "" || portStr == "" || psk == "" {
		return bravia.Config{}, false
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return bravia.Config{}, false
	}

	return bravia.Config{Host: host, Port: port, PSK: psk}, true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Header.Get("Content-Type") != "" {
		value, _ := header.ParseValueAndParams(r.Header, "Content-Type")
		if value != "application/json" {
			return fmt.Errorf("expected JSON request, got %s", value)
		}
	}

	// 100kb max body
	reader := http.MaxBytesReader(w, r.Body, 100*1024)
	dec := json.NewDecoder(reader)

	if err := dec.Decode(dst); err != nil {
		return err
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must only contain a single JSON value")
	}

	return nil
}
