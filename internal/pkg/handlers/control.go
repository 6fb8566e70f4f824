package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/control"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

// StatusStore is a control.Output that remembers the latest status and error
// so they can be served over HTTP
type StatusStore struct {
	mu      sync.RWMutex
	status  control.Status
	lastErr string
}

func (s *StatusStore) Send(payload interface{}) {}

func (s *StatusStore) Status(st control.Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *StatusStore) Error(err error, cause interface{}) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

type statusResponse struct {
	control.Status
	LastError string `json:"lastError,omitempty"`
}

func (s *StatusStore) snapshot() statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return statusResponse{Status: s.status, LastError: s.lastErr}
}

// IRCCSender transmits remote control codes
type IRCCSender interface {
	Send(ctx context.Context, codes ...string) error
}

// CommandHandler is what the controller endpoints drive
type CommandHandler interface {
	Handle(ctx context.Context, payload []byte) error
	LastState() (control.State, bool)
}

// MethodInvoker runs an API method on demand
type MethodInvoker interface {
	Invoke(ctx context.Context, method string, payload json.RawMessage) (json.RawMessage, error)
}

// ControlHandler exposes a running controller for a configured TV
type ControlHandler struct {
	controller CommandHandler
	status     *StatusStore
	ircc       IRCCSender
	invoker    MethodInvoker
}

func NewControlHandler(controller CommandHandler, status *StatusStore, ircc IRCCSender, invoker MethodInvoker) ControlHandler {
	return ControlHandler{
		controller: controller,
		status:     status,
		ircc:       ircc,
		invoker:    invoker,
	}
}

func (h *ControlHandler) Register(r *mux.Router) {
	r.HandleFunc("/control/state", h.State).Methods(http.MethodGet)
	r.HandleFunc("/control/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/control", h.Command).Methods(http.MethodPost)
	r.HandleFunc("/ircc", h.SendIRCC).Methods(http.MethodPost)
	r.HandleFunc("/invoke", h.Invoke).Methods(http.MethodPost)
}

type errorResponse struct {
	Error string `json:"error"`
}

func sendErrorResponse(w http.ResponseWriter, r *http.Request, code int, err error) {
	logging.Logger(r.Context()).WithError(err).Warnf("%s %s", r.Method, r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

// a request that the TV rejected or never answered
func deviceErrorStatus(err error) int {
	if errors.Is(err, bravia.ErrNotConfigured) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}

	var unknown *bravia.UnknownCodeError
	if errors.As(err, &unknown) {
		return http.StatusBadRequest
	}

	return http.StatusBadGateway
}

func (h *ControlHandler) State(w http.ResponseWriter, r *http.Request) {
	state, ok := h.controller.LastState()
	if !ok {
		sendErrorResponse(w, r, http.StatusNotFound, errors.New("no state observed yet"))
		return
	}

	sendJSONResponse(w, r, state)
}

func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, r, h.status.snapshot())
}

// Command takes the same payloads as the controller input: a command object,
// or true / {} to poll now
func (h *ControlHandler) Command(w http.ResponseWriter, r *http.Request) {
	var payload json.RawMessage
	if err := decodeJSONBody(w, r, &payload); err != nil {
		sendErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}

	if _, _, err := control.ParseCommand(payload); err != nil {
		sendErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}

	if err := h.controller.Handle(r.Context(), payload); err != nil {
		sendErrorResponse(w, r, deviceErrorStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// IRCC codes are a comma separated string or an array of names/tokens
type irccRequest struct {
	Codes json.RawMessage `json:"codes"`
}

func parseCodes(raw json.RawMessage) ([]string, error) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanCodes(list), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, errors.New("codes must be a string or an array of strings")
	}

	return cleanCodes(strings.Split(s, ",")), nil
}

func cleanCodes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (h *ControlHandler) SendIRCC(w http.ResponseWriter, r *http.Request) {
	var req irccRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		sendErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}

	codes, err := parseCodes(req.Codes)
	if err != nil {
		sendErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}
	if len(codes) == 0 {
		sendErrorResponse(w, r, http.StatusBadRequest, errors.New("no codes given"))
		return
	}

	if err := h.ircc.Send(r.Context(), codes...); err != nil {
		sendErrorResponse(w, r, deviceErrorStatus(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type invokeRequest struct {
	Method  string          `json:"method"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (h *ControlHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		sendErrorResponse(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := h.invoker.Invoke(r.Context(), req.Method, req.Payload)
	if err != nil {
		sendErrorResponse(w, r, deviceErrorStatus(err), err)
		return
	}

	if result == nil {
		result = json.RawMessage("null")
	}
	sendJSONResponse(w, r, result)
}
