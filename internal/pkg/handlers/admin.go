package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/korovkin/limiter"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/control"
	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

/*
 * AdminHandler serves the read-only queries a configuration UI makes while
 * a TV is being set up: discovery, the method catalogue and the remote
 * control code list.  Every TV query names the TV in the host, port and psk
 * query values.
 */

const maxConcurrentServiceQueries = 4

type AdminHandler struct {
	newClient       ClientFactory
	discover        func(timeout time.Duration) []bravia.Device
	discoverTimeout time.Duration
}

func NewAdminHandler(newClient ClientFactory, discover func(timeout time.Duration) []bravia.Device, discoverTimeout time.Duration) AdminHandler {
	return AdminHandler{
		newClient:       newClient,
		discover:        discover,
		discoverTimeout: discoverTimeout,
	}
}

// Register adds the admin routes to r
func (h *AdminHandler) Register(r *mux.Router) {
	r.HandleFunc("/bravia/discover", h.Discover).Methods(http.MethodGet)
	r.HandleFunc("/bravia/methods/pollable", h.PollableMethods).Methods(http.MethodGet)
	r.HandleFunc("/bravia/methods", h.Methods).Methods(http.MethodGet)
	r.HandleFunc("/bravia/method", h.Method).Methods(http.MethodGet)
	r.HandleFunc("/bravia/ircc", h.RemoteCodes).Methods(http.MethodGet)
}

func (h *AdminHandler) Discover(w http.ResponseWriter, r *http.Request) {
	devices := h.discover(h.discoverTimeout)
	logging.Logger(r.Context()).Infof("discovered %d TVs", len(devices))

	sendJSONResponse(w, r, devices)
}

func (h *AdminHandler) PollableMethods(w http.ResponseWriter, r *http.Request) {
	sendJSONResponse(w, r, control.PollableMethods)
}

type serviceMethods struct {
	Protocol bravia.ServiceName     `json:"protocol"`
	Versions []bravia.MethodVersion `json:"versions"`
}

// Methods lists the method catalogue of every service that answers
func (h *AdminHandler) Methods(w http.ResponseWriter, r *http.Request) {
	cfg, ok := tvConfigFromQuery(r)
	if !ok {
		sendAdminError(w, r, "Missing arguments.")
		return
	}

	tv := h.newClient(cfg)
	ctx := logging.WithDevice(r.Context(), cfg.Host)

	results := make([]*serviceMethods, len(bravia.ServiceNames))
	limit := limiter.NewConcurrencyLimiter(maxConcurrentServiceQueries)

	for i, name := range bravia.ServiceNames {
		limit.Execute(func() {
			versions, err := tv.Service(name).MethodTypes(ctx)
			if err != nil {
				// services the TV doesn't implement are simply left out
				logging.Logger(ctx).WithError(err).Debugf("skipping service %s", name)
				return
			}
			results[i] = &serviceMethods{Protocol: name, Versions: versions}
		})
	}
	limit.Wait()

	methods := make([]serviceMethods, 0, len(results))
	for _, m := range results {
		if m != nil {
			methods = append(methods, *m)
		}
	}

	if len(methods) == 0 {
		sendAdminError(w, r, "Error getting methods, check the connection to your TV.")
		return
	}

	sendJSONResponse(w, r, methods)
}

// Method returns the descriptor of one method
func (h *AdminHandler) Method(w http.ResponseWriter, r *http.Request) {
	cfg, ok := tvConfigFromQuery(r)
	q := r.URL.Query()
	protocol, version, method := q.Get("protocol"), q.Get("version"), q.Get("method")
	if !ok || protocol == "" || version == "" || method == "" {
		sendAdminError(w, r, "Missing arguments.")
		return
	}

	service, ok := bravia.ParseServiceName(protocol)
	if !ok {
		sendAdminError(w, r, "Unknown protocol: "+protocol)
		return
	}

	tv := h.newClient(cfg)
	ctx := logging.WithDevice(r.Context(), cfg.Host)

	mv, err := tv.Service(service).MethodTypesFor(ctx, version)
	if err != nil {
		sendAdminError(w, r, err.Error())
		return
	}
	if mv == nil {
		sendAdminError(w, r, "Version "+version+" not supported by "+protocol)
		return
	}

	descriptor := mv.Find(method)
	if descriptor == nil {
		descriptor = json.RawMessage("null")
	}

	sendJSONResponse(w, r, descriptor)
}

// RemoteCodes lists the IRCC code names the TV knows
func (h *AdminHandler) RemoteCodes(w http.ResponseWriter, r *http.Request) {
	cfg, ok := tvConfigFromQuery(r)
	if !ok {
		sendAdminError(w, r, "Missing arguments.")
		return
	}

	tv := h.newClient(cfg)
	codes, err := tv.RemoteCodes(logging.WithDevice(r.Context(), cfg.Host))
	if err != nil {
		sendAdminError(w, r, err.Error())
		return
	}

	sendJSONResponse(w, r, codes)
}
