package bravia

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/bravia-control/internal/pkg/metrics"
)

// ServiceName identifies one of the TV API services.  The value is also the
// URL path segment of the service endpoint.
type ServiceName string

const (
	AccessControl ServiceName = "accessControl"
	AppControl    ServiceName = "appControl"
	Audio         ServiceName = "audio"
	AVContent     ServiceName = "avContent"
	Browser       ServiceName = "browser"
	CEC           ServiceName = "cec"
	Encryption    ServiceName = "encryption"
	Guide         ServiceName = "guide"
	Recording     ServiceName = "recording"
	System        ServiceName = "system"
	VideoScreen   ServiceName = "videoScreen"
)

// ServiceNames lists every service, in the order the TV documents them
var ServiceNames = []ServiceName{
	AccessControl, AppControl, Audio, AVContent, Browser,
	CEC, Encryption, Guide, Recording, System, VideoScreen,
}

// ParseServiceName converts a service name to its ID
func ParseServiceName(name string) (ServiceName, bool) {
	for _, s := range ServiceNames {
		if string(s) == name {
			return s, true
		}
	}

	return "", false
}

const (
	DefaultVersion = "1.0"
	requestID      = 3
)

// MethodVersion is the method catalogue of one API version of a service.  Each
// method descriptor is the raw array returned by getMethodTypes, whose first
// element is the method name.
type MethodVersion struct {
	Version string            `json:"version"`
	Methods []json.RawMessage `json:"methods"`
}

// Find returns the descriptor of the named method, nil if not present
func (mv *MethodVersion) Find(method string) json.RawMessage {
	for _, m := range mv.Methods {
		var fields []json.RawMessage
		if err := json.Unmarshal(m, &fields); err != nil || len(fields) == 0 {
			continue
		}

		var name string
		if err := json.Unmarshal(fields[0], &name); err != nil {
			continue
		}

		if name == method {
			return m
		}
	}

	return nil
}

// ServiceProtocol invokes methods on one API service of a TV
type ServiceProtocol struct {
	client *Client
	name   ServiceName

	mu      sync.Mutex
	methods []MethodVersion
	loaded  bool
}

func newServiceProtocol(c *Client, name ServiceName) *ServiceProtocol {
	return &ServiceProtocol{
		client: c,
		name:   name,
	}
}

func (sp *ServiceProtocol) Name() ServiceName {
	return sp.name
}

type rpcRequest struct {
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Version string        `json:"version"`
	Params  []interface{} `json:"params"`
}

// The three shapes of response, any or none of which may be present
type rpcEnvelope struct {
	Error   []json.RawMessage `json:"error"`
	Results json.RawMessage   `json:"results"`
	Result  []json.RawMessage `json:"result"`
}

// Invoke calls method on the service.  An empty version means 1.0, a nil
// params sends an empty parameter list.  A nil result means the response
// carried nothing.
func (sp *ServiceProtocol) Invoke(ctx context.Context, method, version string, params interface{}) (json.RawMessage, error) {
	if version == "" {
		version = DefaultVersion
	}

	req := rpcRequest{
		ID:      requestID,
		Method:  method,
		Version: version,
		Params:  []interface{}{},
	}
	if params != nil {
		req.Params = []interface{}{params}
	}

	start := time.Now()
	result, err := sp.invoke(ctx, req)
	metrics.ObserveRPC(string(sp.name), method, start, err)

	return result, err
}

func (sp *ServiceProtocol) invoke(ctx context.Context, req rpcRequest) (json.RawMessage, error) {
	body, err := sp.client.requestJSON(ctx, "/"+string(sp.name), req)
	if err != nil {
		return nil, err
	}

	return unwrapEnvelope(body)
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func unwrapEnvelope(body []byte) (json.RawMessage, error) {
	var env rpcEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.Wrap(err, "decoding response envelope")
	}

	if env.Error != nil {
		return nil, decodeRemoteError(env.Error)
	}

	if present(env.Results) {
		return env.Results, nil
	}

	if env.Result != nil {
		if len(env.Result) == 0 {
			return nil, nil
		}

		idx := 0
		if len(env.Result) > 1 {
			idx = 1
		}

		if !present(env.Result[idx]) {
			return nil, nil
		}
		return env.Result[idx], nil
	}

	return nil, nil
}

func decodeRemoteError(tuple []json.RawMessage) error {
	rme := &RemoteMethodError{}

	if len(tuple) > 0 {
		_ = json.Unmarshal(tuple[0], &rme.Code)
	}
	if len(tuple) > 1 {
		if err := json.Unmarshal(tuple[1], &rme.Message); err != nil {
			rme.Message = string(tuple[1])
		}
	}

	return rme
}

// Versions lists the API versions the service supports
func (sp *ServiceProtocol) Versions(ctx context.Context) ([]string, error) {
	result, err := sp.Invoke(ctx, "getVersions", DefaultVersion, nil)
	if err != nil {
		return nil, err
	}

	var versions []string
	if !present(result) {
		return versions, nil
	}

	if err := json.Unmarshal(result, &versions); err != nil {
		return nil, errors.Wrapf(err, "decoding %s versions", sp.name)
	}

	return versions, nil
}

// MethodTypes returns the method catalogue for every supported version.  The
// catalogue is fetched on first use and cached for the life of the client.
func (sp *ServiceProtocol) MethodTypes(ctx context.Context) ([]MethodVersion, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.loaded {
		return sp.methods, nil
	}

	versions, err := sp.Versions(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s versions", sp.name)
	}

	methods := make([]MethodVersion, 0, len(versions))
	for _, v := range versions {
		result, err := sp.Invoke(ctx, "getMethodTypes", DefaultVersion, v)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching %s method types for version %s", sp.name, v)
		}

		if !present(result) {
			continue
		}

		var descriptors []json.RawMessage
		if err := json.Unmarshal(result, &descriptors); err != nil {
			return nil, errors.Wrapf(err, "decoding %s method types for version %s", sp.name, v)
		}

		if len(descriptors) == 0 {
			continue
		}

		methods = append(methods, MethodVersion{Version: v, Methods: descriptors})
	}

	sp.methods = methods
	sp.loaded = true

	return sp.methods, nil
}

// MethodTypesFor returns the catalogue of one version, or nil if the service
// doesn't have it
func (sp *ServiceProtocol) MethodTypesFor(ctx context.Context, version string) (*MethodVersion, error) {
	all, err := sp.MethodTypes(ctx)
	if err != nil {
		return nil, err
	}

	for i := range all {
		if all[i].Version == version {
			return &all[i], nil
		}
	}

	return nil, nil
}

func (sp *ServiceProtocol) String() string {
	return fmt.Sprintf("service protocol %s", sp.name)
}
