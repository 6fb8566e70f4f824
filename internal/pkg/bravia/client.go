package bravia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/bravia-control/internal/pkg/logging"
)

const (
	DefaultPort    = 80
	DefaultTimeout = time.Second * 5
	DefaultDelay   = time.Millisecond * 350

	pskHeader = "X-Auth-PSK"
)

// Config holds the connection settings for one TV
type Config struct {
	Host    string
	Port    int
	PSK     string
	Timeout time.Duration
}

// Configured reports whether enough settings are present to talk to the TV
func (c Config) Configured() bool {
	return c.Host != "" && c.Port > 0 && c.PSK != ""
}

// Client is the facade for one TV: one ServiceProtocol per API service, the
// IRCC remote channel, and the caches that belong to this TV
type Client struct {
	cfg        Config
	delay      time.Duration
	baseURL    string
	httpClient *http.Client
	services   map[ServiceName]*ServiceProtocol

	codesMu sync.Mutex
	codes   []RemoteCode
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return newClient(cfg, DefaultDelay, http.DefaultClient)
}

func newClient(cfg Config, delay time.Duration, hc *http.Client) *Client {
	c := &Client{
		cfg:        cfg,
		delay:      delay,
		baseURL:    fmt.Sprintf("http://%s:%d/sony", cfg.Host, cfg.Port),
		httpClient: hc,
		services:   make(map[ServiceName]*ServiceProtocol, len(ServiceNames)),
	}

	for _, name := range ServiceNames {
		c.services[name] = newServiceProtocol(c, name)
	}

	return c
}

// WithDelay returns a new client that waits d between IRCC codes.  Caches are
// not carried over.
func (c *Client) WithDelay(d time.Duration) *Client {
	return newClient(c.cfg, d, c.httpClient)
}

// WithHTTPClient returns a new client using hc for requests.  Caches are not
// carried over.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	return newClient(c.cfg, c.delay, hc)
}

func (c *Client) Config() Config {
	return c.cfg
}

// Service returns the protocol invoker for a service, nil if the name is unknown
func (c *Client) Service(name ServiceName) *ServiceProtocol {
	return c.services[name]
}

func (c *Client) System() *ServiceProtocol    { return c.services[System] }
func (c *Client) Audio() *ServiceProtocol     { return c.services[Audio] }
func (c *Client) AVContent() *ServiceProtocol { return c.services[AVContent] }

// Invoke calls a method on a named service
func (c *Client) Invoke(ctx context.Context, service ServiceName, method, version string, params interface{}) (json.RawMessage, error) {
	sp := c.Service(service)
	if sp == nil {
		return nil, fmt.Errorf("unknown service protocol: %s", service)
	}

	return sp.Invoke(ctx, method, version, params)
}

// MakeContext derives the per-request deadline
func (c *Client) MakeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// POST a JSON body to the API and return the raw response body
func (c *Client) requestJSON(ctx context.Context, path string, body interface{}) ([]byte, error) {
	if !c.cfg.Configured() {
		return nil, ErrNotConfigured
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request body")
	}

	ctx, cancel := c.MakeContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(pskHeader, c.cfg.PSK)

	logging.Logger(ctx).Debugf("POST %s%s: %s", c.baseURL, path, reqBody)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "POST %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RequestFailedError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	bodyBytes, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	logging.Logger(ctx).Debugf("response from %s: %s", path, bodyBytes)

	return bodyBytes, nil
}
