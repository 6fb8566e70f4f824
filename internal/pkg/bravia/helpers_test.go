package bravia

import (
	"bytes"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testPSK = "0000"

// fakeTV answers API requests with canned envelopes, keyed by service and
// method, and records every request it sees
type fakeTV struct {
	t *testing.T

	mu        sync.Mutex
	responses map[string]string
	requests  []recordedRequest
	ircc      []recordedRequest

	irccStatus int
	irccBody   string
	// irccFailAt makes the nth IRCC request (1 based) fail
	irccFailAt int
}

type recordedRequest struct {
	Path    string
	Header  http.Header
	Body    []byte
	RPC     rpcRequest
	Arrived time.Time
}

func newFakeTV(t *testing.T) *fakeTV {
	return &fakeTV{t: t, responses: map[string]string{}}
}

func (f *fakeTV) on(service ServiceName, method, envelope string) *fakeTV {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.responses[string(service)+"."+method] = envelope
	return f
}

func (f *fakeTV) apiRequests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeTV) irccRequests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]recordedRequest(nil), f.ircc...)
}

func (f *fakeTV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := ioutil.ReadAll(r.Body)
	require.NoError(f.t, err)

	rec := recordedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: body, Arrived: time.Now()}

	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/sony/IRCC" {
		f.ircc = append(f.ircc, rec)

		if f.irccStatus != 0 && (f.irccFailAt == 0 || f.irccFailAt == len(f.ircc)) {
			w.WriteHeader(f.irccStatus)
			_, _ = w.Write([]byte(f.irccBody))
		}
		return
	}

	_ = json.Unmarshal(body, &rec.RPC)
	f.requests = append(f.requests, rec)

	service := r.URL.Path[len("/sony/"):]
	envelope, ok := f.responses[service+"."+rec.RPC.Method]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(envelope))
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewClient(Config{
		Host:    u.Hostname(),
		Port:    port,
		PSK:     testPSK,
		Timeout: 2 * time.Second,
	}).WithDelay(10 * time.Millisecond)
}

func contains(b []byte, s string) bool {
	return strings.Contains(string(b), s)
}

func nopBody(b []byte) io.ReadCloser {
	return ioutil.NopCloser(bytes.NewReader(b))
}
