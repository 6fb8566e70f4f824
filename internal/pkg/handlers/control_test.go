package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jake-scott/bravia-control/internal/pkg/bravia"
	"github.com/jake-scott/bravia-control/internal/pkg/control"
)

type fakeController struct {
	mu       sync.Mutex
	payloads []string
	err      error
	state    *control.State
}

func (f *fakeController) Handle(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.payloads = append(f.payloads, string(payload))
	return f.err
}

func (f *fakeController) LastState() (control.State, bool) {
	if f.state == nil {
		return control.State{}, false
	}
	return *f.state, true
}

type fakeSender struct {
	codes []string
	err   error
}

func (f *fakeSender) Send(ctx context.Context, codes ...string) error {
	f.codes = append(f.codes, codes...)
	return f.err
}

type fakeInvoker struct {
	method  string
	payload string
	result  json.RawMessage
	err     error
}

func (f *fakeInvoker) Invoke(ctx context.Context, method string, payload json.RawMessage) (json.RawMessage, error) {
	f.method = method
	f.payload = string(payload)
	return f.result, f.err
}

type controlFixture struct {
	router     *mux.Router
	controller *fakeController
	status     *StatusStore
	sender     *fakeSender
	invoker    *fakeInvoker
}

func newControlFixture() *controlFixture {
	f := &controlFixture{
		router:     mux.NewRouter(),
		controller: &fakeController{},
		status:     &StatusStore{},
		sender:     &fakeSender{},
		invoker:    &fakeInvoker{},
	}

	h := NewControlHandler(f.controller, f.status, f.sender, f.invoker)
	h.Register(f.router)
	return f
}

func (f *controlFixture) post(target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestControlCommand(t *testing.T) {
	f := newControlFixture()

	rec := f.post("/control", `{"power":true,"input":"hdmi2"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.post("/control", `true`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, []string{`{"power":true,"input":"hdmi2"}`, `true`}, f.controller.payloads)
}

func TestControlCommandRejected(t *testing.T) {
	f := newControlFixture()

	assert.Equal(t, http.StatusBadRequest, f.post("/control", `{"power":`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/control", `{"volume":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/control", `{} {}`).Code)

	req := httptest.NewRequest(http.MethodPost, "/control", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.controller.payloads)
}

func TestControlCommandDeviceError(t *testing.T) {
	f := newControlFixture()
	f.controller.err = &bravia.RemoteMethodError{Code: 40000, Message: "Not Allowed"}

	rec := f.post("/control", `{"power":false}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"Not Allowed (code: 40000)"}`, rec.Body.String())

	f.controller.err = errors.Wrap(bravia.ErrNotConfigured, "polling")
	assert.Equal(t, http.StatusServiceUnavailable, f.post("/control", `{"power":false}`).Code)
}

func TestControlState(t *testing.T) {
	f := newControlFixture()

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/control/state", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	vol := 12
	f.controller.state = &control.State{Power: true, Volume: &vol}

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/control/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"power":true,"volume":12}`, rec.Body.String())
}

func TestControlStatus(t *testing.T) {
	f := newControlFixture()
	f.status.Status(control.Status{Fill: control.FillGrey, Shape: control.ShapeRing, Text: "power: standby"})
	f.status.Error(errors.New("boom"), nil)
	f.status.Send(map[string]bool{"power": false})

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/control/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fill":"grey","shape":"ring","text":"power: standby","lastError":"boom"}`, rec.Body.String())
}

func TestSendIRCC(t *testing.T) {
	f := newControlFixture()

	assert.Equal(t, http.StatusNoContent, f.post("/ircc", `{"codes":"Home, Down,,Confirm"}`).Code)
	assert.Equal(t, http.StatusNoContent, f.post("/ircc", `{"codes":["VolumeUp","AAAAAQAAAAEAAAASAw=="]}`).Code)

	assert.Equal(t, []string{"Home", "Down", "Confirm", "VolumeUp", "AAAAAQAAAAEAAAASAw=="}, f.sender.codes)
}

func TestSendIRCCRejected(t *testing.T) {
	f := newControlFixture()

	assert.Equal(t, http.StatusBadRequest, f.post("/ircc", `{"codes":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/ircc", `{"codes":5}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/ircc", `{}`).Code)
	assert.Empty(t, f.sender.codes)

	f.sender.err = errors.Wrap(&bravia.UnknownCodeError{Name: "Netflix"}, "sending")
	assert.Equal(t, http.StatusBadRequest, f.post("/ircc", `{"codes":"Netflix"}`).Code)

	f.sender.err = &bravia.DeviceFaultError{Description: "Action not authorized"}
	rec := f.post("/ircc", `{"codes":"Home"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Action not authorized")
}

func TestInvoke(t *testing.T) {
	f := newControlFixture()
	f.invoker.result = json.RawMessage(`{"status":"active"}`)

	rec := f.post("/invoke", `{"method":"system:1.0:getPowerStatus","payload":{"a":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"active"}`, rec.Body.String())
	assert.Equal(t, "system:1.0:getPowerStatus", f.invoker.method)
	assert.JSONEq(t, `{"a":1}`, f.invoker.payload)

	f.invoker.result = nil
	rec = f.post("/invoke", `{"method":"audio:1.0:setAudioMute"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `null`, rec.Body.String())

	f.invoker.err = &bravia.RequestFailedError{StatusCode: 403, Status: "Forbidden"}
	assert.Equal(t, http.StatusBadGateway, f.post("/invoke", `{"method":"audio:1.0:setAudioMute"}`).Code)
}

func TestParseCodes(t *testing.T) {
	codes, err := parseCodes(json.RawMessage(`"A,B"`))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, codes)

	_, err = parseCodes(nil)
	assert.Error(t, err)
}
