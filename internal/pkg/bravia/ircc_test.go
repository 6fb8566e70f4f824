package bravia

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	homeToken = "AAAAAQAAAAEAAABgAw=="
	downToken = "AAAAAQAAAAEAAAB1Aw=="
	muteToken = "AAAAAQAAAAEAAAAUAw=="

	remoteInfo = `{"id":3,"result":[{"bundled":true,"type":"RM-J1100"},[` +
		`{"name":"Home","value":"` + homeToken + `"},` +
		`{"name":"Down","value":"` + downToken + `"}]]}`

	faultBody = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <s:Fault>
      <faultcode>s:Client</faultcode>
      <faultstring>UPnPError</faultstring>
      <detail>
        <UPnPError xmlns="urn:schemas-upnp-org:control-1-0">
          <errorCode>800</errorCode>
          <errorDescription>Action not authorized</errorDescription>
        </UPnPError>
      </detail>
    </s:Fault>
  </s:Body>
</s:Envelope>`
)

func TestIsIRCCToken(t *testing.T) {
	assert.True(t, IsIRCCToken(homeToken))
	assert.True(t, IsIRCCToken("AAAAAgAAAJcAAAAaAw=="))
	assert.False(t, IsIRCCToken("Home"))
	assert.False(t, IsIRCCToken("AAAAQAAAAEAAABgAw=="))
	assert.False(t, IsIRCCToken(homeToken+"="))
}

func TestSendLiteralSkipsLookup(t *testing.T) {
	tv := newFakeTV(t).on(System, "getRemoteControllerInfo", remoteInfo)
	c := newTestClient(t, tv)

	require.NoError(t, c.Send(context.Background(), muteToken))

	assert.Empty(t, tv.apiRequests())

	reqs := tv.irccRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, `"urn:schemas-sony-com:service:IRCC:1#X_SendIRCC"`, reqs[0].Header.Get("SOAPACTION"))
	assert.Equal(t, "text/xml; charset=UTF-8", reqs[0].Header.Get("Content-Type"))
	assert.Equal(t, testPSK, reqs[0].Header.Get("X-Auth-PSK"))
	assert.Contains(t, string(reqs[0].Body), "<IRCCCode>"+muteToken+"</IRCCCode>")
}

func TestSendSymbolicResolvesOnce(t *testing.T) {
	tv := newFakeTV(t).on(System, "getRemoteControllerInfo", remoteInfo)
	c := newTestClient(t, tv)

	require.NoError(t, c.Send(context.Background(), "Home", "Down"))
	require.NoError(t, c.Send(context.Background(), "Home"))

	assert.Len(t, tv.apiRequests(), 1)

	reqs := tv.irccRequests()
	require.Len(t, reqs, 3)
	assert.Contains(t, string(reqs[0].Body), homeToken)
	assert.Contains(t, string(reqs[1].Body), downToken)
	assert.Contains(t, string(reqs[2].Body), homeToken)
}

func TestSendUnknownCode(t *testing.T) {
	tv := newFakeTV(t).on(System, "getRemoteControllerInfo", remoteInfo)
	c := newTestClient(t, tv)

	err := c.Send(context.Background(), "Home", "Netflix", "Down")
	require.Error(t, err)

	var uce *UnknownCodeError
	require.True(t, errors.As(err, &uce))
	assert.Equal(t, "Netflix", uce.Name)

	// codes before the unknown one have already been sent
	assert.Len(t, tv.irccRequests(), 1)
}

func TestSendSpacing(t *testing.T) {
	tv := newFakeTV(t)
	delay := 40 * time.Millisecond
	c := newTestClient(t, tv).WithDelay(delay)

	start := time.Now()
	require.NoError(t, c.Send(context.Background(), homeToken, downToken, muteToken))
	elapsed := time.Since(start)

	reqs := tv.irccRequests()
	require.Len(t, reqs, 3)
	for i := 1; i < len(reqs); i++ {
		assert.GreaterOrEqual(t, int64(reqs[i].Arrived.Sub(reqs[i-1].Arrived)), int64(delay))
	}
	assert.GreaterOrEqual(t, int64(elapsed), int64(2*delay))
}

func TestSendCancelled(t *testing.T) {
	tv := newFakeTV(t)
	c := newTestClient(t, tv).WithDelay(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Send(ctx, homeToken, downToken)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Len(t, tv.irccRequests(), 1)
}

func TestSendDeviceFault(t *testing.T) {
	tv := newFakeTV(t)
	tv.irccStatus = http.StatusInternalServerError
	tv.irccBody = faultBody
	c := newTestClient(t, tv)

	err := c.Send(context.Background(), homeToken)
	require.Error(t, err)

	var dfe *DeviceFaultError
	require.True(t, errors.As(err, &dfe))
	assert.Equal(t, "Action not authorized", dfe.Description)
}

func TestSendTransportFailed(t *testing.T) {
	tv := newFakeTV(t)
	tv.irccStatus = http.StatusServiceUnavailable
	tv.irccBody = "<html>busy</html>"
	c := newTestClient(t, tv)

	err := c.Send(context.Background(), homeToken)
	require.Error(t, err)

	var tfe *TransportFailedError
	require.True(t, errors.As(err, &tfe))
	assert.Equal(t, http.StatusServiceUnavailable, tfe.StatusCode)
}

func TestSendStopsAtFirstFailure(t *testing.T) {
	tv := newFakeTV(t)
	tv.irccStatus = http.StatusInternalServerError
	tv.irccFailAt = 2
	c := newTestClient(t, tv)

	err := c.Send(context.Background(), homeToken, downToken, muteToken)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), downToken))

	assert.Len(t, tv.irccRequests(), 2)
}

func TestRemoteCodes(t *testing.T) {
	tv := newFakeTV(t).on(System, "getRemoteControllerInfo", remoteInfo)
	c := newTestClient(t, tv)

	codes, err := c.RemoteCodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []RemoteCode{{Name: "Home", Value: homeToken}, {Name: "Down", Value: downToken}}, codes)
}
