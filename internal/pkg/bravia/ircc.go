package bravia

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io/ioutil"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jake-scott/bravia-control/internal/pkg/logging"
	"github.com/jake-scott/bravia-control/internal/pkg/metrics"
)

const (
	irccServiceType = "urn:schemas-sony-com:service:IRCC:1"
	irccSOAPAction  = `"` + irccServiceType + `#X_SendIRCC"`

	irccEnvelope = `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
  <s:Body>
    <u:X_SendIRCC xmlns:u="` + irccServiceType + `">
      <IRCCCode>%s</IRCCCode>
    </u:X_SendIRCC>
  </s:Body>
</s:Envelope>`
)

// A literal IRCC transmit token, eg. AAAAAQAAAAEAAAAvAw==
var irccTokenRegexp = regexp.MustCompile(`^A{5}[a-zA-Z0-9]{13}={2}$`)

// IsIRCCToken reports whether code is a literal transmit token rather than a name
func IsIRCCToken(code string) bool {
	return irccTokenRegexp.MatchString(code)
}

// RemoteCode maps a button name to its transmit token
type RemoteCode struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RemoteCodes returns the remote control codes the TV knows about.  The list
// is fetched on first use and cached for the life of the client.
func (c *Client) RemoteCodes(ctx context.Context) ([]RemoteCode, error) {
	c.codesMu.Lock()
	defer c.codesMu.Unlock()

	if c.codes != nil {
		return c.codes, nil
	}

	result, err := c.System().Invoke(ctx, "getRemoteControllerInfo", DefaultVersion, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetching remote controller info")
	}

	codes := []RemoteCode{}
	if present(result) {
		if err := json.Unmarshal(result, &codes); err != nil {
			return nil, errors.Wrap(err, "decoding remote controller info")
		}
	}

	c.codes = codes
	return c.codes, nil
}

func (c *Client) resolveCode(ctx context.Context, code string) (string, error) {
	if IsIRCCToken(code) {
		return code, nil
	}

	codes, err := c.RemoteCodes(ctx)
	if err != nil {
		return "", err
	}

	for _, rc := range codes {
		if rc.Name == code {
			return rc.Value, nil
		}
	}

	return "", &UnknownCodeError{Name: code}
}

// Send transmits IRCC codes in order, waiting between each one.  Codes may
// be names known to the TV or literal transmit tokens.  The first failure
// aborts the sequence.
func (c *Client) Send(ctx context.Context, codes ...string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for _, code := range codes {
		token, err := c.resolveCode(ctx, code)
		if err != nil {
			return err
		}

		err = c.sendIRCC(ctx, token)
		metrics.ObserveIRCC(err)
		if err != nil {
			return errors.Wrapf(err, "sending IRCC code %s", code)
		}

		logging.Logger(ctx).Debugf("sent IRCC code %s, waiting %s", code, c.delay)

		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	return nil
}

type soapFault struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Fault *struct {
			Detail struct {
				UPnPError *struct {
					ErrorCode        string `xml:"errorCode"`
					ErrorDescription string `xml:"errorDescription"`
				} `xml:"UPnPError"`
			} `xml:"detail"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

func decodeSOAPFault(body []byte) (string, bool) {
	var f soapFault
	if err := xml.Unmarshal(body, &f); err != nil {
		return "", false
	}

	if f.Body.Fault == nil || f.Body.Fault.Detail.UPnPError == nil {
		return "", false
	}

	desc := strings.TrimSpace(f.Body.Fault.Detail.UPnPError.ErrorDescription)
	return desc, desc != ""
}

func (c *Client) sendIRCC(ctx context.Context, token string) error {
	if !c.cfg.Configured() {
		return ErrNotConfigured
	}

	var body bytes.Buffer
	if err := xml.EscapeText(&body, []byte(token)); err != nil {
		return errors.Wrap(err, "escaping IRCC code")
	}
	envelope := fmt.Sprintf(irccEnvelope, body.String())

	ctx, cancel := c.MakeContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/IRCC", strings.NewReader(envelope))
	if err != nil {
		return errors.Wrap(err, "building IRCC request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPACTION", irccSOAPAction)
	req.Header.Set(pskHeader, c.cfg.PSK)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "POST /IRCC")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}

	respBody, err := ioutil.ReadAll(resp.Body)
	if err == nil {
		if desc, ok := decodeSOAPFault(respBody); ok {
			return &DeviceFaultError{Description: desc}
		}
	}

	return &TransportFailedError{StatusCode: resp.StatusCode}
}
