package bravia

import (
	"context"
	"encoding/xml"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/korovkin/limiter"
	"github.com/pkg/errors"

	"github.com/jake-scott/bravia-control/internal/pkg/logging"
	"github.com/jake-scott/bravia-control/internal/pkg/metrics"
)

const (
	SSDPAddress            = "239.255.255.250:1900"
	DefaultDiscoverTimeout = time.Second * 3

	defaultMaxFetches = 4
)

var locationRegexp = regexp.MustCompile(`(?i)LOCATION:\s*(.+)\r\n`)

// Endpoint is the location of a TV's control service
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Device identifies a TV found by discovery
type Device struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	FriendlyName    string `json:"friendlyName"`
	Manufacturer    string `json:"manufacturer"`
	ManufacturerURL string `json:"manufacturerURL"`
	ModelName       string `json:"modelName"`
	UDN             string `json:"UDN"`
}

func (d Device) Endpoint() Endpoint {
	return Endpoint{Host: d.Host, Port: d.Port}
}

/*
 *  Device description document, only the parts we use:
 *
 *  <root xmlns="urn:schemas-upnp-org:device-1-0">
 *    <device>
 *      <friendlyName>KD-55XF9005</friendlyName>
 *      ...
 *      <serviceList>
 *        <service>
 *          <serviceType>urn:schemas-sony-com:service:IRCC:1</serviceType>
 *          <controlURL>http://192.168.1.20/sony/IRCC</controlURL>
 *        </service>
 *      </serviceList>
 *    </device>
 *  </root>
 */

type descService struct {
	ServiceType string `xml:"serviceType"`
	ControlURL  string `xml:"controlURL"`
}

type descDevice struct {
	FriendlyName    string `xml:"friendlyName"`
	Manufacturer    string `xml:"manufacturer"`
	ManufacturerURL string `xml:"manufacturerURL"`
	ModelName       string `xml:"modelName"`
	UDN             string `xml:"UDN"`
	ServiceList     *struct {
		Services []descService `xml:"service"`
	} `xml:"serviceList"`
}

type descRoot struct {
	XMLName xml.Name    `xml:"root"`
	Device  *descDevice `xml:"device"`
}

// Discoverer finds TVs on the local network with an SSDP M-SEARCH
type Discoverer struct {
	address     string
	serviceType string
	httpClient  *http.Client
	maxFetches  int
}

func NewDiscoverer() *Discoverer {
	return &Discoverer{
		address:     SSDPAddress,
		serviceType: irccServiceType,
		httpClient:  http.DefaultClient,
		maxFetches:  defaultMaxFetches,
	}
}

// WithAddress sends the search to addr instead of the SSDP multicast group
func (d *Discoverer) WithAddress(addr string) *Discoverer {
	nd := *d
	nd.address = addr
	return &nd
}

func (d *Discoverer) WithHTTPClient(hc *http.Client) *Discoverer {
	nd := *d
	nd.httpClient = hc
	return &nd
}

// WithMaxFetches bounds the number of description documents fetched at once
func (d *Discoverer) WithMaxFetches(n int) *Discoverer {
	nd := *d
	if n > 0 {
		nd.maxFetches = n
	}
	return &nd
}

// Discover searches with the default discoverer
func Discover(ctx context.Context, timeout time.Duration) []Device {
	return NewDiscoverer().Discover(ctx, timeout)
}

func (d *Discoverer) searchMessage() []byte {
	return []byte(fmt.Sprintf("M-SEARCH * HTTP/1.1\r\nHOST: %s\r\nMAN: \"ssdp:discover\"\r\nMX: 1\r\nST: %s\r\n\r\n", SSDPAddress, d.serviceType))
}

// Discover sends one search and collects replies until timeout has elapsed.
// It never fails: responders whose description can't be fetched or doesn't
// advertise the IRCC service are left out of the result.
func (d *Discoverer) Discover(ctx context.Context, timeout time.Duration) []Device {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctxLogger := logging.Logger(ctx)

	raddr, err := net.ResolveUDPAddr("udp4", d.address)
	if err != nil {
		ctxLogger.WithError(err).Warnf("discovery: resolving %s", d.address)
		return []Device{}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		ctxLogger.WithError(err).Warn("discovery: opening socket")
		return []Device{}
	}

	// The socket lives exactly as long as the discovery deadline
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if _, err := conn.WriteToUDP(d.searchMessage(), raddr); err != nil {
		ctxLogger.WithError(err).Warn("discovery: sending search")
		return []Device{}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]*Device)
		// insertion order, so results are stable
		order []string
	)

	limit := limiter.NewConcurrencyLimiter(d.maxFetches)
	buf := make([]byte, 8192)

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}

		m := locationRegexp.FindSubmatch(buf[:n])
		if m == nil {
			continue
		}
		location := strings.TrimSpace(string(m[1]))

		// mark as seen before fetching so duplicate replies are ignored
		mu.Lock()
		_, dup := seen[location]
		if !dup {
			seen[location] = nil
			order = append(order, location)
		}
		mu.Unlock()

		if dup {
			continue
		}

		limit.Execute(func() {
			dev, err := d.describe(ctx, location)
			if err != nil {
				metrics.ObserveDiscovery(metrics.OutcomeDropped)
				ctxLogger.WithError(err).Debugf("discovery: ignoring %s", location)
				return
			}

			metrics.ObserveDiscovery(metrics.OutcomeOK)
			mu.Lock()
			seen[location] = dev
			mu.Unlock()
		})
	}

	// fetches are bound by ctx, so this returns promptly after the deadline
	limit.Wait()

	mu.Lock()
	defer mu.Unlock()

	devices := make([]Device, 0, len(order))
	for _, location := range order {
		if dev := seen[location]; dev != nil {
			devices = append(devices, *dev)
		}
	}

	ctxLogger.Debugf("discovery: %d responders, %d devices", len(order), len(devices))
	return devices
}

// Fetch and parse the description document at location
func (d *Discoverer) describe(ctx context.Context, location string) (*Device, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building description request")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching description")
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading description")
	}

	return parseDescription(body, d.serviceType)
}

func parseDescription(body []byte, serviceType string) (*Device, error) {
	var root descRoot
	if err := xml.Unmarshal(body, &root); err != nil {
		return nil, errors.Wrap(err, "parsing description")
	}

	dev := root.Device
	if dev == nil {
		return nil, errors.New("description has no device")
	}
	if dev.ServiceList == nil {
		return nil, errors.New("device has no service list")
	}

	var service *descService
	for i := range dev.ServiceList.Services {
		if dev.ServiceList.Services[i].ServiceType == serviceType {
			service = &dev.ServiceList.Services[i]
			break
		}
	}
	if service == nil {
		return nil, fmt.Errorf("device does not offer %s", serviceType)
	}

	u, err := url.Parse(strings.TrimSpace(service.ControlURL))
	if err != nil {
		return nil, errors.Wrap(err, "parsing control URL")
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("control URL has no host: %s", service.ControlURL)
	}

	port := DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrap(err, "parsing control URL port")
		}
	}

	return &Device{
		Host:            u.Hostname(),
		Port:            port,
		FriendlyName:    dev.FriendlyName,
		Manufacturer:    dev.Manufacturer,
		ManufacturerURL: dev.ManufacturerURL,
		ModelName:       dev.ModelName,
		UDN:             dev.UDN,
	}, nil
}
