package connectivity

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"resty.dev/v3"
)

// InterfacesUp is the default platform signal: some non-loopback interface
// is up.
func InterfacesUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		// Unknown is not a fast negative
		return true
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}

// AlwaysUp is the platform signal for hosts where interface flags say
// nothing useful, such as containers with only a veth pair.
func AlwaysUp() bool { return true }

// HTTPProbe checks general internet reachability with a HEAD request.
type HTTPProbe struct {
	client *resty.Client
	url    string
}

func NewHTTPProbe(url, userAgent string) *HTTPProbe {
	c := resty.New().SetHeader("User-Agent", userAgent)
	return &HTTPProbe{client: c, url: url}
}

func (p *HTTPProbe) Probe(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Cache-Control", "no-cache").
		SetQueryParam("_", strconv.FormatInt(time.Now().UnixNano(), 10)).
		Head(p.url)
	if err != nil {
		return err
	}
	if resp.StatusCode() >= 500 {
		return fmt.Errorf("probe %s: status %d", p.url, resp.StatusCode())
	}
	return nil
}

// Close releases the probe's HTTP client
func (p *HTTPProbe) Close() error {
	return p.client.Close()
}
