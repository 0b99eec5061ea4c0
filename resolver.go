package ddns

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

// RecordKind is a DNS address record type.
type RecordKind string

const (
	KindA    RecordKind = "A"
	KindAAAA RecordKind = "AAAA"
)

// Family names an IP address family in detection results.
type Family string

const (
	FamilyIPv4 Family = "ipv4"
	FamilyIPv6 Family = "ipv6"
)

// Kind returns the record kind managed for this address family.
func (f Family) Kind() RecordKind {
	if f == FamilyIPv6 {
		return KindAAAA
	}
	return KindA
}

// Address is a detected public IP tagged with its record kind.
type Address struct {
	Kind RecordKind
	IP   string
}

// Detected holds the addresses found in one poll cycle. Any combination of
// families may be present; absence means the family could not be detected.
type Detected map[Family]Address

// Resolver detects the machine's current public addresses. A failed lookup
// is reported as an error and means "undetected this cycle", never fatal.
type Resolver interface {
	ResolveIPv4(ctx context.Context) (netip.Addr, error)
	ResolveIPv6(ctx context.Context) (netip.Addr, error)
}

// DefaultIPv4Services are plain "GET returns my IP" endpoints tried in
// order. The first 200 response wins.
var DefaultIPv4Services = []string{
	"https://api.ipify.org",
	"https://icanhazip.com",
	"https://ifconfig.me",
}

// DefaultIPv6Endpoints are cdn-cgi/trace endpoints reached over fixed IPv6
// literals, so the connection itself proves IPv6 connectivity. The second
// is a fallback anycast node.
var DefaultIPv6Endpoints = []string{
	"https://[2606:4700:4700::1111]/cdn-cgi/trace",
	"https://[2606:4700:4700::1001]/cdn-cgi/trace",
}

const lookupTimeout = 5 * time.Second

// WebResolver implements Resolver using external web services. The zero
// value uses the default service lists and http.DefaultClient.
type WebResolver struct {
	HTTPClient *http.Client

	// IPv4Services overrides DefaultIPv4Services when non-nil.
	IPv4Services []string

	// IPv6Endpoints overrides DefaultIPv6Endpoints when non-nil.
	IPv6Endpoints []string

	// Timeout bounds each individual service request. Defaults to 5s.
	Timeout time.Duration
}

// ResolveIPv4 tries each configured service in order and returns the first
// address a service reports with a 200 response.
func (wr *WebResolver) ResolveIPv4(ctx context.Context) (netip.Addr, error) {
	services := wr.IPv4Services
	if services == nil {
		services = DefaultIPv4Services
	}
	var errs []error
	for _, service := range services {
		addr, err := wr.lookup(ctx, service)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", service, err))
			continue
		}
		if !addr.Unmap().Is4() {
			errs = append(errs, fmt.Errorf("%s: returned non-IPv4 address %s", service, addr))
			continue
		}
		return addr.Unmap(), nil
	}
	return netip.Addr{}, fmt.Errorf("all IPv4 detection services failed: %w", errors.Join(errs...))
}

// ResolveIPv6 queries the trace endpoints in order, parsing the ip key from
// the newline-delimited key=value response body.
func (wr *WebResolver) ResolveIPv6(ctx context.Context) (netip.Addr, error) {
	endpoints := wr.IPv6Endpoints
	if endpoints == nil {
		endpoints = DefaultIPv6Endpoints
	}
	var errs []error
	for _, endpoint := range endpoints {
		addr, err := wr.trace(ctx, endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
			continue
		}
		if !addr.Is6() || addr.Unmap().Is4() {
			errs = append(errs, fmt.Errorf("%s: returned non-IPv6 address %s", endpoint, addr))
			continue
		}
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("all IPv6 detection endpoints failed: %w", errors.Join(errs...))
}

func (wr *WebResolver) lookup(ctx context.Context, url string) (netip.Addr, error) {
	body, err := wr.get(ctx, url)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(string(body)))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from response body: %w", err)
	}
	return addr, nil
}

func (wr *WebResolver) trace(ctx context.Context, url string) (netip.Addr, error) {
	body, err := wr.get(ctx, url)
	if err != nil {
		return netip.Addr{}, err
	}
	ip, err := traceIP(body)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("error parsing IP address from trace body: %w", err)
	}
	return addr, nil
}

func (wr *WebResolver) get(ctx context.Context, url string) ([]byte, error) {
	timeout := wr.Timeout
	if timeout == 0 {
		timeout = lookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	httpclient := wr.HTTPClient
	if httpclient == nil {
		httpclient = http.DefaultClient
	}

	resp, err := httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http request returned %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4096))
}

// traceIP extracts the ip key from a cdn-cgi/trace response, which is a
// series of key=value lines.
func traceIP(body []byte) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if found && key == "ip" {
			return value, nil
		}
	}
	return "", errors.New("no ip key in trace response")
}
