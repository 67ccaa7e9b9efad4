// Package ipinfo resolves the machine's public IP and its network origin
// from public lookup services. Results are cached with a TTL so repeated
// status renders do not hammer the providers.
package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"tailctl"
)

const (
	// defaultTTL caches lookups for 5 minutes, long enough to survive a
	// refresh burst after an exit-node switch.
	defaultTTL = 5 * time.Minute
	// requestTimeout bounds each provider attempt.
	requestTimeout = 5 * time.Second

	userAgent = "tailctl/1.0"
)

// Info describes the public address as one provider reported it. Fields
// other than IP may be empty depending on the provider.
type Info struct {
	IP      string
	Org     string
	ASN     string
	City    string
	Region  string
	Country string
	Loc     string // "lat,lng"
}

type provider struct {
	url   string
	parse func([]byte) (Info, error)
}

// Fetcher queries providers in order until one answers, caching the
// result. Safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	clock     tailctl.Clock
	ttl       time.Duration
	providers []provider

	mu       sync.Mutex
	cached   *Info
	cachedAt time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTTL overrides the cache lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(f *Fetcher) { f.ttl = ttl }
}

// WithClock overrides the wall clock. Tests use a fake.
func WithClock(c tailctl.Clock) Option {
	return func(f *Fetcher) { f.clock = c }
}

// WithClient overrides the HTTP client. Tests point it at a local server.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// withProviders replaces the provider endpoints, keeping their parsers.
func withProviders(p []provider) Option {
	return func(f *Fetcher) { f.providers = p }
}

func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: requestTimeout},
		clock:  tailctl.RealClock{},
		ttl:    defaultTTL,
		providers: []provider{
			{"https://ipinfo.io/json", parseIPInfo},
			{"https://ipapi.co/json", parseIPAPI},
			{"https://ifconfig.co/json", parseIfconfig},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Lookup returns the public IP details, from cache when fresh. With force
// true the cache is bypassed. A nil result with a nil error never occurs;
// exhausting every provider returns an error wrapping the last failure.
func (f *Fetcher) Lookup(ctx context.Context, force bool) (Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	if !force && f.cached != nil && now.Sub(f.cachedAt) < f.ttl {
		return *f.cached, nil
	}

	info, err := f.fetch(ctx)
	if err != nil {
		return Info{}, err
	}
	f.cached = &info
	f.cachedAt = now
	return info, nil
}

func (f *Fetcher) fetch(ctx context.Context) (Info, error) {
	var lastErr error
	for _, p := range f.providers {
		info, err := f.query(ctx, p)
		if err != nil {
			slog.Debug("public ip provider failed", "url", p.url, "err", err)
			lastErr = err
			continue
		}
		if info.IP == "" {
			lastErr = fmt.Errorf("%s: response carried no address", p.url)
			continue
		}
		return info, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no providers configured")
	}
	return Info{}, fmt.Errorf("resolve public ip: %w", lastErr)
}

func (f *Fetcher) query(ctx context.Context, p provider) (Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Info{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Info{}, fmt.Errorf("%s: status %d", p.url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Info{}, err
	}
	return p.parse(body)
}

// normalizeASN canonicalizes provider ASN spellings to "AS<number>". Bare
// numbers gain the prefix; anything else passes through trimmed.
func normalizeASN(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if strings.HasPrefix(v, "AS") {
		if fields := strings.Fields(v[2:]); len(fields) > 0 && isDigits(fields[0]) {
			return "AS" + fields[0]
		}
		return v
	}
	if isDigits(v) {
		return "AS" + v
	}
	return v
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseIPInfo(body []byte) (Info, error) {
	var data struct {
		IP      string `json:"ip"`
		Org     string `json:"org"`
		ASN     string `json:"asn"`
		City    string `json:"city"`
		Region  string `json:"region"`
		Country string `json:"country"`
		Loc     string `json:"loc"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return Info{}, fmt.Errorf("decode ipinfo response: %w", err)
	}
	asn := normalizeASN(data.ASN)
	// ipinfo folds the ASN into the org field ("AS13335 Cloudflare, Inc.").
	if asn == "" && data.Org != "" {
		if first := strings.Fields(data.Org)[0]; strings.HasPrefix(first, "AS") {
			if norm := normalizeASN(first); strings.HasPrefix(norm, "AS") {
				asn = norm
			}
		}
	}
	return Info{
		IP:      data.IP,
		Org:     data.Org,
		ASN:     asn,
		City:    data.City,
		Region:  data.Region,
		Country: data.Country,
		Loc:     data.Loc,
	}, nil
}

func parseIPAPI(body []byte) (Info, error) {
	var data struct {
		IP        string   `json:"ip"`
		Org       string   `json:"org"`
		OrgName   string   `json:"org_name"`
		ASN       string   `json:"asn"`
		City      string   `json:"city"`
		Region    string   `json:"region"`
		Country   string   `json:"country"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return Info{}, fmt.Errorf("decode ipapi response: %w", err)
	}
	org := data.Org
	if org == "" {
		org = data.OrgName
	}
	return Info{
		IP:      data.IP,
		Org:     org,
		ASN:     normalizeASN(data.ASN),
		City:    data.City,
		Region:  data.Region,
		Country: data.Country,
		Loc:     formatLoc(data.Latitude, data.Longitude),
	}, nil
}

// flexString decodes a JSON string or number into its text form. Providers
// disagree on whether ASNs are quoted.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*s = flexString(num.String())
	return nil
}

func parseIfconfig(body []byte) (Info, error) {
	var data struct {
		IP         string     `json:"ip"`
		ASN        flexString `json:"asn"`
		ASNOrg     string     `json:"asn_org"`
		Org        string     `json:"org"`
		City       string     `json:"city"`
		RegionName string     `json:"region_name"`
		Region     string     `json:"region"`
		Country    string     `json:"country"`
		Latitude   *float64   `json:"latitude"`
		Longitude  *float64   `json:"longitude"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return Info{}, fmt.Errorf("decode ifconfig response: %w", err)
	}
	org := data.ASNOrg
	if org == "" {
		org = data.Org
	}
	region := data.RegionName
	if region == "" {
		region = data.Region
	}
	return Info{
		IP:      data.IP,
		Org:     org,
		ASN:     normalizeASN(string(data.ASN)),
		City:    data.City,
		Region:  region,
		Country: data.Country,
		Loc:     formatLoc(data.Latitude, data.Longitude),
	}, nil
}

func formatLoc(lat, lng *float64) string {
	if lat == nil || lng == nil {
		return ""
	}
	return fmt.Sprintf("%g,%g", *lat, *lng)
}
