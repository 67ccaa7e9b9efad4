package ipinfo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tailctl/internal/adapter/fake"
)

func TestNormalizeASN(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"  ", ""},
		{"13335", "AS13335"},
		{"AS13335", "AS13335"},
		{"AS13335 Cloudflare", "AS13335"},
		{"ASabc", "ASabc"},
		{"Cloudflare", "Cloudflare"},
		{"AS", "AS"},
	}
	for _, tc := range cases {
		if got := normalizeASN(tc.in); got != tc.want {
			t.Errorf("normalizeASN(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseIPInfo(t *testing.T) {
	body := []byte(`{
		"ip": "203.0.113.10",
		"org": "AS13335 Cloudflare, Inc.",
		"city": "Warsaw",
		"region": "Mazovia",
		"country": "PL",
		"loc": "52.2297,21.0122"
	}`)
	info, err := parseIPInfo(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.IP != "203.0.113.10" {
		t.Errorf("IP = %q", info.IP)
	}
	// No asn field: the number is recovered from the org prefix.
	if info.ASN != "AS13335" {
		t.Errorf("ASN = %q, want AS13335", info.ASN)
	}
	if info.Loc != "52.2297,21.0122" {
		t.Errorf("Loc = %q", info.Loc)
	}
}

func TestParseIPAPI(t *testing.T) {
	body := []byte(`{
		"ip": "203.0.113.10",
		"org_name": "Example Net",
		"asn": "AS64500",
		"city": "Oslo",
		"country": "NO",
		"latitude": 59.91,
		"longitude": 10.75
	}`)
	info, err := parseIPAPI(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Org != "Example Net" {
		t.Errorf("Org = %q, want fallback to org_name", info.Org)
	}
	if info.ASN != "AS64500" {
		t.Errorf("ASN = %q", info.ASN)
	}
	if info.Loc != "59.91,10.75" {
		t.Errorf("Loc = %q", info.Loc)
	}
}

func TestParseIPAPI_MissingCoordinates(t *testing.T) {
	info, err := parseIPAPI([]byte(`{"ip": "203.0.113.10"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.Loc != "" {
		t.Errorf("Loc = %q, want empty when coordinates are absent", info.Loc)
	}
}

func TestParseIfconfig(t *testing.T) {
	cases := []struct {
		name string
		body string
		asn  string
	}{
		{"numeric asn", `{"ip": "203.0.113.10", "asn": 64500, "asn_org": "Example"}`, "AS64500"},
		{"quoted asn", `{"ip": "203.0.113.10", "asn": "AS64500", "asn_org": "Example"}`, "AS64500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info, err := parseIfconfig([]byte(tc.body))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if info.ASN != tc.asn {
				t.Errorf("ASN = %q, want %q", info.ASN, tc.asn)
			}
			if info.Org != "Example" {
				t.Errorf("Org = %q", info.Org)
			}
		})
	}
}

func newTestFetcher(t *testing.T, handlers ...http.HandlerFunc) (*Fetcher, *fake.Clock) {
	t.Helper()
	clk := fake.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	providers := make([]provider, 0, len(handlers))
	parsers := []func([]byte) (Info, error){parseIPInfo, parseIPAPI, parseIfconfig}
	for i, h := range handlers {
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		providers = append(providers, provider{url: srv.URL, parse: parsers[i%len(parsers)]})
	}

	f := NewFetcher(
		WithClock(clk),
		WithClient(&http.Client{Timeout: time.Second}),
		withProviders(providers),
	)
	return f, clk
}

func TestFetcher_FallsThroughFailingProviders(t *testing.T) {
	f, _ := newTestFetcher(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
		func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"ip": "203.0.113.10", "org_name": "Example Net"}`))
		},
	)

	info, err := f.Lookup(context.Background(), false)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.IP != "203.0.113.10" {
		t.Fatalf("IP = %q", info.IP)
	}
}

func TestFetcher_AllProvidersFail(t *testing.T) {
	f, _ := newTestFetcher(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	)

	if _, err := f.Lookup(context.Background(), false); err == nil {
		t.Fatal("expected an error when every provider fails")
	}
}

func TestFetcher_TTLCache(t *testing.T) {
	var hits atomic.Int64
	f, clk := newTestFetcher(t,
		func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			w.Write([]byte(`{"ip": "203.0.113.10"}`))
		},
	)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.Lookup(ctx, false); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("provider hit %d times inside the TTL, want 1", hits.Load())
	}

	// force bypasses the cache.
	if _, err := f.Lookup(ctx, true); err != nil {
		t.Fatalf("forced lookup: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("forced lookup did not reach the provider, hits = %d", hits.Load())
	}

	// Expiry triggers a refetch.
	clk.Advance(defaultTTL + time.Second)
	if _, err := f.Lookup(ctx, false); err != nil {
		t.Fatalf("post-expiry lookup: %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("expired cache not refetched, hits = %d", hits.Load())
	}
}

func TestFetcher_EmptyAddressSkipsProvider(t *testing.T) {
	f, _ := newTestFetcher(t,
		func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"org": "AS64500 Example"}`))
		},
		func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"ip": "203.0.113.20"}`))
		},
	)

	info, err := f.Lookup(context.Background(), false)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if info.IP != "203.0.113.20" {
		t.Fatalf("IP = %q, want the second provider's answer", info.IP)
	}
}
