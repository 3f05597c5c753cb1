package ssrf_test

import (
	"context"
	"net"
	"testing"

	"github.com/weskerllc/cronicorn/internal/ssrf"
)

type fakeResolver struct {
	addrs map[string][]net.IPAddr
	err   error
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.addrs[host], nil
}

func TestValidate_LiteralMetadataIP(t *testing.T) {
	v := ssrf.New()
	res, err := v.Validate(context.Background(), "http://169.254.169.254/latest/meta-data/")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected cloud metadata address to be blocked")
	}
}

func TestValidate_DNSRebindingToPrivateRange(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{
		"internal.example.com": {{IP: net.ParseIP("192.168.1.100")}},
	}}
	v := ssrf.NewWithResolver(resolver)
	res, err := v.Validate(context.Background(), "http://internal.example.com")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected hostname resolving to a private address to be blocked")
	}
}

func TestValidate_PublicAddressAllowed(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]net.IPAddr{
		"api.example.com": {{IP: net.ParseIP("203.0.113.50")}},
	}}
	v := ssrf.NewWithResolver(resolver)
	res, err := v.Validate(context.Background(), "https://api.example.com/ok")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected public address to be allowed, got reason: %s", res.Reason)
	}
}

func TestValidate_LiteralPublicIPAllowed(t *testing.T) {
	v := ssrf.New()
	res, err := v.Validate(context.Background(), "https://203.0.113.50/ok")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !res.Allowed {
		t.Fatalf("expected literal public ip to be allowed, got reason: %s", res.Reason)
	}
}

func TestValidate_NonHTTPScheme(t *testing.T) {
	v := ssrf.New()
	res, err := v.Validate(context.Background(), "ftp://example.com")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected non-http(s) scheme to be blocked")
	}
}

func TestValidate_LocalhostHostnames(t *testing.T) {
	v := ssrf.New()
	for _, host := range []string{"http://localhost", "http://sub.localhost", "http://localhost.example.com"} {
		res, err := v.Validate(context.Background(), host)
		if err != nil {
			t.Fatalf("validate %s: %v", host, err)
		}
		if res.Allowed {
			t.Fatalf("expected %s to be blocked", host)
		}
	}
}

func TestValidate_MonotoneInDenyList(t *testing.T) {
	// A URL already denied for scheme reasons stays denied regardless of any
	// additional range added to the IP deny lists (P8) — there is no way to
	// flip a deny to an allow by adding more blocked ranges.
	v := ssrf.New()
	res, err := v.Validate(context.Background(), "gopher://example.com")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Allowed {
		t.Fatal("expected gopher scheme to remain blocked")
	}
}
