package signing_test

import (
	"testing"

	"github.com/weskerllc/cronicorn/internal/signing"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	key := []byte("super-secret-tenant-key")
	body := []byte(`{"hello":"world"}`)
	ts, sig := signing.Sign(key, 1_700_000_000, body)
	if ts != "1700000000" {
		t.Fatalf("timestamp header: got %s", ts)
	}

	ok, err := signing.Verify(key, 1_700_000_000, body, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected round-trip signature to verify")
	}
}

func TestVerify_BitFlipInBodyFails(t *testing.T) {
	key := []byte("super-secret-tenant-key")
	body := []byte(`{"hello":"world"}`)
	_, sig := signing.Sign(key, 1_700_000_000, body)

	tampered := []byte(`{"hello":"worle"}`)
	ok, err := signing.Verify(key, 1_700_000_000, tampered, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("expected tampered body to fail verification")
	}
}

func TestVerify_BitFlipInSignatureFails(t *testing.T) {
	key := []byte("super-secret-tenant-key")
	body := []byte(`{"hello":"world"}`)
	_, sig := signing.Sign(key, 1_700_000_000, body)

	tamperedSig := sig[:len(sig)-1] + "0"
	if tamperedSig == sig {
		tamperedSig = sig[:len(sig)-1] + "1"
	}
	ok, err := signing.Verify(key, 1_700_000_000, body, tamperedSig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("expected tampered signature to fail verification")
	}
}
