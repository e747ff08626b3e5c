package lease

import (
	"errors"
	"testing"
	"time"

	"keystone/internal/infra/crypto"
)

func testPayload() Payload {
	limit := int64(100000)
	remaining := int64(99000)
	return Payload{
		LicenseID: "lic-123",
		Status:    "active",
		Features:  []string{"core.analytics", "core.export"},
		Entitlements: []Entitlement{
			{Feature: "core.analytics", Enabled: true, Limit: &limit, Used: 1000, Remaining: &remaining},
			{Feature: "core.export", Enabled: true},
		},
		Tier:        "pro",
		ProductCode: "ZUL",
		IssuedAt:    "2026-08-26T10:00:00Z",
		ExpiresAt:   "2027-08-26T10:00:00Z",
	}
}

func TestCreateVerify_RoundTrip(t *testing.T) {
	l, err := Create(testPayload(), "secret", 86400*time.Second)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := Verify(l, "secret"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !Valid(l, "secret") {
		t.Fatal("Valid reported false for a good lease")
	}
	if err := Verify(l, "other-secret"); !errors.Is(err, ErrSignature) {
		t.Fatalf("wrong secret: err = %v, want ErrSignature", err)
	}
}

func TestCreate_ZeroTTLExpiresImmediately(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 500_000_000, time.UTC)
	l, err := createAt(testPayload(), "secret", 0, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Any positive delay past the truncated issue instant is stale.
	if err := verifyAt(l, "secret", now.Add(time.Millisecond)); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestVerify_WithinWindow(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	l, err := createAt(testPayload(), "secret", 86400*time.Second, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := verifyAt(l, "secret", now.Add(time.Hour)); err != nil {
		t.Fatalf("verify inside window: %v", err)
	}
	if err := verifyAt(l, "secret", now.Add(25*time.Hour)); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

// Mutating any payload field after signing must fail with a signature
// error, never an expiry error.
func TestVerify_PayloadTamper(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	l, err := createAt(testPayload(), "secret", time.Hour, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mutations := map[string]func(*Lease){
		"license_id":       func(l *Lease) { l.Payload.LicenseID = "lic-999" },
		"status":           func(l *Lease) { l.Payload.Status = "revoked" },
		"features":         func(l *Lease) { l.Payload.Features = append(l.Payload.Features, "core.admin") },
		"entitlement used": func(l *Lease) { l.Payload.Entitlements[0].Used = 0 },
		"tier":             func(l *Lease) { l.Payload.Tier = "enterprise" },
		"product_code":     func(l *Lease) { l.Payload.ProductCode = "AAA" },
		"issued_at":        func(l *Lease) { l.Payload.IssuedAt = "2020-01-01T00:00:00Z" },
		"expires_at":       func(l *Lease) { l.Payload.ExpiresAt = "2099-01-01T00:00:00Z" },
		"lease expiry":     func(l *Lease) { l.LeaseExpiresAt = "2099-01-01T00:00:00Z" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			tampered := l
			tampered.Payload.Features = append([]string(nil), l.Payload.Features...)
			tampered.Payload.Entitlements = append([]Entitlement(nil), l.Payload.Entitlements...)
			mutate(&tampered)
			if err := verifyAt(tampered, "secret", now.Add(time.Minute)); !errors.Is(err, ErrSignature) {
				t.Fatalf("err = %v, want ErrSignature", err)
			}
		})
	}
}

func TestVerify_Malformed(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	good, err := createAt(testPayload(), "secret", time.Hour, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	noSig := good
	noSig.Signature = ""
	if err := verifyAt(noSig, "secret", now); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing signature: err = %v, want ErrMalformed", err)
	}

	noExpiry := good
	noExpiry.LeaseExpiresAt = ""
	if err := verifyAt(noExpiry, "secret", now); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing expiry: err = %v, want ErrMalformed", err)
	}
}

// An expiry without a zone designator is treated as UTC rather than
// rejected.
func TestVerify_NaiveExpiryAssumesUTC(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	payload := testPayload()
	naive := "2026-08-26T13:00:00"

	message, err := signingMessage(payload, naive)
	if err != nil {
		t.Fatalf("signing message: %v", err)
	}
	l := Lease{
		Payload:        payload,
		Signature:      crypto.SignHex("secret", message),
		LeaseExpiresAt: naive,
	}
	if err := verifyAt(l, "secret", now); err != nil {
		t.Fatalf("naive expiry inside window: %v", err)
	}
	if err := verifyAt(l, "secret", now.Add(2*time.Hour)); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestCreate_RequiresSecret(t *testing.T) {
	if _, err := Create(testPayload(), "", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}
