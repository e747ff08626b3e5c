// Package lease builds and verifies signed, time-bounded snapshots of
// license state. A lease lets a client prove license validity offline:
// the payload is readable (authenticated, not encrypted) and the
// signature binds it to an expiry chosen by the issuing server.
package lease

import (
	"errors"
	"fmt"
	"time"

	"keystone/internal/infra/crypto"
)

var (
	// ErrSignature means the lease content does not match its signature:
	// tampered payload, altered expiry, or an untrusted signing secret.
	ErrSignature = errors.New("lease signature mismatch")
	// ErrExpired means the signature is authentic but the lease window has
	// passed. Callers treat this as "revalidate", not "reject".
	ErrExpired = errors.New("lease expired")
	// ErrMalformed means required fields are missing or unparseable.
	ErrMalformed = errors.New("lease malformed")
)

// Entitlement is the per-feature quota snapshot carried in a lease
// payload. It mirrors the server's entitlement resolution at issue time
// so offline tooling can read quotas without reaching into server types.
type Entitlement struct {
	Feature   string `json:"feature"`
	Enabled   bool   `json:"enabled"`
	Limit     *int64 `json:"limit"`
	Used      int64  `json:"used"`
	Remaining *int64 `json:"remaining"`
}

// Payload is the license state snapshot signed into a lease.
type Payload struct {
	LicenseID    string        `json:"license_id"`
	Status       string        `json:"status"`
	Features     []string      `json:"features"`
	Entitlements []Entitlement `json:"entitlements"`
	Tier         string        `json:"tier"`
	ProductCode  string        `json:"product_code"`
	IssuedAt     string        `json:"issued_at"`
	ExpiresAt    string        `json:"expires_at"`
}

type Lease struct {
	Payload        Payload `json:"payload"`
	Signature      string  `json:"signature"`
	LeaseExpiresAt string  `json:"lease_expires_at"`
}

// Create signs payload with the current keyring secret for the given
// time-to-live. The expiry is truncated to whole seconds so the signed
// timestamp round-trips through its string form.
func Create(payload Payload, secret string, ttl time.Duration) (Lease, error) {
	return createAt(payload, secret, ttl, time.Now())
}

func createAt(payload Payload, secret string, ttl time.Duration, now time.Time) (Lease, error) {
	if secret == "" {
		return Lease{}, errors.New("signing secret is required")
	}
	expiresAt := now.UTC().Truncate(time.Second).Add(ttl)
	expiresStr := expiresAt.Format(time.RFC3339)

	message, err := signingMessage(payload, expiresStr)
	if err != nil {
		return Lease{}, err
	}
	return Lease{
		Payload:        payload,
		Signature:      crypto.SignHex(secret, message),
		LeaseExpiresAt: expiresStr,
	}, nil
}

// Verify recomputes the signature from the lease's own fields and checks
// the expiry window. It reports ErrSignature, ErrExpired, or ErrMalformed
// so callers can tell tampered from stale; nil means the lease is good.
func Verify(l Lease, secret string) error {
	return verifyAt(l, secret, time.Now())
}

func verifyAt(l Lease, secret string, now time.Time) error {
	if l.Signature == "" || l.LeaseExpiresAt == "" {
		return ErrMalformed
	}
	message, err := signingMessage(l.Payload, l.LeaseExpiresAt)
	if err != nil {
		return ErrMalformed
	}
	if !crypto.VerifyHex(secret, message, l.Signature) {
		return ErrSignature
	}
	expiresAt, err := parseExpiry(l.LeaseExpiresAt)
	if err != nil {
		return ErrMalformed
	}
	if !now.UTC().Before(expiresAt) {
		return ErrExpired
	}
	return nil
}

// Valid is the boolean form of Verify for callers that do not branch on
// the failure reason.
func Valid(l Lease, secret string) bool {
	return Verify(l, secret) == nil
}

func signingMessage(payload Payload, expiresAt string) ([]byte, error) {
	canonical, err := crypto.Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(canonical, "|%s", expiresAt), nil
}

// parseExpiry accepts RFC 3339 timestamps and tolerates a missing zone
// designator by assuming UTC.
func parseExpiry(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
