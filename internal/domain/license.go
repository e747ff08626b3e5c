package domain

import "time"

type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusRevoked   LicenseStatus = "revoked"
	LicenseStatusExpired   LicenseStatus = "expired"
)

type Product struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id,omitempty"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	DefaultTier string         `json:"default_tier,omitempty"`
	Features    map[string]any `json:"features,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Customer struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Name      string         `json:"name"`
	Email     string         `json:"email,omitempty"`
	Company   string         `json:"company,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// License never carries the raw key; only its SHA-256 fingerprint is stored.
type License struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id,omitempty"`
	KeyHash       string         `json:"key_hash"`
	Status        LicenseStatus  `json:"status"`
	Tier          string         `json:"tier"`
	ProductID     string         `json:"product_id"`
	CustomerID    string         `json:"customer_id,omitempty"`
	MachinesLimit int            `json:"machines_limit"`
	MachinesUsed  int            `json:"machines_used"`
	ExpiresAt     *time.Time     `json:"expires_at"`
	Features      map[string]any `json:"features,omitempty"`
	Entitlements  map[string]any `json:"entitlements,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

func (l License) Deleted() bool {
	return l.DeletedAt != nil
}

// Machine is a device activation slot consumed against a license's
// MachinesLimit. Fingerprint is the caller-supplied device identity,
// unique per license.
type Machine struct {
	ID            string         `json:"id"`
	LicenseID     string         `json:"license_id"`
	Fingerprint   string         `json:"fingerprint"`
	Hostname      string         `json:"hostname,omitempty"`
	Platform      string         `json:"platform,omitempty"`
	Version       string         `json:"version,omitempty"`
	LastHeartbeat *time.Time     `json:"last_heartbeat,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Entitlement is a resolved feature grant: product features merged with
// license-level overrides. Null limit means unmetered.
type Entitlement struct {
	Feature   string `json:"feature"`
	Enabled   bool   `json:"enabled"`
	Limit     *int64 `json:"limit"`
	Used      int64  `json:"used"`
	Remaining *int64 `json:"remaining"`
}
