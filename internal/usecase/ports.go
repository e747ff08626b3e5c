package usecase

import (
	"context"
	"time"

	"keystone/internal/domain"
)

// Clock supplies the current time. Deterministic in tests.
type Clock func() time.Time

// LicenseRepository persists licenses keyed by id and key fingerprint.
// The raw license key is never stored.
type LicenseRepository interface {
	Create(ctx context.Context, lic domain.License) (domain.License, error)
	GetByID(ctx context.Context, id string) (domain.License, error)
	GetByKeyHash(ctx context.Context, keyHash string) (domain.License, error)
	Update(ctx context.Context, lic domain.License) error
	UpdateStatus(ctx context.Context, id string, status domain.LicenseStatus) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, f LicenseFilter) ([]domain.License, int64, error)
}

// LicenseFilter narrows List results. Zero values mean "no filter".
type LicenseFilter struct {
	ProductID  string
	CustomerID string
	Status     domain.LicenseStatus
	Limit      int
	Offset     int
}

// ProductRepository persists product definitions.
type ProductRepository interface {
	Create(ctx context.Context, p domain.Product) (domain.Product, error)
	GetByID(ctx context.Context, id string) (domain.Product, error)
	GetByCode(ctx context.Context, code string) (domain.Product, error)
	List(ctx context.Context, limit, offset int) ([]domain.Product, error)
}

// MachineRepository persists device activations. A (license_id,
// fingerprint) pair is unique.
type MachineRepository interface {
	Create(ctx context.Context, m domain.Machine) (domain.Machine, error)
	GetByFingerprint(ctx context.Context, licenseID, fingerprint string) (domain.Machine, error)
	Update(ctx context.Context, m domain.Machine) error
	Delete(ctx context.Context, id string) error
	ListByLicense(ctx context.Context, licenseID string) ([]domain.Machine, error)
}

// CustomerRepository persists customers.
type CustomerRepository interface {
	Create(ctx context.Context, c domain.Customer) (domain.Customer, error)
	GetByID(ctx context.Context, id string) (domain.Customer, error)
	List(ctx context.Context, limit, offset int) ([]domain.Customer, error)
}

// AuditEventRepository persists the per-license hash chain.
// Head and Append are not atomic as a pair: callers must serialize
// appends per license id (AuditChain does).
type AuditEventRepository interface {
	Head(ctx context.Context, licenseID string) (domain.AuditEvent, error)
	Append(ctx context.Context, event domain.AuditEvent) error
	ListAsc(ctx context.Context, licenseID string) ([]domain.AuditEvent, error)
	List(ctx context.Context, licenseID string, eventType domain.AuditEventType, limit, offset int) ([]domain.AuditEvent, int64, error)
}

// ValidationCache holds recent validation outcomes keyed by key
// fingerprint. Validations served from here skip the audit chain, so a
// license.validated count reads as distinct validations, not requests.
type ValidationCache interface {
	Get(ctx context.Context, key string) (ValidationOutcome, bool)
	Put(ctx context.Context, key string, outcome ValidationOutcome, ttl time.Duration)
}

// EntitlementPolicy gates feature access beyond the resolved entitlement
// table, e.g. an OPA bundle. Implementations return ErrEntitlementDenied
// through the decision, not as an error.
type EntitlementPolicy interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyDecision, error)
}
