package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"keystone/internal/domain"
	"keystone/pkg/keycodec"
	"keystone/pkg/lease"
)

// ValidationOutcome is the full result of validating a raw license key:
// the offline check result and, when the license is good, its resolved
// entitlements and a fresh offline lease.
type ValidationOutcome struct {
	Result       keycodec.ValidationResult `json:"result"`
	License      *domain.License           `json:"license,omitempty"`
	Features     []string                  `json:"features,omitempty"`
	Entitlements []domain.Entitlement      `json:"entitlements,omitempty"`
	Lease        *lease.Lease              `json:"lease,omitempty"`
}

// ValidateLicenseDeps wires the validation pipeline.
type ValidateLicenseDeps struct {
	Licenses LicenseRepository
	Products ProductRepository
	Audit    *AuditChain
	Ring     *domain.Keyring
	Cache    ValidationCache // optional
	LeaseTTL time.Duration
	// OfflineLeaseTTL bounds leases handed to disconnected clients.
	OfflineLeaseTTL time.Duration
	CacheTTL        time.Duration
	Clock           Clock
}

// ValidateLicense runs the full pipeline: offline signature check,
// fingerprint lookup, status and expiry checks, entitlement resolution,
// lease issuance, and an audit record.
type ValidateLicense struct {
	deps ValidateLicenseDeps
}

func NewValidateLicense(deps ValidateLicenseDeps) *ValidateLicense {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.LeaseTTL <= 0 {
		deps.LeaseTTL = 24 * time.Hour
	}
	if deps.OfflineLeaseTTL <= 0 {
		deps.OfflineLeaseTTL = 72 * time.Hour
	}
	return &ValidateLicense{deps: deps}
}

// Execute validates rawKey. A nil error means the license is active and
// the outcome carries entitlements and a signed lease. Failures map to
// domain sentinels: ErrInvalidKey for keys that fail the offline check,
// ErrNotFound for unknown fingerprints, and the status sentinels for
// suspended, revoked, or expired licenses.
func (uc *ValidateLicense) Execute(ctx context.Context, rawKey, actor string) (ValidationOutcome, error) {
	return uc.execute(ctx, rawKey, actor, uc.deps.LeaseTTL, true)
}

// ExecuteOffline issues the longer offline lease for clients that will
// run disconnected. Offline validations bypass the cache so every call
// gets a fresh lease window.
func (uc *ValidateLicense) ExecuteOffline(ctx context.Context, rawKey, actor string) (ValidationOutcome, error) {
	return uc.execute(ctx, rawKey, actor, uc.deps.OfflineLeaseTTL, false)
}

func (uc *ValidateLicense) execute(ctx context.Context, rawKey, actor string, leaseTTL time.Duration, useCache bool) (ValidationOutcome, error) {
	ring := uc.deps.Ring.SecretsByVersion()

	result := keycodec.ValidateKeyMulti(rawKey, ring)
	if !result.Valid {
		return ValidationOutcome{Result: result}, fmt.Errorf("%w: %s", domain.ErrInvalidKey, result.Code)
	}

	fingerprint := keycodec.Fingerprint(rawKey)
	if useCache && uc.deps.Cache != nil {
		if cached, ok := uc.deps.Cache.Get(ctx, fingerprint); ok {
			return cached, nil
		}
	}

	lic, err := uc.deps.Licenses.GetByKeyHash(ctx, fingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ValidationOutcome{Result: result}, fmt.Errorf("%w: license key not registered", domain.ErrNotFound)
		}
		return ValidationOutcome{}, fmt.Errorf("validate: lookup license: %w", err)
	}

	now := uc.deps.Clock().UTC()
	if err := checkLicenseStatus(ctx, uc.deps.Licenses, &lic, now); err != nil {
		return ValidationOutcome{Result: result, License: &lic}, err
	}

	product, err := uc.deps.Products.GetByID(ctx, lic.ProductID)
	if err != nil {
		return ValidationOutcome{}, fmt.Errorf("validate: load product: %w", err)
	}

	ents := ResolveEntitlements(product.Features, licenseOverrides(lic))
	features := EnabledFeatures(ents)

	snapshot := lease.Payload{
		LicenseID:    lic.ID,
		Status:       string(lic.Status),
		Features:     features,
		Entitlements: leaseEntitlements(ents),
		Tier:         lic.Tier,
		ProductCode:  product.Code,
		IssuedAt:     now.Format(time.RFC3339),
		ExpiresAt:    formatExpiry(lic.ExpiresAt),
	}
	issued, err := lease.Create(snapshot, uc.deps.Ring.CurrentSecret(), leaseTTL)
	if err != nil {
		return ValidationOutcome{}, fmt.Errorf("validate: issue lease: %w", err)
	}

	if _, err := uc.deps.Audit.RecordEvent(ctx, lic.ID, domain.AuditEventLicenseValidated, actor, map[string]any{
		"product_code": product.Code,
		"tier":         lic.Tier,
	}); err != nil {
		return ValidationOutcome{}, err
	}

	outcome := ValidationOutcome{
		Result:       result,
		License:      &lic,
		Features:     features,
		Entitlements: ents,
		Lease:        &issued,
	}
	if useCache && uc.deps.Cache != nil && uc.deps.CacheTTL > 0 {
		uc.deps.Cache.Put(ctx, fingerprint, outcome, uc.deps.CacheTTL)
	}
	return outcome, nil
}

// CheckEntitlement answers whether a validated license may use a feature.
// With a policy engine configured the engine decides; otherwise the
// resolved entitlement table does.
func (uc *ValidateLicense) CheckEntitlement(ctx context.Context, policy EntitlementPolicy, lic domain.License, productCode, feature string, ents []domain.Entitlement) (domain.PolicyDecision, error) {
	if policy != nil {
		input := domain.PolicyInput{
			LicenseID:    lic.ID,
			ProductCode:  productCode,
			Tier:         lic.Tier,
			Feature:      feature,
			Entitlements: ents,
		}
		return policy.Evaluate(ctx, input)
	}
	ent, ok := FindEntitlement(ents, feature)
	if !ok || !ent.Enabled {
		return domain.PolicyDecision{Allow: false, Reason: "feature not entitled"}, nil
	}
	if ent.Remaining != nil && *ent.Remaining <= 0 {
		return domain.PolicyDecision{Allow: false, Reason: "feature limit exhausted"}, nil
	}
	return domain.PolicyDecision{Allow: true}, nil
}

// checkLicenseStatus rejects non-active licenses. A license past its
// expiry is flipped to expired and persisted before rejection so later
// reads agree. Shared by validation and activation.
func checkLicenseStatus(ctx context.Context, licenses LicenseRepository, lic *domain.License, now time.Time) error {
	switch lic.Status {
	case domain.LicenseStatusSuspended:
		return domain.ErrLicenseSuspended
	case domain.LicenseStatusRevoked:
		return domain.ErrLicenseRevoked
	case domain.LicenseStatusExpired:
		return domain.ErrLicenseExpired
	}
	if lic.ExpiresAt != nil && !now.Before(lic.ExpiresAt.UTC()) {
		lic.Status = domain.LicenseStatusExpired
		if err := licenses.UpdateStatus(ctx, lic.ID, domain.LicenseStatusExpired); err != nil {
			return fmt.Errorf("persist expiry: %w", err)
		}
		return domain.ErrLicenseExpired
	}
	return nil
}

// VerifyLease checks a client-presented lease against every keyring
// secret, so leases signed before a rotation stay verifiable. The worst
// failure wins: a signature that matches no secret beats expiry.
func VerifyLease(l lease.Lease, ring *domain.Keyring) error {
	var last error = lease.ErrSignature
	for _, secret := range ring.SecretsByVersion() {
		err := lease.Verify(l, secret)
		if err == nil {
			return nil
		}
		if !errors.Is(err, lease.ErrSignature) {
			last = err
		}
	}
	return last
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
