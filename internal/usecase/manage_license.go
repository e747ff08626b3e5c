package usecase

import (
	"context"
	"fmt"
	"time"

	"keystone/internal/domain"
)

// UpdateLicenseRequest is a partial update; nil fields are left alone.
type UpdateLicenseRequest struct {
	Tier          *string
	Status        *domain.LicenseStatus
	MachinesLimit *int
	ExpiresAt     *time.Time
	Features      map[string]any
	Entitlements  map[string]any
	Metadata      map[string]any
	Actor         string
}

// ManageLicense covers the lifecycle operations after creation. Every
// mutation lands in the license's audit chain.
type ManageLicense struct {
	licenses LicenseRepository
	audit    *AuditChain
	clock    Clock
}

func NewManageLicense(licenses LicenseRepository, audit *AuditChain, clock Clock) *ManageLicense {
	if clock == nil {
		clock = time.Now
	}
	return &ManageLicense{licenses: licenses, audit: audit, clock: clock}
}

func (uc *ManageLicense) Get(ctx context.Context, id string) (domain.License, error) {
	return uc.licenses.GetByID(ctx, id)
}

func (uc *ManageLicense) List(ctx context.Context, f LicenseFilter) ([]domain.License, int64, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return uc.licenses.List(ctx, f)
}

func (uc *ManageLicense) Update(ctx context.Context, id string, req UpdateLicenseRequest) (domain.License, error) {
	lic, err := uc.licenses.GetByID(ctx, id)
	if err != nil {
		return domain.License{}, err
	}

	changed := map[string]any{}
	if req.Tier != nil && *req.Tier != lic.Tier {
		lic.Tier = *req.Tier
		changed["tier"] = *req.Tier
	}
	if req.Status != nil && *req.Status != lic.Status {
		lic.Status = *req.Status
		changed["status"] = string(*req.Status)
	}
	if req.MachinesLimit != nil && *req.MachinesLimit != lic.MachinesLimit {
		lic.MachinesLimit = *req.MachinesLimit
		changed["machines_limit"] = *req.MachinesLimit
	}
	if req.ExpiresAt != nil {
		exp := req.ExpiresAt.UTC()
		lic.ExpiresAt = &exp
		changed["expires_at"] = exp.Format(time.RFC3339)
	}
	if req.Features != nil {
		lic.Features = req.Features
		changed["features"] = req.Features
	}
	if req.Entitlements != nil {
		lic.Entitlements = req.Entitlements
		changed["entitlements"] = req.Entitlements
	}
	if req.Metadata != nil {
		lic.Metadata = req.Metadata
	}
	if len(changed) == 0 && req.Metadata == nil {
		return lic, nil
	}

	lic.UpdatedAt = uc.clock().UTC()
	if err := uc.licenses.Update(ctx, lic); err != nil {
		return domain.License{}, fmt.Errorf("update license: %w", err)
	}

	eventType := domain.AuditEventLicenseUpdated
	if status, ok := changed["status"]; ok && status == string(domain.LicenseStatusSuspended) {
		eventType = domain.AuditEventLicenseSuspended
	}
	if _, err := uc.audit.RecordEvent(ctx, lic.ID, eventType, req.Actor, changed); err != nil {
		return domain.License{}, err
	}
	return lic, nil
}

// Renew pushes the expiry forward from whichever is later, now or the
// current expiry, and reactivates an expired license.
func (uc *ManageLicense) Renew(ctx context.Context, id string, extend time.Duration, actor string) (domain.License, error) {
	if extend <= 0 {
		return domain.License{}, fmt.Errorf("renew license: extension must be positive")
	}
	lic, err := uc.licenses.GetByID(ctx, id)
	if err != nil {
		return domain.License{}, err
	}
	if lic.Status == domain.LicenseStatusRevoked {
		return domain.License{}, domain.ErrLicenseRevoked
	}

	now := uc.clock().UTC()
	base := now
	if lic.ExpiresAt != nil && lic.ExpiresAt.After(now) {
		base = lic.ExpiresAt.UTC()
	}
	exp := base.Add(extend)
	lic.ExpiresAt = &exp
	if lic.Status == domain.LicenseStatusExpired {
		lic.Status = domain.LicenseStatusActive
	}
	lic.UpdatedAt = now
	if err := uc.licenses.Update(ctx, lic); err != nil {
		return domain.License{}, fmt.Errorf("renew license: %w", err)
	}

	if _, err := uc.audit.RecordEvent(ctx, lic.ID, domain.AuditEventLicenseRenewed, actor, map[string]any{
		"expires_at": exp.Format(time.RFC3339),
	}); err != nil {
		return domain.License{}, err
	}
	return lic, nil
}

// Delete soft-deletes; the row and its audit chain remain readable.
func (uc *ManageLicense) Delete(ctx context.Context, id, actor string) error {
	lic, err := uc.licenses.GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := uc.clock().UTC()
	if err := uc.licenses.SoftDelete(ctx, lic.ID, now); err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	_, err = uc.audit.RecordEvent(ctx, lic.ID, domain.AuditEventLicenseDeleted, actor, nil)
	return err
}
