package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"keystone/internal/domain"
	"keystone/pkg/keycodec"
)

// CreateLicenseRequest carries caller intent; unset fields fall back to
// the product's defaults.
type CreateLicenseRequest struct {
	ProductCode   string
	CustomerID    string
	Tier          string
	MachinesLimit int
	ValidFor      time.Duration // zero means perpetual
	Features      map[string]any
	Entitlements  map[string]any
	Metadata      map[string]any
	Actor         string
}

// CreateLicense mints a license key under the keyring's current version,
// stores only its fingerprint, and opens the license's audit chain.
type CreateLicense struct {
	licenses  LicenseRepository
	products  ProductRepository
	customers CustomerRepository
	audit     *AuditChain
	ring      *domain.Keyring
	clock     Clock
}

func NewCreateLicense(licenses LicenseRepository, products ProductRepository, customers CustomerRepository, audit *AuditChain, ring *domain.Keyring, clock Clock) *CreateLicense {
	if clock == nil {
		clock = time.Now
	}
	return &CreateLicense{licenses: licenses, products: products, customers: customers, audit: audit, ring: ring, clock: clock}
}

// Execute returns the stored license and the raw key. The raw key is
// shown exactly once; it cannot be recovered afterwards.
func (uc *CreateLicense) Execute(ctx context.Context, req CreateLicenseRequest) (domain.License, string, error) {
	product, err := uc.products.GetByCode(ctx, req.ProductCode)
	if err != nil {
		return domain.License{}, "", fmt.Errorf("create license: product %q: %w", req.ProductCode, err)
	}
	if req.CustomerID != "" {
		if _, err := uc.customers.GetByID(ctx, req.CustomerID); err != nil {
			return domain.License{}, "", fmt.Errorf("create license: customer %q: %w", req.CustomerID, err)
		}
	}

	rawKey, err := keycodec.Generate(product.Code, uc.ring.CurrentSecret(), uc.ring.CurrentVersion())
	if err != nil {
		return domain.License{}, "", fmt.Errorf("create license: generate key: %w", err)
	}

	tier := req.Tier
	if tier == "" {
		tier = product.DefaultTier
	}
	machines := req.MachinesLimit
	if machines <= 0 {
		machines = 1
	}
	now := uc.clock().UTC()
	var expiresAt *time.Time
	if req.ValidFor > 0 {
		exp := now.Add(req.ValidFor)
		expiresAt = &exp
	}

	lic := domain.License{
		ID:            uuid.NewString(),
		KeyHash:       keycodec.Fingerprint(rawKey),
		Status:        domain.LicenseStatusActive,
		Tier:          tier,
		ProductID:     product.ID,
		CustomerID:    req.CustomerID,
		MachinesLimit: machines,
		ExpiresAt:     expiresAt,
		Features:      req.Features,
		Entitlements:  req.Entitlements,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	stored, err := uc.licenses.Create(ctx, lic)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return domain.License{}, "", domain.ErrDuplicateKey
		}
		return domain.License{}, "", fmt.Errorf("create license: store: %w", err)
	}

	detail := map[string]any{
		"product_code": product.Code,
		"tier":         tier,
	}
	if expiresAt != nil {
		detail["expires_at"] = expiresAt.Format(time.RFC3339)
	}
	if _, err := uc.audit.RecordEvent(ctx, stored.ID, domain.AuditEventLicenseCreated, req.Actor, detail); err != nil {
		return domain.License{}, "", err
	}
	return stored, rawKey, nil
}
