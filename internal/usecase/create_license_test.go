package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"keystone/internal/domain"
	"keystone/pkg/keycodec"
)

type stubCustomerRepo struct {
	byID map[string]domain.Customer
}

func newStubCustomerRepo(customers ...domain.Customer) *stubCustomerRepo {
	r := &stubCustomerRepo{byID: map[string]domain.Customer{}}
	for _, c := range customers {
		r.byID[c.ID] = c
	}
	return r
}

func (r *stubCustomerRepo) Create(_ context.Context, c domain.Customer) (domain.Customer, error) {
	r.byID[c.ID] = c
	return c, nil
}

func (r *stubCustomerRepo) GetByID(_ context.Context, id string) (domain.Customer, error) {
	c, ok := r.byID[id]
	if !ok {
		return domain.Customer{}, domain.ErrNotFound
	}
	return c, nil
}

func (r *stubCustomerRepo) List(_ context.Context, _, _ int) ([]domain.Customer, error) {
	var out []domain.Customer
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out, nil
}

type createFixture struct {
	uc       *CreateLicense
	licenses *stubLicenseRepo
	audit    *stubAuditRepo
	ring     *domain.Keyring
	now      time.Time
}

func newCreateFixture(t *testing.T) *createFixture {
	t.Helper()
	ring := mustRing(t, "mint-secret")
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	licenses := newStubLicenseRepo()
	audit := newStubAuditRepo()
	products := newStubProductRepo(domain.Product{
		ID:          "prod-1",
		Code:        "ZUL",
		DefaultTier: "standard",
		Features:    map[string]any{"api_access": true},
	})
	customers := newStubCustomerRepo(domain.Customer{ID: "cust-1", Name: "Acme"})

	uc := NewCreateLicense(licenses, products, customers,
		NewAuditChain(audit, ring, fixedClock(now)), ring, fixedClock(now))
	return &createFixture{uc: uc, licenses: licenses, audit: audit, ring: ring, now: now}
}

func TestCreateLicense(t *testing.T) {
	fx := newCreateFixture(t)

	lic, rawKey, err := fx.uc.Execute(context.Background(), CreateLicenseRequest{
		ProductCode: "ZUL",
		CustomerID:  "cust-1",
		ValidFor:    365 * 24 * time.Hour,
		Actor:       "admin",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if !keycodec.VerifySignature(rawKey, fx.ring.CurrentSecret()) {
		t.Fatal("minted key does not verify under the current secret")
	}
	if lic.KeyHash != keycodec.Fingerprint(rawKey) {
		t.Fatal("stored hash does not match the raw key fingerprint")
	}
	if lic.Tier != "standard" {
		t.Fatalf("tier = %q, want product default", lic.Tier)
	}
	if lic.MachinesLimit != 1 {
		t.Fatalf("machines limit = %d, want default 1", lic.MachinesLimit)
	}
	if lic.ExpiresAt == nil || !lic.ExpiresAt.Equal(fx.now.Add(365*24*time.Hour)) {
		t.Fatalf("expires at = %v", lic.ExpiresAt)
	}

	events := fx.audit.events[lic.ID]
	if len(events) != 1 || events[0].EventType != domain.AuditEventLicenseCreated {
		t.Fatalf("audit events = %+v, want one license.created", events)
	}
	if events[0].PrevHash != "" {
		t.Fatal("license.created must open the chain")
	}
}

func TestCreateLicense_PerpetualWhenNoDuration(t *testing.T) {
	fx := newCreateFixture(t)

	lic, _, err := fx.uc.Execute(context.Background(), CreateLicenseRequest{ProductCode: "ZUL", Actor: "admin"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if lic.ExpiresAt != nil {
		t.Fatalf("expires at = %v, want nil for perpetual", lic.ExpiresAt)
	}
}

func TestCreateLicense_UnknownProduct(t *testing.T) {
	fx := newCreateFixture(t)

	_, _, err := fx.uc.Execute(context.Background(), CreateLicenseRequest{ProductCode: "NOPE"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateLicense_UnknownCustomer(t *testing.T) {
	fx := newCreateFixture(t)

	_, _, err := fx.uc.Execute(context.Background(), CreateLicenseRequest{ProductCode: "ZUL", CustomerID: "ghost"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
