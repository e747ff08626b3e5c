package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"keystone/internal/domain"
	"keystone/pkg/keycodec"
	"keystone/pkg/lease"
)

type stubLicenseRepo struct {
	byID      map[string]domain.License
	byKeyHash map[string]domain.License
}

func newStubLicenseRepo() *stubLicenseRepo {
	return &stubLicenseRepo{byID: map[string]domain.License{}, byKeyHash: map[string]domain.License{}}
}

func (r *stubLicenseRepo) put(lic domain.License) {
	r.byID[lic.ID] = lic
	r.byKeyHash[lic.KeyHash] = lic
}

func (r *stubLicenseRepo) Create(_ context.Context, lic domain.License) (domain.License, error) {
	if _, exists := r.byKeyHash[lic.KeyHash]; exists {
		return domain.License{}, domain.ErrDuplicateKey
	}
	r.put(lic)
	return lic, nil
}

func (r *stubLicenseRepo) GetByID(_ context.Context, id string) (domain.License, error) {
	lic, ok := r.byID[id]
	if !ok {
		return domain.License{}, domain.ErrNotFound
	}
	return lic, nil
}

func (r *stubLicenseRepo) GetByKeyHash(_ context.Context, keyHash string) (domain.License, error) {
	lic, ok := r.byKeyHash[keyHash]
	if !ok {
		return domain.License{}, domain.ErrNotFound
	}
	return lic, nil
}

func (r *stubLicenseRepo) Update(_ context.Context, lic domain.License) error {
	if _, ok := r.byID[lic.ID]; !ok {
		return domain.ErrNotFound
	}
	r.put(lic)
	return nil
}

func (r *stubLicenseRepo) UpdateStatus(_ context.Context, id string, status domain.LicenseStatus) error {
	lic, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	lic.Status = status
	r.put(lic)
	return nil
}

func (r *stubLicenseRepo) SoftDelete(_ context.Context, id string, at time.Time) error {
	lic, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	lic.DeletedAt = &at
	r.put(lic)
	return nil
}

func (r *stubLicenseRepo) List(_ context.Context, f LicenseFilter) ([]domain.License, int64, error) {
	var out []domain.License
	for _, lic := range r.byID {
		if f.Status != "" && lic.Status != f.Status {
			continue
		}
		out = append(out, lic)
	}
	return out, int64(len(out)), nil
}

type stubProductRepo struct {
	byID   map[string]domain.Product
	byCode map[string]domain.Product
}

func newStubProductRepo(products ...domain.Product) *stubProductRepo {
	r := &stubProductRepo{byID: map[string]domain.Product{}, byCode: map[string]domain.Product{}}
	for _, p := range products {
		r.byID[p.ID] = p
		r.byCode[p.Code] = p
	}
	return r
}

func (r *stubProductRepo) Create(_ context.Context, p domain.Product) (domain.Product, error) {
	r.byID[p.ID] = p
	r.byCode[p.Code] = p
	return p, nil
}

func (r *stubProductRepo) GetByID(_ context.Context, id string) (domain.Product, error) {
	p, ok := r.byID[id]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *stubProductRepo) GetByCode(_ context.Context, code string) (domain.Product, error) {
	p, ok := r.byCode[code]
	if !ok {
		return domain.Product{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *stubProductRepo) List(_ context.Context, _, _ int) ([]domain.Product, error) {
	var out []domain.Product
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out, nil
}

type stubValidationCache struct {
	entries map[string]ValidationOutcome
	puts    int
}

func newStubValidationCache() *stubValidationCache {
	return &stubValidationCache{entries: map[string]ValidationOutcome{}}
}

func (c *stubValidationCache) Get(_ context.Context, key string) (ValidationOutcome, bool) {
	outcome, ok := c.entries[key]
	return outcome, ok
}

func (c *stubValidationCache) Put(_ context.Context, key string, outcome ValidationOutcome, _ time.Duration) {
	c.entries[key] = outcome
	c.puts++
}

type validateFixture struct {
	uc       *ValidateLicense
	licenses *stubLicenseRepo
	audit    *stubAuditRepo
	cache    *stubValidationCache
	ring     *domain.Keyring
	rawKey   string
	license  domain.License
	now      time.Time
}

func newValidateFixture(t *testing.T) *validateFixture {
	t.Helper()
	ring := mustRing(t, "validation-secret")
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

	product := domain.Product{
		ID:          "prod-1",
		Code:        "ZUL",
		Name:        "Zuul",
		DefaultTier: "standard",
		Features:    map[string]any{"api_access": true, "exports": map[string]any{"enabled": true, "limit": float64(100)}},
	}

	rawKey, err := keycodec.Generate(product.Code, ring.CurrentSecret(), ring.CurrentVersion())
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	exp := now.Add(30 * 24 * time.Hour)
	lic := domain.License{
		ID:        "lic-1",
		KeyHash:   keycodec.Fingerprint(rawKey),
		Status:    domain.LicenseStatusActive,
		Tier:      "pro",
		ProductID: product.ID,
		ExpiresAt: &exp,
	}

	licenses := newStubLicenseRepo()
	licenses.put(lic)
	audit := newStubAuditRepo()
	cache := newStubValidationCache()

	uc := NewValidateLicense(ValidateLicenseDeps{
		Licenses:        licenses,
		Products:        newStubProductRepo(product),
		Audit:           NewAuditChain(audit, ring, fixedClock(now)),
		Ring:            ring,
		Cache:           cache,
		LeaseTTL:        24 * time.Hour,
		OfflineLeaseTTL: 72 * time.Hour,
		CacheTTL:        time.Minute,
		Clock:           fixedClock(now),
	})
	return &validateFixture{uc: uc, licenses: licenses, audit: audit, cache: cache, ring: ring, rawKey: rawKey, license: lic, now: now}
}

func TestValidate_ActiveLicense(t *testing.T) {
	fx := newValidateFixture(t)

	outcome, err := fx.uc.Execute(context.Background(), fx.rawKey, "client")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !outcome.Result.Valid || outcome.Result.Code != keycodec.CodeValid {
		t.Fatalf("result = %+v, want valid", outcome.Result)
	}
	if outcome.License == nil || outcome.License.ID != "lic-1" {
		t.Fatal("outcome missing license")
	}
	if len(outcome.Features) != 2 {
		t.Fatalf("features = %v, want api_access and exports", outcome.Features)
	}
	if outcome.Lease == nil {
		t.Fatal("outcome missing lease")
	}
	if err := VerifyLease(*outcome.Lease, fx.ring); err != nil {
		t.Fatalf("issued lease does not verify: %v", err)
	}
	if outcome.Lease.Payload.ProductCode != "ZUL" || outcome.Lease.Payload.Status != "active" {
		t.Fatalf("lease payload = %+v", outcome.Lease.Payload)
	}

	events := fx.audit.events["lic-1"]
	if len(events) != 1 || events[0].EventType != domain.AuditEventLicenseValidated {
		t.Fatalf("audit events = %+v, want one license.validated", events)
	}
}

func TestValidate_LeaseSnapshotEntitlements(t *testing.T) {
	fx := newValidateFixture(t)

	outcome, err := fx.uc.Execute(context.Background(), fx.rawKey, "client")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	snapshot := outcome.Lease.Payload.Entitlements
	if len(snapshot) != len(outcome.Entitlements) {
		t.Fatalf("snapshot entitlements = %d, want %d", len(snapshot), len(outcome.Entitlements))
	}
	for i, want := range outcome.Entitlements {
		got := snapshot[i]
		if got.Feature != want.Feature || got.Enabled != want.Enabled || got.Used != want.Used {
			t.Fatalf("snapshot[%d] = %+v, want %+v", i, got, want)
		}
		if (got.Limit == nil) != (want.Limit == nil) || (got.Limit != nil && *got.Limit != *want.Limit) {
			t.Fatalf("snapshot[%d] limit = %v, want %v", i, got.Limit, want.Limit)
		}
	}
	exports := snapshot[1]
	if exports.Feature != "exports" || exports.Limit == nil || *exports.Limit != 100 {
		t.Fatalf("exports entitlement = %+v", exports)
	}
}

func TestValidate_ForgedKey(t *testing.T) {
	fx := newValidateFixture(t)

	forged, err := keycodec.Generate("ZUL", "some-other-secret", 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	outcome, err := fx.uc.Execute(context.Background(), forged, "client")
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}
	if outcome.Result.Code != keycodec.CodeInvalidHMAC {
		t.Fatalf("result code = %q, want %q", outcome.Result.Code, keycodec.CodeInvalidHMAC)
	}
	if len(fx.audit.events) != 0 {
		t.Fatal("forged key must not reach the audit chain")
	}
}

func TestValidate_UnknownFingerprint(t *testing.T) {
	fx := newValidateFixture(t)

	unregistered, err := keycodec.Generate("ZUL", fx.ring.CurrentSecret(), fx.ring.CurrentVersion())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, err = fx.uc.Execute(context.Background(), unregistered, "client")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestValidate_StatusSentinels(t *testing.T) {
	cases := []struct {
		status domain.LicenseStatus
		want   error
	}{
		{domain.LicenseStatusSuspended, domain.ErrLicenseSuspended},
		{domain.LicenseStatusRevoked, domain.ErrLicenseRevoked},
		{domain.LicenseStatusExpired, domain.ErrLicenseExpired},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			fx := newValidateFixture(t)
			lic := fx.license
			lic.Status = tc.status
			fx.licenses.put(lic)

			_, err := fx.uc.Execute(context.Background(), fx.rawKey, "client")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidate_AutoExpiresStaleLicense(t *testing.T) {
	fx := newValidateFixture(t)
	lic := fx.license
	past := fx.now.Add(-time.Hour)
	lic.ExpiresAt = &past
	fx.licenses.put(lic)

	_, err := fx.uc.Execute(context.Background(), fx.rawKey, "client")
	if !errors.Is(err, domain.ErrLicenseExpired) {
		t.Fatalf("err = %v, want ErrLicenseExpired", err)
	}
	stored, err := fx.licenses.GetByID(context.Background(), "lic-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != domain.LicenseStatusExpired {
		t.Fatalf("stored status = %q, want expired persisted", stored.Status)
	}
}

func TestValidate_KeyFromRotatedOutSecretFails(t *testing.T) {
	fx := newValidateFixture(t)

	// a ring that no longer contains the signing secret
	rotated, err := domain.NewKeyring(map[uint32]string{0: "brand-new-secret"})
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	uc := NewValidateLicense(ValidateLicenseDeps{
		Licenses: fx.licenses,
		Products: newStubProductRepo(),
		Audit:    NewAuditChain(fx.audit, rotated, fixedClock(fx.now)),
		Ring:     rotated,
		Clock:    fixedClock(fx.now),
	})
	_, err = uc.Execute(context.Background(), fx.rawKey, "client")
	if !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("err = %v, want ErrInvalidKey once the secret leaves the ring", err)
	}
}

func TestValidate_CachesSuccessfulOutcome(t *testing.T) {
	fx := newValidateFixture(t)
	ctx := context.Background()

	if _, err := fx.uc.Execute(ctx, fx.rawKey, "client"); err != nil {
		t.Fatalf("first validate: %v", err)
	}
	if fx.cache.puts != 1 {
		t.Fatalf("cache puts = %d, want 1", fx.cache.puts)
	}
	if _, err := fx.uc.Execute(ctx, fx.rawKey, "client"); err != nil {
		t.Fatalf("second validate: %v", err)
	}
	if got := len(fx.audit.events["lic-1"]); got != 1 {
		t.Fatalf("audit events after cached hit = %d, want 1", got)
	}
}

func TestValidate_OfflineLeaseBypassesCache(t *testing.T) {
	fx := newValidateFixture(t)
	ctx := context.Background()

	outcome, err := fx.uc.ExecuteOffline(ctx, fx.rawKey, "client")
	if err != nil {
		t.Fatalf("offline validate: %v", err)
	}
	if outcome.Lease == nil {
		t.Fatal("expected a lease")
	}
	expires, err := time.Parse(time.RFC3339, outcome.Lease.LeaseExpiresAt)
	if err != nil {
		t.Fatalf("parse lease expiry: %v", err)
	}
	want := time.Now().UTC().Add(72 * time.Hour)
	if diff := expires.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("lease expiry %v not near %v", expires, want)
	}
	if fx.cache.puts != 0 {
		t.Fatalf("cache puts = %d, want 0 for offline validation", fx.cache.puts)
	}
}

func TestCheckEntitlement_TableFallback(t *testing.T) {
	fx := newValidateFixture(t)
	ents := []domain.Entitlement{
		{Feature: "api_access", Enabled: true},
		{Feature: "exports", Enabled: true, Limit: int64Ptr(10), Used: 10, Remaining: int64Ptr(0)},
		{Feature: "sso", Enabled: false},
	}

	cases := []struct {
		feature string
		allow   bool
	}{
		{"api_access", true},
		{"exports", false},
		{"sso", false},
		{"unknown", false},
	}
	for _, tc := range cases {
		decision, err := fx.uc.CheckEntitlement(context.Background(), nil, fx.license, "ZUL", tc.feature, ents)
		if err != nil {
			t.Fatalf("%s: %v", tc.feature, err)
		}
		if decision.Allow != tc.allow {
			t.Fatalf("%s: allow = %v, want %v (%s)", tc.feature, decision.Allow, tc.allow, decision.Reason)
		}
	}
}

func TestVerifyLease_RotationFallback(t *testing.T) {
	payload := lease.Payload{LicenseID: "lic-1", Status: "active", ProductCode: "ZUL"}
	issued, err := lease.Create(payload, "secret-v0", time.Hour)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rotated, err := domain.NewKeyring(map[uint32]string{0: "secret-v0", 1: "secret-v1"})
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	if err := VerifyLease(issued, rotated); err != nil {
		t.Fatalf("lease signed under v0 failed after rotation: %v", err)
	}

	stranger := mustRing(t, "unrelated")
	if err := VerifyLease(issued, stranger); !errors.Is(err, lease.ErrSignature) {
		t.Fatalf("err = %v, want ErrSignature", err)
	}
}
