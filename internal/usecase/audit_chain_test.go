package usecase

import (
	"context"
	"testing"
	"time"

	"keystone/internal/domain"
	"keystone/internal/infra/crypto"
)

type stubAuditRepo struct {
	events map[string][]domain.AuditEvent
}

func newStubAuditRepo() *stubAuditRepo {
	return &stubAuditRepo{events: map[string][]domain.AuditEvent{}}
}

func (r *stubAuditRepo) Head(_ context.Context, licenseID string) (domain.AuditEvent, error) {
	chain := r.events[licenseID]
	if len(chain) == 0 {
		return domain.AuditEvent{}, domain.ErrNotFound
	}
	return chain[len(chain)-1], nil
}

func (r *stubAuditRepo) Append(_ context.Context, ev domain.AuditEvent) error {
	r.events[ev.LicenseID] = append(r.events[ev.LicenseID], ev)
	return nil
}

func (r *stubAuditRepo) ListAsc(_ context.Context, licenseID string) ([]domain.AuditEvent, error) {
	out := make([]domain.AuditEvent, len(r.events[licenseID]))
	copy(out, r.events[licenseID])
	return out, nil
}

func (r *stubAuditRepo) List(_ context.Context, licenseID string, eventType domain.AuditEventType, limit, offset int) ([]domain.AuditEvent, int64, error) {
	var all []domain.AuditEvent
	for _, ev := range r.events[licenseID] {
		if eventType != "" && ev.EventType != eventType {
			continue
		}
		all = append(all, ev)
	}
	// newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func mustRing(t *testing.T, secret string) *domain.Keyring {
	t.Helper()
	ring, err := domain.SingleKeyring(secret)
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return ring
}

func testChain(t *testing.T, ring *domain.Keyring) (*AuditChain, *stubAuditRepo) {
	t.Helper()
	repo := newStubAuditRepo()
	return NewAuditChain(repo, ring, fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))), repo
}

func TestRecordEvent_LinksChain(t *testing.T) {
	chain, repo := testChain(t, mustRing(t, "audit-secret"))
	ctx := context.Background()

	first, err := chain.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseCreated, "admin", map[string]any{"tier": "pro"})
	if err != nil {
		t.Fatalf("record first: %v", err)
	}
	if first.PrevHash != "" {
		t.Fatalf("first event prev hash = %q, want empty", first.PrevHash)
	}
	if first.EventHash == "" || first.Signature == "" {
		t.Fatal("first event missing hash or signature")
	}

	second, err := chain.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseValidated, "", nil)
	if err != nil {
		t.Fatalf("record second: %v", err)
	}
	if second.PrevHash != first.EventHash {
		t.Fatalf("second prev hash = %q, want %q", second.PrevHash, first.EventHash)
	}
	if second.Actor != domain.AuditActorSystem {
		t.Fatalf("empty actor defaulted to %q, want %q", second.Actor, domain.AuditActorSystem)
	}
	if len(repo.events["lic-1"]) != 2 {
		t.Fatalf("stored %d events, want 2", len(repo.events["lic-1"]))
	}
}

func TestRecordEvent_ChainsAreIndependentPerLicense(t *testing.T) {
	chain, _ := testChain(t, mustRing(t, "audit-secret"))
	ctx := context.Background()

	a, err := chain.RecordEvent(ctx, "lic-a", domain.AuditEventLicenseCreated, "admin", nil)
	if err != nil {
		t.Fatalf("record lic-a: %v", err)
	}
	b, err := chain.RecordEvent(ctx, "lic-b", domain.AuditEventLicenseCreated, "admin", nil)
	if err != nil {
		t.Fatalf("record lic-b: %v", err)
	}
	if a.PrevHash != "" || b.PrevHash != "" {
		t.Fatal("first events of separate licenses must both be chain roots")
	}
}

func TestVerifyChain_Valid(t *testing.T) {
	chain, _ := testChain(t, mustRing(t, "audit-secret"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := chain.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseValidated, "system", map[string]any{"seq": i}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	res, err := chain.VerifyChain(ctx, "lic-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.EventsChecked != 5 || res.BreakAt != "" {
		t.Fatalf("verify = %+v, want valid with 5 checked", res)
	}
}

func TestVerifyChain_EmptyChainIsValid(t *testing.T) {
	chain, _ := testChain(t, mustRing(t, "audit-secret"))

	res, err := chain.VerifyChain(context.Background(), "lic-none")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.EventsChecked != 0 {
		t.Fatalf("verify = %+v, want valid with 0 checked", res)
	}
}

func TestVerifyChain_DetectsTamperedDetail(t *testing.T) {
	chain, repo := testChain(t, mustRing(t, "audit-secret"))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := chain.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseValidated, "system", map[string]any{"seq": i}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	repo.events["lic-1"][2].Detail["seq"] = 99

	res, err := chain.VerifyChain(ctx, "lic-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatal("tampered chain verified")
	}
	if res.EventsChecked != 2 {
		t.Fatalf("events checked = %d, want 2", res.EventsChecked)
	}
	if res.BreakAt != repo.events["lic-1"][2].ID {
		t.Fatalf("break at = %q, want id of tampered event", res.BreakAt)
	}
}

func TestVerifyChain_DetectsBrokenLinkage(t *testing.T) {
	chain, repo := testChain(t, mustRing(t, "audit-secret"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := chain.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseValidated, "system", nil); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	// splice the middle event out
	repo.events["lic-1"] = append(repo.events["lic-1"][:1], repo.events["lic-1"][2])

	res, err := chain.VerifyChain(ctx, "lic-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid || res.EventsChecked != 1 {
		t.Fatalf("verify = %+v, want break after 1 checked", res)
	}
}

func TestVerifyChain_DetectsForgedSignature(t *testing.T) {
	chain, repo := testChain(t, mustRing(t, "audit-secret"))
	ctx := context.Background()

	if _, err := chain.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseCreated, "admin", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	ev := &repo.events["lic-1"][0]
	ev.Signature = crypto.SignHex("attacker-secret", []byte(ev.EventHash))

	res, err := chain.VerifyChain(ctx, "lic-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid || res.BreakAt != ev.ID {
		t.Fatalf("verify = %+v, want break at forged event", res)
	}
}

func TestVerifyChain_SurvivesKeyRotation(t *testing.T) {
	oldRing := mustRing(t, "secret-v0")
	chainOld, repo := testChain(t, oldRing)
	ctx := context.Background()

	if _, err := chainOld.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseCreated, "admin", nil); err != nil {
		t.Fatalf("record under v0: %v", err)
	}

	rotated, err := domain.NewKeyring(map[uint32]string{0: "secret-v0", 1: "secret-v1"})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	chainNew := NewAuditChain(repo, rotated, fixedClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))

	if _, err := chainNew.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseValidated, "system", nil); err != nil {
		t.Fatalf("record under v1: %v", err)
	}

	res, err := chainNew.VerifyChain(ctx, "lic-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.EventsChecked != 2 {
		t.Fatalf("verify = %+v, want mixed-key chain valid", res)
	}

	// dropping the old secret breaks verification of the old event
	onlyNew := mustRing(t, "secret-v1")
	res, err = NewAuditChain(repo, onlyNew, fixedClock(time.Now())).VerifyChain(ctx, "lic-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatal("chain verified without the secret that signed its first event")
	}
}

func TestListEvents_NewestFirstAndFiltered(t *testing.T) {
	chain, _ := testChain(t, mustRing(t, "audit-secret"))
	ctx := context.Background()

	if _, err := chain.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseCreated, "admin", nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := chain.RecordEvent(ctx, "lic-1", domain.AuditEventLicenseValidated, "system", map[string]any{"seq": i}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	events, total, err := chain.ListEvents(ctx, "lic-1", domain.AuditEventLicenseValidated, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(events) != 2 {
		t.Fatalf("list returned %d of %d, want 2 of 3", len(events), total)
	}
	if events[0].Detail["seq"] != 2 {
		t.Fatalf("first page entry seq = %v, want newest (2)", events[0].Detail["seq"])
	}
}
