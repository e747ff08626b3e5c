package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"keystone/internal/domain"
	"keystone/internal/infra/crypto"
)

// AuditChain maintains a hash-chained, HMAC-signed event log per license.
// Appends for the same license are serialized in-process; multi-writer
// deployments must serialize externally.
type AuditChain struct {
	repo  AuditEventRepository
	ring  *domain.Keyring
	clock Clock

	mu sync.Mutex
}

func NewAuditChain(repo AuditEventRepository, ring *domain.Keyring, clock Clock) *AuditChain {
	return &AuditChain{repo: repo, ring: ring, clock: clock}
}

// RecordEvent appends one event to the license's chain. The event hash
// covers event_type, actor, detail and the previous event's hash; the
// signature is an HMAC of the hash under the keyring's current secret.
func (c *AuditChain) RecordEvent(ctx context.Context, licenseID string, eventType domain.AuditEventType, actor string, detail map[string]any) (domain.AuditEvent, error) {
	if licenseID == "" {
		return domain.AuditEvent{}, errors.New("audit: license id required")
	}
	if actor == "" {
		actor = domain.AuditActorSystem
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := ""
	head, err := c.repo.Head(ctx, licenseID)
	switch {
	case err == nil:
		prevHash = head.EventHash
	case errors.Is(err, domain.ErrNotFound):
		// first event in the chain
	default:
		return domain.AuditEvent{}, fmt.Errorf("audit: read head: %w", err)
	}

	eventHash, err := computeEventHash(eventType, actor, detail, prevHash)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	ev := domain.AuditEvent{
		ID:        uuid.NewString(),
		LicenseID: licenseID,
		EventType: eventType,
		Actor:     actor,
		Detail:    detail,
		PrevHash:  prevHash,
		EventHash: eventHash,
		Signature: crypto.SignHex(c.ring.CurrentSecret(), []byte(eventHash)),
		CreatedAt: c.clock().UTC(),
	}
	if err := c.repo.Append(ctx, ev); err != nil {
		return domain.AuditEvent{}, fmt.Errorf("audit: append: %w", err)
	}
	return ev, nil
}

// VerifyChain walks a license's events oldest-first and checks linkage,
// recomputes every event hash, and verifies every signature against each
// secret in the keyring, so chains signed before a rotation still verify.
// An empty chain is valid with zero events checked.
func (c *AuditChain) VerifyChain(ctx context.Context, licenseID string) (domain.ChainVerification, error) {
	events, err := c.repo.ListAsc(ctx, licenseID)
	if err != nil {
		return domain.ChainVerification{}, fmt.Errorf("audit: list chain: %w", err)
	}

	expectedPrev := ""
	for i, ev := range events {
		if ev.PrevHash != expectedPrev {
			return brokenAt(i, ev.ID), nil
		}
		recomputed, err := computeEventHash(ev.EventType, ev.Actor, ev.Detail, ev.PrevHash)
		if err != nil {
			return domain.ChainVerification{}, err
		}
		if recomputed != ev.EventHash {
			return brokenAt(i, ev.ID), nil
		}
		if !c.signatureMatchesAnyKey(ev.EventHash, ev.Signature) {
			return brokenAt(i, ev.ID), nil
		}
		expectedPrev = ev.EventHash
	}
	return domain.ChainVerification{Valid: true, EventsChecked: len(events)}, nil
}

// ListEvents returns a page of a license's events, newest first. Note
// that cache-served validations never append license.validated events,
// so the count under-reports raw request volume.
func (c *AuditChain) ListEvents(ctx context.Context, licenseID string, eventType domain.AuditEventType, limit, offset int) ([]domain.AuditEvent, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return c.repo.List(ctx, licenseID, eventType, limit, offset)
}

func (c *AuditChain) signatureMatchesAnyKey(eventHash, signature string) bool {
	for _, secret := range c.ring.SecretsByVersion() {
		if crypto.VerifyHex(secret, []byte(eventHash), signature) {
			return true
		}
	}
	return false
}

func brokenAt(checked int, eventID string) domain.ChainVerification {
	return domain.ChainVerification{Valid: false, EventsChecked: checked, BreakAt: eventID}
}

// computeEventHash hashes the canonical form of the event body. An empty
// prev hash is encoded as JSON null so first events hash identically
// across writers.
func computeEventHash(eventType domain.AuditEventType, actor string, detail map[string]any, prevHash string) (string, error) {
	var prev any
	if prevHash != "" {
		prev = prevHash
	}
	if detail == nil {
		detail = map[string]any{}
	}
	body := map[string]any{
		"event_type": string(eventType),
		"actor":      actor,
		"detail":     detail,
		"prev_hash":  prev,
	}
	canonical, err := crypto.Canonicalize(body)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize event: %w", err)
	}
	return crypto.SHA256Hex(canonical), nil
}
