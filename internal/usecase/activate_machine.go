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

// Activation outcome codes.
const (
	ActivationCodeActivated        = "ACTIVATED"
	ActivationCodeAlreadyActivated = "ALREADY_ACTIVATED"
)

type ActivateRequest struct {
	RawKey      string
	Fingerprint string
	Hostname    string
	Platform    string
	Metadata    map[string]any
	Actor       string
}

type ActivationResult struct {
	Code    string         `json:"code"`
	Machine domain.Machine `json:"machine"`
}

// ActivationDeps wires machine activation against the license store.
type ActivationDeps struct {
	Licenses LicenseRepository
	Machines MachineRepository
	Audit    *AuditChain
	Ring     *domain.Keyring
	Clock    Clock
}

// Activation consumes and releases per-license machine slots. Activating
// an already-known fingerprint refreshes its heartbeat instead of
// consuming another slot.
type Activation struct {
	deps ActivationDeps
}

func NewActivation(deps ActivationDeps) *Activation {
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Activation{deps: deps}
}

// Activate binds a device fingerprint to a license. Fails with
// ErrActivationLimit once machines_used reaches machines_limit; the
// usual key and status sentinels apply before the slot check.
func (uc *Activation) Activate(ctx context.Context, req ActivateRequest) (ActivationResult, error) {
	if req.Fingerprint == "" {
		return ActivationResult{}, errors.New("activate: fingerprint is required")
	}
	lic, err := uc.lookupLicense(ctx, req.RawKey)
	if err != nil {
		return ActivationResult{}, err
	}
	now := uc.deps.Clock().UTC()
	if err := checkLicenseStatus(ctx, uc.deps.Licenses, &lic, now); err != nil {
		return ActivationResult{}, err
	}

	existing, err := uc.deps.Machines.GetByFingerprint(ctx, lic.ID, req.Fingerprint)
	switch {
	case err == nil:
		existing.LastHeartbeat = &now
		if req.Hostname != "" {
			existing.Hostname = req.Hostname
		}
		if err := uc.deps.Machines.Update(ctx, existing); err != nil {
			return ActivationResult{}, fmt.Errorf("activate: refresh machine: %w", err)
		}
		return ActivationResult{Code: ActivationCodeAlreadyActivated, Machine: existing}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return ActivationResult{}, fmt.Errorf("activate: lookup machine: %w", err)
	}

	if lic.MachinesUsed >= lic.MachinesLimit {
		return ActivationResult{}, domain.ErrActivationLimit
	}

	machine := domain.Machine{
		ID:            uuid.NewString(),
		LicenseID:     lic.ID,
		Fingerprint:   req.Fingerprint,
		Hostname:      req.Hostname,
		Platform:      req.Platform,
		LastHeartbeat: &now,
		Metadata:      req.Metadata,
		CreatedAt:     now,
	}
	machine, err = uc.deps.Machines.Create(ctx, machine)
	if err != nil {
		return ActivationResult{}, fmt.Errorf("activate: create machine: %w", err)
	}

	lic.MachinesUsed++
	if err := uc.deps.Licenses.Update(ctx, lic); err != nil {
		return ActivationResult{}, fmt.Errorf("activate: update usage: %w", err)
	}

	if _, err := uc.deps.Audit.RecordEvent(ctx, lic.ID, domain.AuditEventActivationAdded, req.Actor, map[string]any{
		"fingerprint": req.Fingerprint,
		"machine_id":  machine.ID,
	}); err != nil {
		return ActivationResult{}, err
	}
	return ActivationResult{Code: ActivationCodeActivated, Machine: machine}, nil
}

// Deactivate releases a device slot. Returns false when the fingerprint
// was never activated; the license's usage count floors at zero.
func (uc *Activation) Deactivate(ctx context.Context, rawKey, fingerprint, actor string) (bool, error) {
	lic, err := uc.lookupLicense(ctx, rawKey)
	if err != nil {
		return false, err
	}
	machine, err := uc.deps.Machines.GetByFingerprint(ctx, lic.ID, fingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("deactivate: lookup machine: %w", err)
	}
	if err := uc.deps.Machines.Delete(ctx, machine.ID); err != nil {
		return false, fmt.Errorf("deactivate: delete machine: %w", err)
	}

	if lic.MachinesUsed > 0 {
		lic.MachinesUsed--
	}
	if err := uc.deps.Licenses.Update(ctx, lic); err != nil {
		return false, fmt.Errorf("deactivate: update usage: %w", err)
	}

	if _, err := uc.deps.Audit.RecordEvent(ctx, lic.ID, domain.AuditEventActivationRemoved, actor, map[string]any{
		"fingerprint": fingerprint,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Heartbeat refreshes an activated machine's last-seen timestamp.
// Returns false when the fingerprint is not activated.
func (uc *Activation) Heartbeat(ctx context.Context, rawKey, fingerprint, version string) (bool, error) {
	lic, err := uc.lookupLicense(ctx, rawKey)
	if err != nil {
		return false, err
	}
	machine, err := uc.deps.Machines.GetByFingerprint(ctx, lic.ID, fingerprint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("heartbeat: lookup machine: %w", err)
	}
	now := uc.deps.Clock().UTC()
	machine.LastHeartbeat = &now
	if version != "" {
		machine.Version = version
	}
	if err := uc.deps.Machines.Update(ctx, machine); err != nil {
		return false, fmt.Errorf("heartbeat: update machine: %w", err)
	}
	return true, nil
}

// Machines lists a license's activations for the admin surface.
func (uc *Activation) Machines(ctx context.Context, licenseID string) ([]domain.Machine, error) {
	return uc.deps.Machines.ListByLicense(ctx, licenseID)
}

func (uc *Activation) lookupLicense(ctx context.Context, rawKey string) (domain.License, error) {
	result := keycodec.ValidateKeyMulti(rawKey, uc.deps.Ring.SecretsByVersion())
	if !result.Valid {
		return domain.License{}, fmt.Errorf("%w: %s", domain.ErrInvalidKey, result.Code)
	}
	lic, err := uc.deps.Licenses.GetByKeyHash(ctx, keycodec.Fingerprint(rawKey))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.License{}, fmt.Errorf("%w: license key not registered", domain.ErrNotFound)
		}
		return domain.License{}, fmt.Errorf("lookup license: %w", err)
	}
	return lic, nil
}
