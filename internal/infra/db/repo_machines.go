package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"keystone/internal/domain"
)

type MachineRepository struct {
	db *gorm.DB
}

func NewMachineRepository(db *gorm.DB) *MachineRepository {
	return &MachineRepository{db: db}
}

func (r *MachineRepository) Create(ctx context.Context, m domain.Machine) (domain.Machine, error) {
	if r.db == nil {
		return domain.Machine{}, errDBUnavailable
	}
	if m.LicenseID == "" {
		return domain.Machine{}, errors.New("license_id is required")
	}
	if m.Fingerprint == "" {
		return domain.Machine{}, errors.New("fingerprint is required")
	}
	if m.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.Machine{}, err
		}
		m.ID = id
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	model, err := machineToModel(m)
	if err != nil {
		return domain.Machine{}, err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.Machine{}, domain.ErrDuplicateKey
		}
		return domain.Machine{}, err
	}
	return machineFromModel(model)
}

func (r *MachineRepository) GetByFingerprint(ctx context.Context, licenseID, fingerprint string) (domain.Machine, error) {
	if r.db == nil {
		return domain.Machine{}, errDBUnavailable
	}
	var model MachineModel
	err := r.db.WithContext(ctx).
		Where("license_id = ? AND fingerprint = ?", licenseID, fingerprint).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Machine{}, domain.ErrNotFound
		}
		return domain.Machine{}, err
	}
	return machineFromModel(model)
}

func (r *MachineRepository) Update(ctx context.Context, m domain.Machine) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := machineToModel(m)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&MachineModel{}).Where("id = ?", m.ID).Updates(map[string]any{
		"hostname":       model.Hostname,
		"platform":       model.Platform,
		"version":        model.Version,
		"last_heartbeat": model.LastHeartbeat,
		"metadata":       model.Metadata,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MachineRepository) Delete(ctx context.Context, id string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&MachineModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MachineRepository) ListByLicense(ctx context.Context, licenseID string) ([]domain.Machine, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []MachineModel
	if err := r.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Machine, 0, len(models))
	for _, model := range models {
		m, err := machineFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func machineToModel(m domain.Machine) (MachineModel, error) {
	metadata, err := marshalJSONMap(m.Metadata)
	if err != nil {
		return MachineModel{}, err
	}
	return MachineModel{
		ID:            m.ID,
		LicenseID:     m.LicenseID,
		Fingerprint:   m.Fingerprint,
		Hostname:      m.Hostname,
		Platform:      m.Platform,
		Version:       m.Version,
		LastHeartbeat: m.LastHeartbeat,
		Metadata:      metadata,
		CreatedAt:     m.CreatedAt,
	}, nil
}

func machineFromModel(model MachineModel) (domain.Machine, error) {
	metadata, err := unmarshalJSONMap(model.Metadata)
	if err != nil {
		return domain.Machine{}, err
	}
	return domain.Machine{
		ID:            model.ID,
		LicenseID:     model.LicenseID,
		Fingerprint:   model.Fingerprint,
		Hostname:      model.Hostname,
		Platform:      model.Platform,
		Version:       model.Version,
		LastHeartbeat: model.LastHeartbeat,
		Metadata:      metadata,
		CreatedAt:     model.CreatedAt,
	}, nil
}
