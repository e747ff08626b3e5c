package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"keystone/internal/domain"
	"keystone/internal/usecase"
)

type LicenseRepository struct {
	db *gorm.DB
}

func NewLicenseRepository(db *gorm.DB) *LicenseRepository {
	return &LicenseRepository{db: db}
}

func (r *LicenseRepository) Create(ctx context.Context, lic domain.License) (domain.License, error) {
	if r.db == nil {
		return domain.License{}, errDBUnavailable
	}
	if lic.KeyHash == "" {
		return domain.License{}, errors.New("key_hash is required")
	}
	if lic.ProductID == "" {
		return domain.License{}, errors.New("product_id is required")
	}
	if lic.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.License{}, err
		}
		lic.ID = id
	}
	model, err := licenseToModel(lic)
	if err != nil {
		return domain.License{}, err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.License{}, domain.ErrDuplicateKey
		}
		return domain.License{}, err
	}
	return licenseFromModel(model)
}

func (r *LicenseRepository) GetByID(ctx context.Context, id string) (domain.License, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *LicenseRepository) GetByKeyHash(ctx context.Context, keyHash string) (domain.License, error) {
	return r.getOne(ctx, "key_hash = ? AND deleted_at IS NULL", keyHash)
}

func (r *LicenseRepository) getOne(ctx context.Context, query string, arg string) (domain.License, error) {
	if r.db == nil {
		return domain.License{}, errDBUnavailable
	}
	var model LicenseModel
	if err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.License{}, domain.ErrNotFound
		}
		return domain.License{}, err
	}
	return licenseFromModel(model)
}

func (r *LicenseRepository) Update(ctx context.Context, lic domain.License) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := licenseToModel(lic)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&LicenseModel{}).Where("id = ?", lic.ID).Updates(map[string]any{
		"status":         model.Status,
		"tier":           model.Tier,
		"machines_limit": model.MachinesLimit,
		"machines_used":  model.MachinesUsed,
		"expires_at":     model.ExpiresAt,
		"features":       model.Features,
		"entitlements":   model.Entitlements,
		"metadata":       model.Metadata,
		"updated_at":     model.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LicenseRepository) UpdateStatus(ctx context.Context, id string, status domain.LicenseStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).Model(&LicenseModel{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LicenseRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).Model(&LicenseModel{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Update("deleted_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LicenseRepository) List(ctx context.Context, f usecase.LicenseFilter) ([]domain.License, int64, error) {
	if r.db == nil {
		return nil, 0, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Model(&LicenseModel{}).Where("deleted_at IS NULL")
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []LicenseModel
	if err := q.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.License, 0, len(models))
	for _, model := range models {
		lic, err := licenseFromModel(model)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, lic)
	}
	return out, total, nil
}

func licenseToModel(lic domain.License) (LicenseModel, error) {
	features, err := marshalJSONMap(lic.Features)
	if err != nil {
		return LicenseModel{}, err
	}
	entitlements, err := marshalJSONMap(lic.Entitlements)
	if err != nil {
		return LicenseModel{}, err
	}
	metadata, err := marshalJSONMap(lic.Metadata)
	if err != nil {
		return LicenseModel{}, err
	}
	return LicenseModel{
		ID:            lic.ID,
		TenantID:      lic.TenantID,
		KeyHash:       lic.KeyHash,
		Status:        string(lic.Status),
		Tier:          lic.Tier,
		ProductID:     lic.ProductID,
		CustomerID:    stringPtrIfNotEmpty(lic.CustomerID),
		MachinesLimit: lic.MachinesLimit,
		MachinesUsed:  lic.MachinesUsed,
		ExpiresAt:     lic.ExpiresAt,
		Features:      features,
		Entitlements:  entitlements,
		Metadata:      metadata,
		CreatedAt:     lic.CreatedAt,
		UpdatedAt:     lic.UpdatedAt,
		DeletedAt:     lic.DeletedAt,
	}, nil
}

func licenseFromModel(model LicenseModel) (domain.License, error) {
	features, err := unmarshalJSONMap(model.Features)
	if err != nil {
		return domain.License{}, err
	}
	entitlements, err := unmarshalJSONMap(model.Entitlements)
	if err != nil {
		return domain.License{}, err
	}
	metadata, err := unmarshalJSONMap(model.Metadata)
	if err != nil {
		return domain.License{}, err
	}
	return domain.License{
		ID:            model.ID,
		TenantID:      model.TenantID,
		KeyHash:       model.KeyHash,
		Status:        domain.LicenseStatus(model.Status),
		Tier:          model.Tier,
		ProductID:     model.ProductID,
		CustomerID:    stringValue(model.CustomerID),
		MachinesLimit: model.MachinesLimit,
		MachinesUsed:  model.MachinesUsed,
		ExpiresAt:     model.ExpiresAt,
		Features:      features,
		Entitlements:  entitlements,
		Metadata:      metadata,
		CreatedAt:     model.CreatedAt,
		UpdatedAt:     model.UpdatedAt,
		DeletedAt:     model.DeletedAt,
	}, nil
}

// isUniqueViolation matches the Postgres unique_violation SQLSTATE so a
// reused key hash surfaces as ErrDuplicateKey.
func isUniqueViolation(err error) bool {
	return err != nil && (errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key value"))
}
