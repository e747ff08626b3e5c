package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"keystone/internal/domain"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, p domain.Product) (domain.Product, error) {
	if r.db == nil {
		return domain.Product{}, errDBUnavailable
	}
	if p.Code == "" {
		return domain.Product{}, errors.New("code is required")
	}
	if p.Name == "" {
		return domain.Product{}, errors.New("name is required")
	}
	if p.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.Product{}, err
		}
		p.ID = id
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	model, err := productToModel(p)
	if err != nil {
		return domain.Product{}, err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, domain.ErrDuplicateKey
		}
		return domain.Product{}, err
	}
	return productFromModel(model)
}

func (r *ProductRepository) GetByID(ctx context.Context, id string) (domain.Product, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *ProductRepository) GetByCode(ctx context.Context, code string) (domain.Product, error) {
	return r.getOne(ctx, "code = ?", code)
}

func (r *ProductRepository) getOne(ctx context.Context, query, arg string) (domain.Product, error) {
	if r.db == nil {
		return domain.Product{}, errDBUnavailable
	}
	var model ProductModel
	if err := r.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Product{}, domain.ErrNotFound
		}
		return domain.Product{}, err
	}
	return productFromModel(model)
}

func (r *ProductRepository) List(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []ProductModel
	if err := r.db.WithContext(ctx).Order("code ASC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(models))
	for _, model := range models {
		p, err := productFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func productToModel(p domain.Product) (ProductModel, error) {
	features, err := marshalJSONMap(p.Features)
	if err != nil {
		return ProductModel{}, err
	}
	metadata, err := marshalJSONMap(p.Metadata)
	if err != nil {
		return ProductModel{}, err
	}
	return ProductModel{
		ID:          p.ID,
		TenantID:    p.TenantID,
		Code:        p.Code,
		Name:        p.Name,
		Description: p.Description,
		DefaultTier: p.DefaultTier,
		Features:    features,
		Metadata:    metadata,
		CreatedAt:   p.CreatedAt,
	}, nil
}

func productFromModel(model ProductModel) (domain.Product, error) {
	features, err := unmarshalJSONMap(model.Features)
	if err != nil {
		return domain.Product{}, err
	}
	metadata, err := unmarshalJSONMap(model.Metadata)
	if err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:          model.ID,
		TenantID:    model.TenantID,
		Code:        model.Code,
		Name:        model.Name,
		Description: model.Description,
		DefaultTier: model.DefaultTier,
		Features:    features,
		Metadata:    metadata,
		CreatedAt:   model.CreatedAt,
	}, nil
}
