package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"keystone/internal/domain"
)

type CustomerRepository struct {
	db *gorm.DB
}

func NewCustomerRepository(db *gorm.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

func (r *CustomerRepository) Create(ctx context.Context, c domain.Customer) (domain.Customer, error) {
	if r.db == nil {
		return domain.Customer{}, errDBUnavailable
	}
	if c.Name == "" {
		return domain.Customer{}, errors.New("name is required")
	}
	if c.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.Customer{}, err
		}
		c.ID = id
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	model, err := customerToModel(c)
	if err != nil {
		return domain.Customer{}, err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Customer{}, err
	}
	return customerFromModel(model)
}

func (r *CustomerRepository) GetByID(ctx context.Context, id string) (domain.Customer, error) {
	if r.db == nil {
		return domain.Customer{}, errDBUnavailable
	}
	var model CustomerModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Customer{}, domain.ErrNotFound
		}
		return domain.Customer{}, err
	}
	return customerFromModel(model)
}

func (r *CustomerRepository) List(ctx context.Context, limit, offset int) ([]domain.Customer, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []CustomerModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Customer, 0, len(models))
	for _, model := range models {
		c, err := customerFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func customerToModel(c domain.Customer) (CustomerModel, error) {
	metadata, err := marshalJSONMap(c.Metadata)
	if err != nil {
		return CustomerModel{}, err
	}
	return CustomerModel{
		ID:        c.ID,
		TenantID:  c.TenantID,
		Name:      c.Name,
		Email:     c.Email,
		Company:   c.Company,
		Metadata:  metadata,
		CreatedAt: c.CreatedAt,
	}, nil
}

func customerFromModel(model CustomerModel) (domain.Customer, error) {
	metadata, err := unmarshalJSONMap(model.Metadata)
	if err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{
		ID:        model.ID,
		TenantID:  model.TenantID,
		Name:      model.Name,
		Email:     model.Email,
		Company:   model.Company,
		Metadata:  metadata,
		CreatedAt: model.CreatedAt,
	}, nil
}
