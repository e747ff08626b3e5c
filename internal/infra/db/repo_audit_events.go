package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"keystone/internal/domain"
)

// errChainConflict reports an append whose prev_hash no longer matches
// the stored head, i.e. a concurrent writer got there first.
var errChainConflict = errors.New("audit chain head moved")

type AuditEventRepository struct {
	db *gorm.DB
}

func NewAuditEventRepository(db *gorm.DB) *AuditEventRepository {
	return &AuditEventRepository{db: db}
}

// Head returns the newest event of a license's chain. Insertion order is
// the chain order; created_at ties break on id.
func (r *AuditEventRepository) Head(ctx context.Context, licenseID string) (domain.AuditEvent, error) {
	if r.db == nil {
		return domain.AuditEvent{}, errDBUnavailable
	}
	if licenseID == "" {
		return domain.AuditEvent{}, errors.New("license_id is required")
	}
	var model AuditEventModel
	err := r.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("created_at DESC, id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.AuditEvent{}, domain.ErrNotFound
		}
		return domain.AuditEvent{}, err
	}
	return auditEventFromModel(model)
}

func (r *AuditEventRepository) Append(ctx context.Context, event domain.AuditEvent) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if event.LicenseID == "" {
		return errors.New("license_id is required")
	}
	if event.EventHash == "" || event.Signature == "" {
		return errors.New("event_hash and signature are required")
	}
	model, err := auditEventToModel(event)
	if err != nil {
		return err
	}
	// re-read the head inside the transaction: an append whose
	// prev_hash is stale must not land.
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head AuditEventModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("license_id = ?", event.LicenseID).
			Order("created_at DESC, id DESC").
			First(&head).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if event.PrevHash != "" {
				return errChainConflict
			}
		case err != nil:
			return err
		default:
			if head.EventHash != event.PrevHash {
				return errChainConflict
			}
		}
		return tx.Create(&model).Error
	})
}

func (r *AuditEventRepository) ListAsc(ctx context.Context, licenseID string) ([]domain.AuditEvent, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []AuditEventModel
	if err := r.db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("created_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return auditEventsFromModels(models)
}

func (r *AuditEventRepository) List(ctx context.Context, licenseID string, eventType domain.AuditEventType, limit, offset int) ([]domain.AuditEvent, int64, error) {
	if r.db == nil {
		return nil, 0, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Model(&AuditEventModel{}).Where("license_id = ?", licenseID)
	if eventType != "" {
		q = q.Where("event_type = ?", string(eventType))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []AuditEventModel
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(offset).Find(&models).Error; err != nil {
		return nil, 0, err
	}
	events, err := auditEventsFromModels(models)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func auditEventToModel(event domain.AuditEvent) (AuditEventModel, error) {
	detail, err := marshalJSONMap(event.Detail)
	if err != nil {
		return AuditEventModel{}, err
	}
	return AuditEventModel{
		ID:        event.ID,
		LicenseID: event.LicenseID,
		EventType: string(event.EventType),
		Actor:     event.Actor,
		Detail:    detail,
		PrevHash:  stringPtrIfNotEmpty(event.PrevHash),
		EventHash: event.EventHash,
		Signature: event.Signature,
		CreatedAt: event.CreatedAt,
	}, nil
}

func auditEventFromModel(model AuditEventModel) (domain.AuditEvent, error) {
	detail, err := unmarshalJSONMap(model.Detail)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return domain.AuditEvent{
		ID:        model.ID,
		LicenseID: model.LicenseID,
		EventType: domain.AuditEventType(model.EventType),
		Actor:     model.Actor,
		Detail:    detail,
		PrevHash:  stringValue(model.PrevHash),
		EventHash: model.EventHash,
		Signature: model.Signature,
		CreatedAt: model.CreatedAt,
	}, nil
}

func auditEventsFromModels(models []AuditEventModel) ([]domain.AuditEvent, error) {
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		event, err := auditEventFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}
