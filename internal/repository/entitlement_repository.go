package repository

import (
	"context"
	"errors"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EntitlementRepository interface {
	// Get returns nil without error when the user has no row yet.
	Get(ctx context.Context, userID string) (*domain.Entitlement, error)
	Upsert(ctx context.Context, ent *domain.Entitlement) error
}

type GormEntitlementRepository struct{ db *gorm.DB }

func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &GormEntitlementRepository{db: db}
}

func (r *GormEntitlementRepository) Get(ctx context.Context, userID string) (*domain.Entitlement, error) {
	var e domain.Entitlement
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "entitlement", "get", "not_found")
			return nil, nil
		}
		observability.RecordRepositoryOperation(ctx, "entitlement", "get", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "entitlement", "get", "success")
	return &e, nil
}

func (r *GormEntitlementRepository) Upsert(ctx context.Context, ent *domain.Entitlement) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(ent).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "entitlement", "upsert", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "entitlement", "upsert", "success")
	return nil
}
