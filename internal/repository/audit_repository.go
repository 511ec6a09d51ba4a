package repository

import (
	"context"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"

	"gorm.io/gorm"
)

type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditLog) error
	ListRecent(ctx context.Context, req PageRequest) (PageResult[domain.AuditLog], error)
}

type GormAuditRepository struct{ db *gorm.DB }

func NewAuditRepository(db *gorm.DB) AuditRepository { return &GormAuditRepository{db: db} }

func (r *GormAuditRepository) Append(ctx context.Context, entry *domain.AuditLog) error {
	err := r.db.WithContext(ctx).Create(entry).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_log", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit_log", "append", "success")
	return nil
}

func (r *GormAuditRepository) ListRecent(ctx context.Context, req PageRequest) (PageResult[domain.AuditLog], error) {
	req = normalizePageRequest(req)
	result := PageResult[domain.AuditLog]{Page: req.Page, PageSize: req.PageSize}

	base := r.db.WithContext(ctx).Model(&domain.AuditLog{})
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_log", "list_recent", "error")
		return PageResult[domain.AuditLog]{}, err
	}
	offset := (req.Page - 1) * req.PageSize
	if err := base.Order("id DESC").Offset(offset).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_log", "list_recent", "error")
		return PageResult[domain.AuditLog]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "audit_log", "list_recent", "success")
	return result, nil
}
