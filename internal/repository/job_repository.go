package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrJobAlreadyAttached = errors.New("job already attached")
)

type JobRepository interface {
	Attach(ctx context.Context, userID, jobID, name string) (*domain.UserJob, error)
	ListByUser(ctx context.Context, userID string) ([]domain.UserJob, error)
	// OwnedBy reports whether jobID is attached to userID.
	OwnedBy(ctx context.Context, userID, jobID string) (bool, error)
	DeleteForUser(ctx context.Context, userID, jobID string) error
}

type GormJobRepository struct{ db *gorm.DB }

func NewJobRepository(db *gorm.DB) JobRepository { return &GormJobRepository{db: db} }

func (r *GormJobRepository) Attach(ctx context.Context, userID, jobID, name string) (*domain.UserJob, error) {
	job := &domain.UserJob{ID: uuid.NewString(), UserID: userID, JobID: jobID, Name: name}
	err := r.db.WithContext(ctx).Create(job).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "user_job", "attach", "duplicate")
			return nil, ErrJobAlreadyAttached
		}
		observability.RecordRepositoryOperation(ctx, "user_job", "attach", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user_job", "attach", "success")
	return job, nil
}

func (r *GormJobRepository) ListByUser(ctx context.Context, userID string) ([]domain.UserJob, error) {
	var jobs []domain.UserJob
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&jobs).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_job", "list_by_user", "error")
		return jobs, err
	}
	observability.RecordRepositoryOperation(ctx, "user_job", "list_by_user", "success")
	return jobs, nil
}

func (r *GormJobRepository) OwnedBy(ctx context.Context, userID, jobID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.UserJob{}).
		Where("user_id = ? AND job_id = ?", userID, jobID).
		Count(&count).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user_job", "owned_by", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "user_job", "owned_by", "success")
	return count > 0, nil
}

func (r *GormJobRepository) DeleteForUser(ctx context.Context, userID, jobID string) error {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND job_id = ?", userID, jobID).
		Delete(&domain.UserJob{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user_job", "delete_for_user", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "user_job", "delete_for_user", "not_found")
		return ErrJobNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user_job", "delete_for_user", "success")
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
