package repository

import (
	"context"
	"errors"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrUserNotFound = errors.New("user not found")

type UserListQuery struct {
	PageRequest
	Email string
	Role  string
}

type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	// FindOrCreateByEmail returns the existing user or inserts a fresh one
	// with the given role.
	FindOrCreateByEmail(ctx context.Context, email string, role domain.Role) (*domain.User, error)
	UpdateRole(ctx context.Context, userID string, role domain.Role) error
	ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) FindOrCreateByEmail(ctx context.Context, email string, role domain.Role) (*domain.User, error) {
	u := domain.User{ID: uuid.NewString(), Email: email, Role: role}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&u).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "find_or_create", "error")
		return nil, err
	}
	// Re-read so a conflicting insert still returns the canonical row.
	existing, err := r.FindByEmail(ctx, email)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "find_or_create", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_or_create", "success")
	return existing, nil
}

func (r *GormUserRepository) UpdateRole(ctx context.Context, userID string, role domain.Role) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("role", role)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user", "update_role", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "user", "update_role", "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", "update_role", "success")
	return nil
}

func (r *GormUserRepository) ListPaged(ctx context.Context, query UserListQuery) (PageResult[domain.User], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.User]{Page: req.Page, PageSize: req.PageSize}

	base := r.db.WithContext(ctx).Model(&domain.User{})
	if query.Email != "" {
		base = base.Where("email LIKE ?", query.Email+"%")
	}
	if query.Role != "" {
		base = base.Where("role = ?", query.Role)
	}

	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "list_paged", "error")
		return PageResult[domain.User]{}, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := base.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "list_paged", "error")
		return PageResult[domain.User]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "user", "list_paged", "success")
	return result, nil
}
