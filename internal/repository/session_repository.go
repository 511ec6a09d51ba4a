package repository

import (
	"context"
	"errors"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindActiveBySessionHash(ctx context.Context, hash string) (*domain.Session, error)
	FindNonRevokedByRefreshHash(ctx context.Context, hash string) (*domain.Session, error)
	// Rotate swaps all three credential hashes in one UPDATE keyed by the old
	// refresh hash. Returns ErrSessionNotFound when no live row matched.
	Rotate(ctx context.Context, oldRefreshHash, newSessionHash, newRefreshHash string, expiresAt time.Time) (*domain.Session, error)
	TouchLastActive(ctx context.Context, sessionID string) error
	RevokeBySessionHash(ctx context.Context, hash string) error
	RevokeByUserID(ctx context.Context, userID string) error
	ListActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActiveBySessionHash(ctx context.Context, hash string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("session_hash = ? AND revoked_at IS NULL AND expires_at > ?", hash, time.Now()).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_session_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_session_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_session_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindNonRevokedByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	// No expiry check here: refresh tokens outlive the access expiry and the
	// refresh cookie's own lifetime bounds them client-side.
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("refresh_hash = ? AND revoked_at IS NULL", hash).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_refresh_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_refresh_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_refresh_hash", "success")
	return &s, nil
}

func (r *GormSessionRepository) Rotate(ctx context.Context, oldRefreshHash, newSessionHash, newRefreshHash string, expiresAt time.Time) (*domain.Session, error) {
	// Deliberately a single conditional UPDATE, not a locked read-modify-write:
	// concurrent refreshes on the same stale token may both match and the last
	// write wins. Closing that race is an explicit non-change; see the session
	// service notes.
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("refresh_hash = ? AND revoked_at IS NULL", oldRefreshHash).
		Updates(map[string]any{
			"session_hash":   newSessionHash,
			"refresh_hash":   newRefreshHash,
			"expires_at":     expiresAt,
			"last_active_at": now,
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "rotate", "error")
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "rotate", "not_found")
		return nil, ErrSessionNotFound
	}
	var s domain.Session
	if err := r.db.WithContext(ctx).Where("refresh_hash = ?", newRefreshHash).First(&s).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "rotate", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "rotate", "success")
	return &s, nil
}

func (r *GormSessionRepository) TouchLastActive(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Update("last_active_at", time.Now().UTC()).Error
}

func (r *GormSessionRepository) RevokeBySessionHash(ctx context.Context, hash string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("session_hash = ? AND revoked_at IS NULL", hash).
		Update("revoked_at", now).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_session_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_session_hash", "success")
	return nil
}

func (r *GormSessionRepository) RevokeByUserID(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", now).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_by_user_id", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_by_user_id", "success")
	return nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID string) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", time.Now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
