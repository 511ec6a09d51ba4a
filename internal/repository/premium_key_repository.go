package repository

import (
	"context"
	"errors"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrKeyNotFound    = errors.New("premium key not found")
	ErrKeyExpired     = errors.New("premium key expired")
	ErrKeyAlreadyUsed = errors.New("premium key already used")
)

type KeyListQuery struct {
	PageRequest
	Status string
}

type PremiumKeyRepository interface {
	Create(ctx context.Context, k *domain.PremiumKey) error
	FindByID(ctx context.Context, id string) (*domain.PremiumKey, error)
	ListPaged(ctx context.Context, query KeyListQuery) (PageResult[domain.PremiumKey], error)
	// Redeem performs the whole redemption inside one transaction: row lock on
	// the key, status guard, secret verification, role upgrade and entitlement
	// upsert. Exactly one concurrent caller per key ever succeeds.
	Redeem(ctx context.Context, lookupHash, userID string, verifySecret func(secretHash string) (bool, error)) (*domain.PremiumKey, error)
	Revoke(ctx context.Context, id string) error
}

type GormPremiumKeyRepository struct{ db *gorm.DB }

func NewPremiumKeyRepository(db *gorm.DB) PremiumKeyRepository {
	return &GormPremiumKeyRepository{db: db}
}

func (r *GormPremiumKeyRepository) Create(ctx context.Context, k *domain.PremiumKey) error {
	err := r.db.WithContext(ctx).Create(k).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "premium_key", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "premium_key", "create", "success")
	return nil
}

func (r *GormPremiumKeyRepository) FindByID(ctx context.Context, id string) (*domain.PremiumKey, error) {
	var k domain.PremiumKey
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&k).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "premium_key", "find_by_id", "not_found")
			return nil, ErrKeyNotFound
		}
		observability.RecordRepositoryOperation(ctx, "premium_key", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "premium_key", "find_by_id", "success")
	return &k, nil
}

func (r *GormPremiumKeyRepository) ListPaged(ctx context.Context, query KeyListQuery) (PageResult[domain.PremiumKey], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.PremiumKey]{Page: req.Page, PageSize: req.PageSize}

	base := r.db.WithContext(ctx).Model(&domain.PremiumKey{})
	if query.Status != "" {
		base = base.Where("status = ?", query.Status)
	}
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "premium_key", "list_paged", "error")
		return PageResult[domain.PremiumKey]{}, err
	}
	offset := (req.Page - 1) * req.PageSize
	if err := base.Order("created_at DESC").Offset(offset).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "premium_key", "list_paged", "error")
		return PageResult[domain.PremiumKey]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "premium_key", "list_paged", "success")
	return result, nil
}

func (r *GormPremiumKeyRepository) Redeem(ctx context.Context, lookupHash, userID string, verifySecret func(secretHash string) (bool, error)) (*domain.PremiumKey, error) {
	var redeemed *domain.PremiumKey
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var k domain.PremiumKey
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("lookup_hash = ?", lookupHash).
			First(&k).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
			return ErrKeyExpired
		}
		if k.Status != domain.KeyStatusMinted {
			return ErrKeyAlreadyUsed
		}
		if verifySecret != nil {
			ok, err := verifySecret(k.SecretHash)
			if err != nil {
				return err
			}
			if !ok {
				return ErrKeyNotFound
			}
		}
		now := time.Now().UTC()
		// The status guard in the WHERE clause backs up the row lock: even if
		// a backend ignores FOR UPDATE, only one writer flips minted->redeemed.
		res := tx.Model(&domain.PremiumKey{}).
			Where("id = ? AND status = ?", k.ID, domain.KeyStatusMinted).
			Updates(map[string]any{
				"status":           domain.KeyStatusRedeemed,
				"redeemed_by_user": userID,
				"redeemed_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrKeyAlreadyUsed
		}
		// Role upgrade to pro; admins are never downgraded by redemption.
		if err := tx.Model(&domain.User{}).
			Where("id = ? AND role <> ?", userID, domain.RoleAdmin).
			Update("role", domain.RolePro).Error; err != nil {
			return err
		}
		ent := domain.Entitlement{UserID: userID, ProEnabled: true}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{"pro_enabled": true}),
		}).Create(&ent).Error; err != nil {
			return err
		}
		k.Status = domain.KeyStatusRedeemed
		k.RedeemedByUser = &userID
		k.RedeemedAt = &now
		redeemed = &k
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrKeyExpired):
			observability.RecordRepositoryOperation(ctx, "premium_key", "redeem", "invalid")
		case errors.Is(err, ErrKeyAlreadyUsed):
			observability.RecordRepositoryOperation(ctx, "premium_key", "redeem", "already_used")
		default:
			observability.RecordRepositoryOperation(ctx, "premium_key", "redeem", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "premium_key", "redeem", "success")
	return redeemed, nil
}

func (r *GormPremiumKeyRepository) Revoke(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.PremiumKey{}).
		Where("id = ? AND status = ?", id, domain.KeyStatusMinted).
		Update("status", domain.KeyStatusRevoked)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "premium_key", "revoke", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		k, err := r.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if k.Status == domain.KeyStatusRedeemed {
			observability.RecordRepositoryOperation(ctx, "premium_key", "revoke", "already_used")
			return ErrKeyAlreadyUsed
		}
		// Already revoked: idempotent.
	}
	observability.RecordRepositoryOperation(ctx, "premium_key", "revoke", "success")
	return nil
}
