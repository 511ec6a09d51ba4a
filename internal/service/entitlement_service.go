package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/repository"
	"github.com/BlockXAI/Ginie-User-Management/internal/security"

	"github.com/google/uuid"
)

// MintedKey pairs the stored key row with the raw secret. The raw value is
// returned exactly once, at mint time.
type MintedKey struct {
	Key *domain.PremiumKey
	Raw string
}

type EntitlementService struct {
	users        repository.UserRepository
	keys         repository.PremiumKeyRepository
	entitlements repository.EntitlementRepository
	keyCodec     *security.Codec
	cache        *AccessProfileCache
	sink         observability.Sink
	logger       *slog.Logger
}

func NewEntitlementService(
	users repository.UserRepository,
	keys repository.PremiumKeyRepository,
	entitlements repository.EntitlementRepository,
	keyCodec *security.Codec,
	cache *AccessProfileCache,
	sink observability.Sink,
	logger *slog.Logger,
) *EntitlementService {
	return &EntitlementService{
		users:        users,
		keys:         keys,
		entitlements: entitlements,
		keyCodec:     keyCodec,
		cache:        cache,
		sink:         sink,
		logger:       logger,
	}
}

// Mint creates a premium key and returns its raw secret. Only the argon2id
// digest and the keyed lookup hash are stored.
func (s *EntitlementService) Mint(ctx context.Context, adminID string, expiresAt *time.Time) (*MintedKey, error) {
	raw, err := security.NewPremiumKeySecret()
	if err != nil {
		return nil, err
	}
	secretHash, err := security.HashKeySecret(raw)
	if err != nil {
		return nil, err
	}
	key := &domain.PremiumKey{
		ID:            uuid.NewString(),
		SecretHash:    secretHash,
		LookupHash:    s.keyCodec.Hash(raw),
		IssuedByAdmin: adminID,
		Status:        domain.KeyStatusMinted,
		ExpiresAt:     expiresAt,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, fmt.Errorf("store premium key: %w", err)
	}
	s.sink.Increment(ctx, "key_minted")
	s.logger.InfoContext(ctx, "premium key minted", "key_id", key.ID, "admin_id", adminID)
	return &MintedKey{Key: key, Raw: raw}, nil
}

// Redeem settles a raw key for a user: minted keys flip to redeemed exactly
// once, the role upgrades to pro (admins keep admin) and pro access is
// switched on. Unknown, malformed and expired keys all collapse into
// ErrInvalidKey so callers cannot probe which keys exist.
func (s *EntitlementService) Redeem(ctx context.Context, userID, rawKey string) (*domain.PremiumKey, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" || !strings.HasPrefix(rawKey, "ginie_") {
		s.sink.Increment(ctx, "redeem_invalid")
		return nil, ErrInvalidKey
	}
	key, err := s.keys.Redeem(ctx, s.keyCodec.Hash(rawKey), userID, func(secretHash string) (bool, error) {
		return security.VerifyKeySecret(rawKey, secretHash)
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrKeyNotFound), errors.Is(err, repository.ErrKeyExpired):
			s.sink.Increment(ctx, "redeem_invalid")
			return nil, ErrInvalidKey
		case errors.Is(err, repository.ErrKeyAlreadyUsed):
			s.sink.Increment(ctx, "redeem_conflict")
			return nil, ErrKeyAlreadyUsed
		}
		return nil, err
	}
	s.cache.Invalidate(ctx, userID)
	s.sink.Increment(ctx, "redeem_ok")
	s.logger.InfoContext(ctx, "premium key redeemed", "key_id", key.ID, "user_id", userID)
	return key, nil
}

// RevokeKey pulls an unredeemed key out of circulation. Redeemed keys report
// ErrKeyAlreadyUsed; revoking twice is a no-op.
func (s *EntitlementService) RevokeKey(ctx context.Context, keyID string) error {
	err := s.keys.Revoke(ctx, keyID)
	if errors.Is(err, repository.ErrKeyAlreadyUsed) {
		return ErrKeyAlreadyUsed
	}
	if errors.Is(err, repository.ErrKeyNotFound) {
		return ErrInvalidKey
	}
	return err
}

func (s *EntitlementService) ListKeys(ctx context.Context, query repository.KeyListQuery) (repository.PageResult[domain.PremiumKey], error) {
	return s.keys.ListPaged(ctx, query)
}

// SetEntitlements replaces a user's flag row and drops the cached profile.
func (s *EntitlementService) SetEntitlements(ctx context.Context, ent *domain.Entitlement) error {
	if _, err := s.users.FindByID(ctx, ent.UserID); err != nil {
		return err
	}
	if err := s.entitlements.Upsert(ctx, ent); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, ent.UserID)
	return nil
}

// SetRole changes a user's role and drops the cached profile.
func (s *EntitlementService) SetRole(ctx context.Context, userID string, role domain.Role) error {
	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, userID)
	return nil
}

// Profile returns the role plus entitlement snapshot for a user, served from
// cache when fresh.
func (s *EntitlementService) Profile(ctx context.Context, userID string) (*AccessProfile, error) {
	if p, ok := s.cache.Get(ctx, userID); ok {
		return p, nil
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	ent, err := s.entitlements.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &AccessProfile{Role: user.Role, Entitlement: ent}
	s.cache.Set(ctx, userID, p)
	return p, nil
}

// HasFeature reports whether a user may use a gated feature. Wallet
// deployments historically shipped before the per-flag rows existed, so that
// one feature is also granted by pro access itself (flag, pro_enabled, or a
// pro/admin role); every other feature requires its own flag.
func (s *EntitlementService) HasFeature(ctx context.Context, userID string, flag domain.EntitlementFlag) (bool, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return false, err
	}
	return p.Allows(flag), nil
}

func (p *AccessProfile) Allows(flag domain.EntitlementFlag) bool {
	if p == nil {
		return false
	}
	if p.Entitlement.Has(flag) {
		return true
	}
	if flag == domain.FlagWalletDeployments {
		return p.Entitlement.Has(domain.FlagProEnabled) || p.Role.Rank() >= domain.RolePro.Rank()
	}
	return false
}
