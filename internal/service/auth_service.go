package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/repository"
	"github.com/BlockXAI/Ginie-User-Management/internal/security"

	"github.com/google/uuid"
)

// Credentials is one minted cookie set: raw token values handed to the
// client exactly once. Only their keyed hashes are persisted.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	CSRFToken    string
	ExpiresAt    time.Time
}

type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	otp      *OTPService
	codec    *security.Codec
	sink     observability.Sink
	logger   *slog.Logger

	accessTTL  time.Duration
	seedAdmins map[string]struct{}

	missCache MissCache
	missTTL   time.Duration
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	otp *OTPService,
	codec *security.Codec,
	sink observability.Sink,
	logger *slog.Logger,
	accessTTL time.Duration,
	seedAdminEmails []string,
) *AuthService {
	seed := make(map[string]struct{}, len(seedAdminEmails))
	for _, e := range seedAdminEmails {
		seed[e] = struct{}{}
	}
	return &AuthService{
		users:      users,
		sessions:   sessions,
		otp:        otp,
		codec:      codec,
		sink:       sink,
		logger:     logger,
		accessTTL:  accessTTL,
		seedAdmins: seed,
		missCache:  NewInMemoryMissCache(),
		missTTL:    time.Minute,
	}
}

// UseMissCache swaps the rejected-token cache, typically for the Redis
// variant when running more than one instance.
func (s *AuthService) UseMissCache(c MissCache) {
	if c != nil {
		s.missCache = c
	}
}

// SendOTP issues a login challenge for the address. The account is not
// created until the challenge is verified.
func (s *AuthService) SendOTP(ctx context.Context, email string) (string, time.Time, error) {
	return s.otp.CreateChallenge(ctx, email)
}

// VerifyOTP settles a challenge and, on success, provisions the account if
// needed and mints a fresh session.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code, challengeID, ip, deviceInfo string) (*domain.User, *Credentials, error) {
	normalized := domain.NormalizeEmail(email)
	if err := s.otp.Verify(ctx, normalized, code, challengeID); err != nil {
		return nil, nil, err
	}

	role := domain.RoleNormal
	if _, ok := s.seedAdmins[normalized]; ok {
		role = domain.RoleAdmin
	}
	user, err := s.users.FindOrCreateByEmail(ctx, normalized, role)
	if err != nil {
		return nil, nil, fmt.Errorf("provision user: %w", err)
	}
	// Seeded operator addresses are promoted even when the account predates
	// the seed list.
	if role == domain.RoleAdmin && user.Role != domain.RoleAdmin {
		if err := s.users.UpdateRole(ctx, user.ID, domain.RoleAdmin); err != nil {
			return nil, nil, fmt.Errorf("promote seeded admin: %w", err)
		}
		user.Role = domain.RoleAdmin
	}

	creds, err := s.mintSession(ctx, user.ID, ip, deviceInfo)
	if err != nil {
		return nil, nil, err
	}
	s.sink.Increment(ctx, "login_ok")
	s.logger.InfoContext(ctx, "login", "user_id", user.ID, "role", user.Role)
	return user, creds, nil
}

func (s *AuthService) mintSession(ctx context.Context, userID, ip, deviceInfo string) (*Credentials, error) {
	access, err := security.NewToken(security.TokenBytes)
	if err != nil {
		return nil, err
	}
	refresh, err := security.NewToken(security.TokenBytes)
	if err != nil {
		return nil, err
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		SessionHash:  s.codec.Hash(access),
		RefreshHash:  s.codec.Hash(refresh),
		IP:           ip,
		DeviceInfo:   deviceInfo,
		ExpiresAt:    now.Add(s.accessTTL),
		LastActiveAt: now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		CSRFToken:    csrf,
		ExpiresAt:    sess.ExpiresAt,
	}, nil
}

// Validate resolves an access token to its user. Lookup misses and expiry
// both surface as ErrUnauthenticated; infrastructure failures surface as
// ErrStoreUnavailable so clients know to retry rather than re-login.
func (s *AuthService) Validate(ctx context.Context, accessToken string) (*domain.User, *domain.Session, error) {
	if accessToken == "" {
		observability.RecordSessionValidation(ctx, "missing")
		return nil, nil, ErrUnauthenticated
	}
	hash := s.codec.Hash(accessToken)
	if seen, err := s.missCache.Seen(ctx, hash); err == nil && seen {
		observability.RecordSessionValidation(ctx, "negative_cache_hit")
		return nil, nil, ErrUnauthenticated
	}
	sess, err := s.sessions.FindActiveBySessionHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			// Best effort; the miss cache only shields the store.
			_ = s.missCache.Remember(ctx, hash, s.missTTL)
			observability.RecordSessionValidation(ctx, "unauthenticated")
			return nil, nil, ErrUnauthenticated
		}
		observability.RecordSessionValidation(ctx, "store_error")
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}
	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordSessionValidation(ctx, "unauthenticated")
			return nil, nil, ErrUnauthenticated
		}
		observability.RecordSessionValidation(ctx, "store_error")
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}
	// Best effort; a failed touch never blocks the request.
	if err := s.sessions.TouchLastActive(ctx, sess.ID); err != nil {
		s.logger.WarnContext(ctx, "touch last active failed", "session_id", sess.ID, "error", err)
	}
	observability.RecordSessionValidation(ctx, "success")
	return user, sess, nil
}

// Refresh rotates a session in place: new access, refresh and CSRF values,
// new expiry, same row. Two clients racing on the same refresh token may
// both pass the conditional update; the later write wins and the earlier
// cookie set goes stale. That race is accepted.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Credentials, error) {
	if refreshToken == "" {
		return nil, ErrUnauthenticated
	}
	access, err := security.NewToken(security.TokenBytes)
	if err != nil {
		return nil, err
	}
	newRefresh, err := security.NewToken(security.TokenBytes)
	if err != nil {
		return nil, err
	}
	csrf, err := security.NewCSRFToken()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(s.accessTTL)
	_, err = s.sessions.Rotate(ctx, s.codec.Hash(refreshToken), s.codec.Hash(access), s.codec.Hash(newRefresh), expiresAt)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.sink.Increment(ctx, "refresh_rejected")
			return nil, ErrUnauthenticated
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	s.sink.Increment(ctx, "refresh_ok")
	return &Credentials{
		AccessToken:  access,
		RefreshToken: newRefresh,
		CSRFToken:    csrf,
		ExpiresAt:    expiresAt,
	}, nil
}

// Logout revokes the session behind the access token. Unknown or already
// revoked tokens are a no-op; logout never fails the client.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	if err := s.sessions.RevokeBySessionHash(ctx, s.codec.Hash(accessToken)); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	s.sink.Increment(ctx, "logout")
	return nil
}

// RevokeAll force-expires every live session of a user.
func (s *AuthService) RevokeAll(ctx context.Context, userID string) error {
	return s.sessions.RevokeByUserID(ctx, userID)
}

func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.sessions.ListActiveByUserID(ctx, userID)
}
