package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/google/uuid"
)

func newSession(userID, sessionHash, refreshHash string, expiresAt time.Time) *domain.Session {
	return &domain.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		SessionHash:  sessionHash,
		RefreshHash:  refreshHash,
		ExpiresAt:    expiresAt,
		LastActiveAt: time.Now().UTC(),
	}
}

func TestSessionRepositoryFindActiveBySessionHash(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()

	active := newSession("u1", "s-active", "r-active", time.Now().Add(time.Hour))
	expired := newSession("u1", "s-expired", "r-expired", time.Now().Add(-time.Hour))
	revoked := newSession("u1", "s-revoked", "r-revoked", time.Now().Add(time.Hour))
	now := time.Now().UTC()
	revoked.RevokedAt = &now

	for _, s := range []*domain.Session{active, expired, revoked} {
		if err := repo.Create(ctx, s); err != nil {
			t.Fatalf("create %s: %v", s.SessionHash, err)
		}
	}

	got, err := repo.FindActiveBySessionHash(ctx, "s-active")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if got.ID != active.ID {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := repo.FindActiveBySessionHash(ctx, "s-expired"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for expired session, got %v", err)
	}
	if _, err := repo.FindActiveBySessionHash(ctx, "s-revoked"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for revoked session, got %v", err)
	}
}

func TestSessionRepositoryRotateSwapsAllHashes(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()

	s := newSession("u1", "s-old", "r-old", time.Now().Add(time.Hour))
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	newExpiry := time.Now().Add(90 * time.Minute)
	rotated, err := repo.Rotate(ctx, "r-old", "s-new", "r-new", newExpiry)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.ID != s.ID {
		t.Fatalf("rotation must mutate the same row, got %+v", rotated)
	}

	// Old access hash is dead the instant the update commits.
	if _, err := repo.FindActiveBySessionHash(ctx, "s-old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected old session hash invalidated, got %v", err)
	}
	if _, err := repo.FindActiveBySessionHash(ctx, "s-new"); err != nil {
		t.Fatalf("expected new session hash valid: %v", err)
	}
	if _, err := repo.FindNonRevokedByRefreshHash(ctx, "r-old"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected old refresh hash invalidated, got %v", err)
	}
}

func TestSessionRepositoryRotateUnknownOrRevoked(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()

	if _, err := repo.Rotate(ctx, "missing", "a", "b", time.Now().Add(time.Hour)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for unknown refresh hash, got %v", err)
	}

	s := newSession("u1", "s1", "r1", time.Now().Add(time.Hour))
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.RevokeBySessionHash(ctx, "s1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := repo.Rotate(ctx, "r1", "s2", "r2", time.Now().Add(time.Hour)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for revoked session, got %v", err)
	}
}

func TestSessionRepositoryRevokeIdempotent(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()

	s := newSession("u1", "s1", "r1", time.Now().Add(time.Hour))
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.RevokeBySessionHash(ctx, "s1"); err != nil {
		t.Fatalf("first revoke: %v", err)
	}
	if err := repo.RevokeBySessionHash(ctx, "s1"); err != nil {
		t.Fatalf("second revoke must be idempotent: %v", err)
	}
}

func TestSessionRepositoryListActiveAndCleanup(t *testing.T) {
	repo := NewSessionRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.Create(ctx, newSession("u1", "s1", "r1", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(ctx, newSession("u1", "s2", "r2", time.Now().Add(-time.Hour))); err != nil {
		t.Fatalf("create expired: %v", err)
	}
	if err := repo.Create(ctx, newSession("u2", "s3", "r3", time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("create other user: %v", err)
	}

	sessions, err := repo.ListActiveByUserID(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionHash != "s1" {
		t.Fatalf("unexpected active sessions: %+v", sessions)
	}

	removed, err := repo.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired row removed, got %d", removed)
	}
}
