package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/email"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/security"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	challengeStatusActive = "active"
	challengeStatusUsed   = "used"
)

// challengeRecord is the TTL-backed state kept per issued OTP. Only the
// identity-bound hash of the code is stored.
type challengeRecord struct {
	Identity string `json:"identity"`
	OTPHash  string `json:"otp_hash"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Exp      int64  `json:"exp"` // unix milliseconds
}

type OTPService struct {
	rdb         *redis.Client
	codec       *security.Codec
	sender      email.Sender
	sink        observability.Sink
	logger      *slog.Logger
	ttl         time.Duration
	graceTTL    time.Duration
	maxAttempts int
}

func NewOTPService(rdb *redis.Client, codec *security.Codec, sender email.Sender, sink observability.Sink, logger *slog.Logger, ttl, graceTTL time.Duration, maxAttempts int) *OTPService {
	return &OTPService{
		rdb:         rdb,
		codec:       codec,
		sender:      sender,
		sink:        sink,
		logger:      logger,
		ttl:         ttl,
		graceTTL:    graceTTL,
		maxAttempts: maxAttempts,
	}
}

func challengeKey(id string) string { return "otp:ch:" + id }

// CreateChallenge issues a fresh challenge for identity and delivers the
// code out of band. If delivery fails the challenge is deleted so no
// stranded record can be brute-forced.
func (s *OTPService) CreateChallenge(ctx context.Context, identity string) (string, time.Time, error) {
	email := domain.NormalizeEmail(identity)
	challengeID := uuid.NewString()
	code, err := security.NewChallengeCode()
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := time.Now().Add(s.ttl)
	rec := challengeRecord{
		Identity: email,
		OTPHash:  s.codec.HashOTP(email, code),
		Status:   challengeStatusActive,
		Attempts: 0,
		Exp:      expiresAt.UnixMilli(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal challenge: %w", err)
	}
	if err := s.rdb.Set(ctx, challengeKey(challengeID), payload, s.ttl).Err(); err != nil {
		return "", time.Time{}, fmt.Errorf("store challenge: %w", err)
	}
	if err := s.sender.SendOTP(ctx, email, code, s.ttl); err != nil {
		_ = s.rdb.Del(ctx, challengeKey(challengeID)).Err()
		return "", time.Time{}, fmt.Errorf("deliver otp: %w", err)
	}
	s.sink.Increment(ctx, "otp_send")
	s.logger.InfoContext(ctx, "otp challenge issued", "identity", email, "challenge_id", challengeID)
	return challengeID, expiresAt, nil
}

// Verify checks the code against the challenge. The failure ladder is
// ordered: absent/expired, replayed, locked, identity mismatch, code
// mismatch. A matching code flips the record to used and shortens its TTL
// to a short grace window so the same challenge can never succeed twice.
func (s *OTPService) Verify(ctx context.Context, identity, code, challengeID string) error {
	if challengeID == "" {
		return ErrExpiredChallenge
	}
	key := challengeKey(challengeID)
	raw, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		s.sink.Increment(ctx, "otp_verify_fail")
		return ErrExpiredChallenge
	}
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	var rec challengeRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		s.sink.Increment(ctx, "otp_verify_fail")
		return ErrExpiredChallenge
	}
	if rec.Status != challengeStatusActive {
		s.sink.Increment(ctx, "otp_verify_fail")
		return ErrChallengeReplayed
	}
	now := time.Now()
	if now.UnixMilli() > rec.Exp {
		s.sink.Increment(ctx, "otp_verify_fail")
		return ErrExpiredChallenge
	}
	if rec.Attempts >= s.maxAttempts {
		s.sink.Increment(ctx, "otp_verify_fail")
		return ErrChallengeLocked
	}
	email := domain.NormalizeEmail(identity)
	if rec.Identity != email {
		s.sink.Increment(ctx, "otp_verify_fail")
		return ErrIdentityMismatch
	}
	if rec.OTPHash != s.codec.HashOTP(email, code) {
		rec.Attempts++
		remaining := time.Until(time.UnixMilli(rec.Exp))
		if remaining < time.Second {
			remaining = time.Second
		}
		payload, merr := json.Marshal(rec)
		if merr == nil {
			_ = s.rdb.Set(ctx, key, payload, remaining).Err()
		}
		s.sink.Increment(ctx, "otp_verify_fail")
		return ErrCodeMismatch
	}

	rec.Status = challengeStatusUsed
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	if err := s.rdb.Set(ctx, key, payload, s.graceTTL).Err(); err != nil {
		return fmt.Errorf("mark challenge used: %w", err)
	}
	s.sink.Increment(ctx, "otp_verify_ok")
	return nil
}
