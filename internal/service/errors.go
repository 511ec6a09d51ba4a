package service

import "errors"

var (
	// Session manager failures. ErrUnauthenticated covers every lookup miss
	// and expiry; ErrStoreUnavailable is kept distinct so clients retry
	// instead of re-login.
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrStoreUnavailable = errors.New("credential store unavailable")

	// OTP challenge failures, in verification order.
	ErrExpiredChallenge  = errors.New("challenge expired")
	ErrChallengeReplayed = errors.New("challenge already used")
	ErrChallengeLocked   = errors.New("challenge locked")
	ErrIdentityMismatch  = errors.New("challenge identity mismatch")
	ErrCodeMismatch      = errors.New("otp code mismatch")

	// Redemption failures.
	ErrInvalidKey     = errors.New("invalid premium key")
	ErrKeyAlreadyUsed = errors.New("premium key already used")
)
