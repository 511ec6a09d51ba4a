package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
)

// TokenBytes is the default entropy for opaque tokens (256 bits).
const TokenBytes = 32

// NewToken returns a URL-safe random string carrying n bytes of entropy.
func NewToken(n int) (string, error) {
	if n < 16 {
		n = 16
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func NewCSRFToken() (string, error) { return NewToken(TokenBytes) }

// NewChallengeCode returns a six-digit OTP code.
func NewChallengeCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Codec computes deterministic keyed digests of raw token values so equality
// can be checked against stored rows without retaining the raw value. The
// secret is process-wide configuration; rotating it invalidates every
// outstanding credential derived from it.
type Codec struct {
	secret []byte
}

func NewCodec(secret string) *Codec { return &Codec{secret: []byte(secret)} }

func (c *Codec) Hash(raw string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashOTP binds an OTP code to its identity so challenges cannot be swapped
// across identities.
func (c *Codec) HashOTP(identity, code string) string {
	return c.Hash(identity + "|" + code)
}

func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
