package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	claimUserID   = "user_id"
	claimUsername = "username"
)

var (
	// ErrMissingExpiry is returned for tokens without an exp claim.
	ErrMissingExpiry = errors.New("token has no expiry")
	// ErrMissingSubject is returned for tokens without a user_id or sub claim.
	ErrMissingSubject = errors.New("token has no subject")
	// ErrUnknownSubject is returned when the subject check rejects the user.
	ErrUnknownSubject = errors.New("unknown subject")
)

// Verifier resolves a bearer token to a principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

// SubjectCheck reports whether a user id refers to a known account.
type SubjectCheck func(ctx context.Context, userID string) (bool, error)

// HS256Verifier checks HMAC-SHA256 signed tokens against a shared secret.
type HS256Verifier struct {
	key          []byte
	now          func() time.Time
	subjectCheck SubjectCheck
}

// VerifierOption configures an HS256Verifier.
type VerifierOption func(*HS256Verifier)

// WithClock overrides the time source used for expiry validation.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *HS256Verifier) { v.now = now }
}

// WithSubjectCheck rejects tokens whose subject fails check.
func WithSubjectCheck(check SubjectCheck) VerifierOption {
	return func(v *HS256Verifier) { v.subjectCheck = check }
}

// NewHS256Verifier creates a verifier for the given shared secret.
func NewHS256Verifier(secret string, opts ...VerifierOption) (*HS256Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	v := &HS256Verifier{key: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the signature and expiry of token and resolves its subject.
func (v *HS256Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKey(jwa.HS256, v.key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("token verification failed: %w", err)
	}
	if tok.Expiration().IsZero() {
		return Principal{}, ErrMissingExpiry
	}

	userID := tok.Subject()
	if raw, ok := tok.Get(claimUserID); ok {
		userID = claimString(raw)
	}
	if userID == "" {
		return Principal{}, ErrMissingSubject
	}

	if v.subjectCheck != nil {
		known, err := v.subjectCheck(ctx, userID)
		if err != nil {
			return Principal{}, fmt.Errorf("subject check failed: %w", err)
		}
		if !known {
			return Principal{}, ErrUnknownSubject
		}
	}

	p := Principal{UserID: userID, ExpiresAt: tok.Expiration()}
	if raw, ok := tok.Get(claimUsername); ok {
		p.Username = claimString(raw)
	}
	return p, nil
}

// Issue signs a token carrying userID that expires after ttl.
func (v *HS256Verifier) Issue(userID, username string, ttl time.Duration) (string, error) {
	now := v.now()
	b := jwt.NewBuilder().
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(claimUserID, userID)
	if username != "" {
		b = b.Claim(claimUsername, username)
	}
	tok, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, v.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// claimString renders string or numeric claims as text; user ids are
// commonly issued as integers.
func claimString(raw any) string {
	switch val := raw.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}
