package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/dom/authsvc/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// InvalidReason says why a token was rejected.
type InvalidReason int

const (
	ReasonNone InvalidReason = iota
	ReasonMalformed
	ReasonSignature
	ReasonExpired
	ReasonSubject
	ReasonUnknown
)

func (r InvalidReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMalformed:
		return "malformed"
	case ReasonSignature:
		return "signature"
	case ReasonExpired:
		return "expired"
	case ReasonSubject:
		return "subject"
	default:
		return "unknown"
	}
}

// Verification is the outcome of TokenService.Verify: either a subject
// (Reason == ReasonNone) or the reason the token was refused.
type Verification struct {
	Subject uuid.UUID
	Reason  InvalidReason
}

func (v Verification) Valid() bool {
	return v.Reason == ReasonNone
}

// Err is nil for a valid token and otherwise matches domain.ErrUnauthorized.
func (v Verification) Err() error {
	if v.Valid() {
		return nil
	}
	return fmt.Errorf("%w: invalid token (%s)", domain.ErrUnauthorized, v.Reason)
}

func invalid(reason InvalidReason) Verification {
	return Verification{Reason: reason}
}

// TokenService issues and verifies HS256 session tokens. It keeps no state
// beyond its signing key.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

type TokenOption func(*TokenService)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewTokenService(secret []byte, ttl time.Duration, issuer string, opts ...TokenOption) *TokenService {
	s := &TokenService{
		secret: secret,
		ttl:    ttl,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject valid for the configured window.
func (s *TokenService) Issue(subject uuid.UUID) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry and claims. It never returns a subject for
// a token that failed any check.
func (s *TokenService) Verify(tokenString string) Verification {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return invalid(classifyTokenError(err))
	}
	if !token.Valid {
		return invalid(ReasonSignature)
	}

	subject, err := uuid.Parse(claims.Subject)
	if err != nil || subject == uuid.Nil {
		return invalid(ReasonSubject)
	}

	return Verification{Subject: subject}
}

func classifyTokenError(err error) InvalidReason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ReasonMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ReasonSignature
	default:
		return ReasonUnknown
	}
}
