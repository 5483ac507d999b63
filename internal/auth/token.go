package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultIssuer   = "clientportal"
	DefaultTokenTTL = 7 * 24 * time.Hour
	MinSecretBytes  = 32
)

// Claims represents JWT claims used across the service.
type Claims struct {
	PrincipalType PrincipalType `json:"typ"`
	Role          AdminRole     `json:"role,omitempty"`
	CompanyID     string        `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// IsSuperAdmin reports whether the claims belong to a super administrator.
func (c *Claims) IsSuperAdmin() bool {
	return c.PrincipalType == PrincipalAdmin && c.Role == RoleSuperAdmin
}

// Signer issues and verifies HS256 session tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// SignerOption configures Signer.
type SignerOption func(*Signer)

// WithSignerIssuer overrides the iss claim.
func WithSignerIssuer(issuer string) SignerOption {
	return func(s *Signer) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithTokenTTL sets the session lifetime.
func WithTokenTTL(ttl time.Duration) SignerOption {
	return func(s *Signer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSignerClock overrides time source (useful for tests).
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewSigner constructs a signer. The secret must be at least 32 bytes.
func NewSigner(secret []byte, opts ...SignerOption) (*Signer, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("auth: signing secret must be at least %d bytes", MinSecretBytes)
	}
	s := &Signer{
		secret: append([]byte(nil), secret...),
		issuer: DefaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the session lifetime.
func (s *Signer) TTL() time.Duration { return s.ttl }

// Issue signs a token for the given claims. Registered claims are filled in by the signer.
func (s *Signer) Issue(c Claims) (string, time.Time, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	if !c.PrincipalType.Valid() {
		return "", time.Time{}, errors.New("auth: principal type is required")
	}
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.ttl)
	c.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   c.Subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer, expiry and required claims.
// Every failure collapses to ErrInvalidToken.
func (s *Signer) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func validateClaims(c *Claims) error {
	if strings.TrimSpace(c.Subject) == "" {
		return errors.New("subject missing")
	}
	switch c.PrincipalType {
	case PrincipalAdmin:
		if !c.Role.Valid() {
			return errors.New("admin role missing")
		}
	case PrincipalClient:
		if strings.TrimSpace(c.CompanyID) == "" {
			return errors.New("company missing")
		}
	default:
		return errors.New("principal type missing")
	}
	return nil
}
