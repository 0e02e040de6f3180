package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"docvault.org/internal/obs"
)

// Kind discriminates bearer token variants. The kind is baked into the
// signed claims at issue time and must match the verification context:
// an access token is never accepted where a refresh token is required,
// and vice versa.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindStepUp  Kind = "step_up"
)

func (k Kind) valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindStepUp:
		return true
	}
	return false
}

// ErrInvalidToken covers every verification failure: malformed,
// expired, forged, wrong kind. Callers get a single opaque cause;
// the specific reason is only written to the debug log.
var ErrInvalidToken = errors.New("token: invalid token")

// Claims is the signed payload of a docvault bearer token.
type Claims struct {
	Kind         Kind   `json:"kind"`
	Role         string `json:"role,omitempty"`
	Department   string `json:"department,omitempty"`
	Organization string `json:"org,omitempty"`
	// SessionID ties a refresh token to one login session. Rotating a
	// refresh token retires the nonce so a replayed predecessor can be
	// detected downstream.
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Codec creates and parses signed bearer tokens. It is pure and
// stateless; it holds no per-request data and is safe for concurrent
// use.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	now           func() time.Time
}

// Option configures Codec behavior.
type Option func(*Codec)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		if iss := strings.TrimSpace(issuer); iss != "" {
			c.issuer = iss
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. Both secrets are required: a service
// with no signing secret must abort startup rather than silently
// degrade, so this is the only place Issue/Verify can fail on
// configuration.
func NewCodec(accessSecret, refreshSecret string, opts ...Option) (*Codec, error) {
	accessSecret = strings.TrimSpace(accessSecret)
	refreshSecret = strings.TrimSpace(refreshSecret)
	if accessSecret == "" {
		return nil, errors.New("token: access signing secret is not configured")
	}
	if refreshSecret == "" {
		return nil, errors.New("token: refresh signing secret is not configured")
	}
	c := &Codec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		issuer:        "docvault",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// secretFor returns the signing secret for a kind. Access and step-up
// tokens share one secret; refresh tokens use an independent one so a
// refresh-secret compromise cannot forge access tokens.
func (c *Codec) secretFor(kind Kind) []byte {
	if kind == KindRefresh {
		return c.refreshSecret
	}
	return c.accessSecret
}

// Issue serializes claims plus kind and expiry and signs them with the
// kind-appropriate secret.
func (c *Codec) Issue(kind Kind, claims Claims, ttl time.Duration) (string, time.Time, error) {
	if !kind.valid() {
		return "", time.Time{}, errors.New("token: unknown token kind")
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("token: ttl must be greater than zero")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", time.Time{}, errors.New("token: subject is required")
	}

	now := c.now().UTC()
	exp := now.Add(ttl)

	claims.Kind = kind
	claims.Issuer = c.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	claims.ID = uuid.NewString()
	if kind == KindRefresh && claims.SessionID == "" {
		claims.SessionID = uuid.NewString()
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secretFor(kind))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature validity, algorithm pinning, expiry, and
// that the embedded kind matches expected. Every failure surfaces as
// ErrInvalidToken so callers cannot distinguish "expired" from
// "forged"; the concrete cause is logged at debug level for operators.
func (c *Codec) Verify(raw string, expected Kind) (*Claims, error) {
	claims, err := c.verify(raw, expected)
	if err != nil {
		obs.TokenVerifications.WithLabelValues("failure").Inc()
		return nil, err
	}
	obs.TokenVerifications.WithLabelValues("success").Inc()
	return claims, nil
}

func (c *Codec) verify(raw string, expected Kind) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !expected.valid() {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secretFor(expected), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		obs.Logger().WithError(err).Debug("token verification failed")
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != expected {
		obs.Logger().WithField("kind", string(claims.Kind)).Debug("token kind mismatch")
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnsafe parses a token without verifying the signature. For
// diagnostics only; never feed the result into an authorization
// decision.
func (c *Codec) DecodeUnsafe(raw string) *Claims {
	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(strings.TrimSpace(raw), &Claims{})
	if err != nil {
		return nil
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil
	}
	return claims
}
