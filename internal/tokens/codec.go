package tokens

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrExpired   = errors.New("token expired")
	ErrMalformed = errors.New("token malformed")
)

type Options struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Now           func() time.Time
}

// Codec signs and verifies the two token kinds. Access and refresh tokens
// use different keys and carry a typ claim, so neither verifies as the other.
type Codec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
	now           func() time.Time
}

type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

func NewCodec(o Options) (*Codec, error) {
	if len(o.AccessSecret) == 0 || len(o.RefreshSecret) == 0 {
		return nil, errors.New("tokens: access and refresh secrets are required")
	}
	if bytes.Equal(o.AccessSecret, o.RefreshSecret) {
		return nil, errors.New("tokens: access and refresh secrets must differ")
	}
	if o.AccessTTL <= 0 {
		o.AccessTTL = DefaultAccessTTL
	}
	if o.RefreshTTL <= 0 {
		o.RefreshTTL = DefaultRefreshTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Codec{
		accessSecret:  o.AccessSecret,
		refreshSecret: o.RefreshSecret,
		accessTTL:     o.AccessTTL,
		refreshTTL:    o.RefreshTTL,
		issuer:        o.Issuer,
		now:           o.Now,
	}, nil
}

func (c *Codec) registered(subject string, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := c.now()
	exp := now.Add(ttl)
	return jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        NewJTI(),
	}, exp
}

func (c *Codec) IssueAccess(subject string, roles []string) (string, time.Time, error) {
	rc, exp := c.registered(subject, c.accessTTL)
	if roles == nil {
		roles = []string{}
	}
	claims := AccessClaims{Roles: roles, Type: TypeAccess, RegisteredClaims: rc}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.accessSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return token, exp, nil
}

func (c *Codec) IssueRefresh(subject string) (string, time.Time, error) {
	rc, exp := c.registered(subject, c.refreshTTL)
	claims := RefreshClaims{Type: TypeRefresh, RegisteredClaims: rc}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return token, exp, nil
}

func (c *Codec) IssuePair(subject string, roles []string) (*Pair, error) {
	access, accessExp, err := c.IssueAccess(subject, roles)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := c.IssueRefresh(subject)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (c *Codec) VerifyAccess(token string) (*AccessClaims, error) {
	var claims AccessClaims
	if err := c.parse(token, &claims, c.accessSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypeAccess || claims.Subject == "" {
		return nil, fmt.Errorf("%w: not an access token", ErrMalformed)
	}
	return &claims, nil
}

func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	var claims RefreshClaims
	if err := c.parse(token, &claims, c.refreshSecret); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.Subject == "" {
		return nil, fmt.Errorf("%w: not a refresh token", ErrMalformed)
	}
	return &claims, nil
}

func (c *Codec) parse(token string, claims jwt.Claims, secret []byte) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrMalformed)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Fingerprint is what gets persisted in an account's refresh slot instead of
// the raw token.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func NewJTI() string { return uuid.NewString() }
