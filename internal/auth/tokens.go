package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lalith-99/tenantgate/internal/apperr"
	"github.com/lalith-99/tenantgate/internal/models"
)

// Claims is the JWT payload of both access and refresh tokens. Subject is
// the person id; TenantID is nil until the person selects a tenant.
type Claims struct {
	PersonID  uuid.UUID        `json:"-"`
	TenantID  *uuid.UUID       `json:"tenant_id"`
	Role      models.Role      `json:"role"`
	TokenType models.TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

func (c *Claims) HasTenant() bool {
	return c.TenantID != nil && *c.TenantID != uuid.Nil
}

// TokenPair is what every successful authentication returns.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issuer signs and parses HS256 tokens with a server-held secret.
type Issuer struct {
	secret            []byte
	issuer            string
	accessTTL         time.Duration
	refreshTTL        time.Duration
	pendingRefreshTTL time.Duration
	now               func() time.Time
}

type IssuerOption func(*Issuer)

// WithTTLs sets the access, refresh and pending-person refresh lifetimes.
func WithTTLs(access, refresh, pendingRefresh time.Duration) IssuerOption {
	return func(i *Issuer) {
		i.accessTTL = access
		i.refreshTTL = refresh
		i.pendingRefreshTTL = pendingRefresh
	}
}

func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(secret, issuer string, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		secret:            []byte(secret),
		issuer:            issuer,
		accessTTL:         time.Hour,
		refreshTTL:        30 * 24 * time.Hour,
		pendingRefreshTTL: 7 * 24 * time.Hour,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// IssuePair mints an access and a refresh token. Without a tenant the
// pair is a pending one: role is forced to pending and the refresh token
// uses the shorter pending lifetime.
func (i *Issuer) IssuePair(personID uuid.UUID, tenantID *uuid.UUID, role models.Role) (TokenPair, error) {
	refreshTTL := i.refreshTTL
	if tenantID == nil || *tenantID == uuid.Nil {
		tenantID = nil
		role = models.RolePending
		refreshTTL = i.pendingRefreshTTL
	}

	now := i.now().Truncate(jwt.TimePrecision)

	access, accessExp, err := i.sign(personID, tenantID, role, models.TokenAccess, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := i.sign(personID, tenantID, role, models.TokenRefresh, now, refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(personID uuid.UUID, tenantID *uuid.UUID, role models.Role, typ models.TokenType, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims := Claims{
		TenantID:  tenantID,
		Role:      role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   personID.String(),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies signature, structure and expiry, in that order. It does
// not check the token type or revocation; see Validator.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &apperr.Error{Code: apperr.CodeTokenExpired, Message: apperr.ErrTokenExpired.Message, Err: err}
		}
		return nil, &apperr.Error{Code: apperr.CodeTokenMalformed, Message: apperr.ErrTokenMalformed.Message, Err: err}
	}

	personID, err := uuid.Parse(claims.Subject)
	if err != nil || personID == uuid.Nil {
		return nil, apperr.ErrTokenMalformed
	}
	claims.PersonID = personID

	switch claims.TokenType {
	case models.TokenAccess, models.TokenRefresh:
	default:
		return nil, apperr.ErrTokenMalformed
	}
	if claims.HasTenant() != (claims.Role != models.RolePending) {
		return nil, apperr.ErrTokenMalformed
	}
	return claims, nil
}
