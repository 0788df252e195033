package jwtutil

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/suteetoe/pharmadesk/internal/model"
	"github.com/suteetoe/pharmadesk/pkg/config"
)

// ErrInvalidOrExpiredToken is returned for every token that fails verification.
var ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

// UserClaims represents the JWT claims for user authentication
type UserClaims struct {
	UserID     int64      `json:"user_id"`
	TenantCode int64      `json:"tenant_code"`
	Role       model.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTUtil is a utility for JWT token operations
type JWTUtil struct {
	signingKey []byte
	expiration time.Duration
	issuer     string
	now        func() time.Time
}

// New creates a JWT utility. It refuses to run without a signing key.
func New(cfg config.JWTConfig) (*JWTUtil, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("JWT signing key not provided")
	}
	if cfg.Expiration <= 0 {
		return nil, fmt.Errorf("JWT expiration must be positive, got %s", cfg.Expiration)
	}
	return &JWTUtil{
		signingKey: []byte(cfg.SigningKey),
		expiration: cfg.Expiration,
		issuer:     cfg.Issuer,
		now:        time.Now,
	}, nil
}

// WithClock returns a copy that reads the current time from now.
func (j *JWTUtil) WithClock(now func() time.Time) *JWTUtil {
	cp := *j
	cp.now = now
	return &cp
}

// Issue creates a signed token for user.
func (j *JWTUtil) Issue(user *model.User) (string, error) {
	now := j.now()
	claims := UserClaims{
		UserID:     user.UserID,
		TenantCode: user.TenantCode,
		Role:       user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates the token and returns its claims. Any failure, whether bad
// signature, wrong algorithm, expiry or malformed input, yields ErrInvalidOrExpiredToken.
func (j *JWTUtil) Verify(tokenString string) (*UserClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, ErrInvalidOrExpiredToken
	}
	if claims.UserID == 0 || claims.TenantCode == 0 {
		return nil, ErrInvalidOrExpiredToken
	}
	return claims, nil
}
