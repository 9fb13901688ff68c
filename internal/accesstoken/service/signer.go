package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	accesstokendomain "github.com/smallbiznis/iahome/internal/accesstoken/domain"
)

type tokenClaims struct {
	jwt.RegisteredClaims
	ModuleID    string   `json:"module_id"`
	UserID      string   `json:"user_id"`
	AccessLevel string   `json:"access_level"`
	Permissions []string `json:"permissions"`
}

type signer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func (s signer) sign(t *accesstokendomain.AccessToken) (string, error) {
	if len(s.secret) == 0 {
		return "", accesstokendomain.ErrSigningKeyMissing
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.JWTID,
			Issuer:    s.issuer,
			Subject:   t.CreatedBy,
			IssuedAt:  jwt.NewNumericDate(t.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
		ModuleID:    t.ModuleID,
		UserID:      t.CreatedBy,
		AccessLevel: string(t.AccessLevel),
		Permissions: t.Permissions,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s signer) parse(raw string) (*tokenClaims, error) {
	if len(s.secret) == 0 {
		return nil, accesstokendomain.ErrSigningKeyMissing
	}
	var claims tokenClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, accesstokendomain.ErrExpired
		}
		return nil, accesstokendomain.ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, accesstokendomain.ErrInvalidToken
	}
	return &claims, nil
}
