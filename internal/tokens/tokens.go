package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campusdesk/analytics/internal/models"
	"github.com/campusdesk/analytics/pkg/middleware"
)

// GenerateAccessToken creates a signed HS256 access token for person.
func GenerateAccessToken(secret string, p *models.Person, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":                p.ID.Hex(),
		"preferred_username": p.UserName,
		"name":               p.FirstName + " " + p.LastName,
		"email":              p.Email,
		"role":               string(p.Role),
		"iat":                now.Unix(),
		"exp":                now.Add(ttl).Unix(),
	}
	jt := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return jt.SignedString([]byte(secret))
}

// HS256Verifier verifies tokens signed with a shared secret. It implements
// middleware.Verifier.
type HS256Verifier struct {
	secret []byte
}

func NewHS256Verifier(secret string) *HS256Verifier {
	return &HS256Verifier{secret: []byte(secret)}
}

type mapToken struct {
	claims jwt.MapClaims
}

func (t *mapToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func (v *HS256Verifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return &mapToken{claims: claims}, nil
}

// UnverifiedVerifier reads the claims of any well-formed token without checking its
// signature. It still requires a subject and rejects expired tokens. Only for
// integration runs that set ALLOW_INSECURE_TOKEN.
type UnverifiedVerifier struct {
	parser *jwt.Parser
}

func NewUnverifiedVerifier() *UnverifiedVerifier {
	return &UnverifiedVerifier{parser: jwt.NewParser()}
}

func (v *UnverifiedVerifier) Verify(_ context.Context, raw string) (middleware.Token, error) {
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if sub, err := claims.GetSubject(); err != nil || sub == "" {
		return nil, errors.New("token has no subject")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if exp != nil && exp.Before(time.Now()) {
		return nil, jwt.ErrTokenExpired
	}
	return &mapToken{claims: claims}, nil
}
