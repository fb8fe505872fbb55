package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute, now: time.Now}
}

// Claims describes JWT payload. Actor is the identity the engine checks
// permissions against; Client is the service client that requested the token.
type Claims struct {
	Actor       string             `json:"actor"`
	SubjectType domain.SubjectType `json:"subject_type"`
	Client      string             `json:"client,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken builds and signs a JWT acting as actor on behalf of client.
func (tm *TokenManager) GenerateToken(actor string, subjectType domain.SubjectType, client string) (string, time.Time, error) {
	if strings.TrimSpace(actor) == "" {
		return "", time.Time{}, errors.New("actor is required")
	}
	issuedAt := tm.now()
	expiresAt := issuedAt.Add(tm.ttl)
	claims := &Claims{
		Actor:       actor,
		SubjectType: subjectType,
		Client:      client,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.now))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Actor == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
