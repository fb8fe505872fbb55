package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-engine/internal/auth"
	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/domain"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// TokenRequest is a service client asking for a bearer token. When ActAs is
// set the token carries that player identity, otherwise the client itself.
type TokenRequest struct {
	ClientID     string
	ClientSecret string
	ActAs        string
}

// IssuedToken is the result of a successful exchange.
type IssuedToken struct {
	Token       string
	ExpiresAt   time.Time
	Actor       string
	SubjectType domain.SubjectType
}

// AuthService exchanges service client credentials for tokens.
type AuthService struct {
	clients  *auth.ClientStore
	tokenMgr *auth.TokenManager
	logger   *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		clients:  auth.NewClientStore(cfg.Clients),
		tokenMgr: auth.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTLMinutes),
		logger:   logger,
	}
}

// IssueToken verifies the client secret and signs a token.
func (s *AuthService) IssueToken(_ context.Context, req TokenRequest) (*IssuedToken, error) {
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" || req.ClientSecret == "" {
		return nil, apperrors.NewValidationError("client_id and client_secret are required", nil)
	}
	if err := s.clients.Verify(clientID, req.ClientSecret); err != nil {
		if errors.Is(err, auth.ErrInvalidClient) {
			s.logger.Warn("client authentication failed", zap.String("client", clientID))
			return nil, apperrors.NewUnauthorized("invalid client credentials")
		}
		return nil, apperrors.NewInternalError(err)
	}

	actor, subjectType := clientID, domain.SubjectTypeClient
	if actAs := strings.TrimSpace(req.ActAs); actAs != "" {
		actor, subjectType = actAs, domain.SubjectTypeIdentity
	}
	token, exp, err := s.tokenMgr.GenerateToken(actor, subjectType, clientID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &IssuedToken{Token: token, ExpiresAt: exp, Actor: actor, SubjectType: subjectType}, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
