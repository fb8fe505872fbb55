package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/ticket-engine/internal/auth"
	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/domain"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	hash, err := auth.HashSecret("pw", bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService(config.AuthConfig{
		JWTSecret:             "secret",
		AccessTokenTTLMinutes: 10,
		Clients:               map[string]string{"mud": hash},
	}, nil)
}

func TestIssueTokenActsAsIdentity(t *testing.T) {
	svc := newAuthService(t)
	issued, err := svc.IssueToken(context.Background(), TokenRequest{ClientID: "mud", ClientSecret: "pw", ActAs: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", issued.Actor)
	assert.Equal(t, domain.SubjectTypeIdentity, issued.SubjectType)

	claims, err := svc.TokenManager().ParseToken(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Actor)
	assert.Equal(t, "mud", claims.Client)
}

func TestIssueTokenForClient(t *testing.T) {
	svc := newAuthService(t)
	issued, err := svc.IssueToken(context.Background(), TokenRequest{ClientID: "mud", ClientSecret: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "mud", issued.Actor)
	assert.Equal(t, domain.SubjectTypeClient, issued.SubjectType)
}

func TestIssueTokenRejectsBadCredentials(t *testing.T) {
	svc := newAuthService(t)
	_, err := svc.IssueToken(context.Background(), TokenRequest{ClientID: "mud", ClientSecret: "nope"})
	assert.Equal(t, apperrors.CodeUnauthorized, apperrors.Code(err))

	_, err = svc.IssueToken(context.Background(), TokenRequest{ClientID: "mud"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
