package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-engine/internal/api/dto"
	"github.com/spec-kit/ticket-engine/internal/service"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// AuthHandler issues bearer tokens to service clients.
type AuthHandler struct {
	auth *service.AuthService
}

// NewAuthHandler constructs handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: authService}
}

// Token POST /auth/token.
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req dto.TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	issued, err := h.auth.IssueToken(c.UserContext(), service.TokenRequest{
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		ActAs:        req.ActAs,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.TokenResponse{
		AccessToken: issued.Token,
		TokenType:   "Bearer",
		ExpiresAt:   issued.ExpiresAt,
		Actor:       issued.Actor,
		SubjectType: issued.SubjectType,
	}})
}
