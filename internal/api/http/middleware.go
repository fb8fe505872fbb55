package http

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-engine/internal/observability"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(requestIDMiddleware())
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
}

func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(fiber.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Locals(observability.RequestIDKey, id)
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := toResponseError(err)
				metrics.RecordError(routePath(c), c.Method(), domainErr.Code)
				body := fiber.Map{
					"code":    domainErr.Code,
					"message": domainErr.Message,
				}
				if len(domainErr.Details) > 0 {
					body["details"] = domainErr.Details
				}
				if domainErr.HTTPStatus >= 500 {
					logger.Error("request failed",
						zap.String("path", c.Path()),
						zap.Any("request_id", c.Locals(observability.RequestIDKey)),
						zap.Error(domainErr),
					)
				}
				c.Status(domainErr.HTTPStatus)
				err = c.JSON(fiber.Map{"error": body})
			}
		}()
		return c.Next()
	}
}

// toResponseError maps fiber's own errors (unknown routes, guard rejections)
// before falling back to the domain mapping.
func toResponseError(err error) *apperrors.DomainError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return apperrors.NewDomainError(codeForStatus(fiberErr.Code), fiberErr.Message, fiberErr.Code, nil)
	}
	return apperrors.ToDomainError(err)
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusNotFound:
		return apperrors.CodeNotFound
	case fiber.StatusUnauthorized:
		return apperrors.CodeUnauthorized
	case fiber.StatusForbidden:
		return apperrors.CodePermissionDenied
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return apperrors.CodeValidation
	}
	if status >= 500 {
		return apperrors.CodeInternal
	}
	return "HTTP_ERROR"
}

func routePath(c *fiber.Ctx) string {
	if route := c.Route(); route != nil && route.Path != "" {
		return route.Path
	}
	return c.Path()
}
