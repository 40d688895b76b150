package http

import (
	"database/sql"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shinyes/sift/internal/criterion"
	"github.com/shinyes/sift/internal/service"
)

const (
	codeBadRequest       = "BAD_REQUEST"
	codeUnauthorized     = "UNAUTHORIZED"
	codeForbidden        = "FORBIDDEN"
	codeNotFound         = "NOT_FOUND"
	codeConflict         = "CONFLICT"
	codeUnknownCriterion = "UNKNOWN_CRITERION"
	codeInternal         = "INTERNAL"
)

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(c *fiber.Ctx, status int, code string, message string) error {
	return c.Status(status).JSON(errorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestID(c),
	})
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDKey).(string)
	return id
}

func badRequest(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusBadRequest, codeBadRequest, message)
}

func unauthorized(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusUnauthorized, codeUnauthorized, message)
}

func notFound(c *fiber.Ctx, message string) error {
	return writeError(c, fiber.StatusNotFound, codeNotFound, message)
}

func (s *server) internalError(c *fiber.Ctx, err error) error {
	s.logger.Error("request failed",
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("request_id", requestID(c)),
		zap.Error(err),
	)
	return writeError(c, fiber.StatusInternalServerError, codeInternal, "internal error")
}

// serviceError maps service and store errors onto HTTP statuses.
func (s *server) serviceError(c *fiber.Ctx, err error, what string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows),
		errors.Is(err, service.ErrDraftNotFound),
		errors.Is(err, service.ErrCriterionNotFound),
		errors.Is(err, service.ErrBackupNotFound):
		return notFound(c, what+" not found")
	case errors.Is(err, criterion.ErrUnknownCriterion):
		s.logger.Info("unavailable criteria", zap.String("request_id", requestID(c)), zap.Error(err))
		return writeError(c, fiber.StatusUnprocessableEntity, codeUnknownCriterion, "filter uses unavailable criteria")
	case errors.Is(err, service.ErrAnchorLocked):
		return writeError(c, fiber.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, criterion.ErrMalformedRecord),
		errors.Is(err, service.ErrEmptyCriteria),
		errors.Is(err, service.ErrInvalidFilterTitle),
		errors.Is(err, service.ErrInvalidTaskTitle),
		errors.Is(err, service.ErrInvalidImportance),
		errors.Is(err, service.ErrInvalidPageToken),
		errors.Is(err, service.ErrInvalidSearch),
		errors.Is(err, service.ErrInvalidOperator),
		errors.Is(err, service.ErrInvalidSelection),
		errors.Is(err, service.ErrInvalidMove):
		return badRequest(c, err.Error())
	default:
		return s.internalError(c, err)
	}
}
