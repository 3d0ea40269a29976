package api

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/shubhambtra/chatapp-api-sub000/types"
)

// ErrorHandler renders every handler error as JSON. Domain errors map to
// their status codes; anything unrecognized is a 500 and gets logged.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var apiErr Error
		if errors.As(err, &apiErr) {
			return c.Status(apiErr.Code).JSON(apiErr)
		}
		var valErr types.ValidationError
		if errors.As(err, &valErr) {
			return c.Status(valErr.Status).JSON(valErr)
		}
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(NewError(fiberErr.Code, fiberErr.Message))
		}

		apiErr = NewError(statusFor(err), err.Error())
		if apiErr.Code >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"code", apiErr.Code,
				"error", err)
			apiErr.Message = "internal server error"
		}
		return c.Status(apiErr.Code).JSON(apiErr)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrDocumentDeleted):
		return fiber.StatusNotFound
	case errors.Is(err, types.ErrIndexingInProgress), errors.Is(err, types.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, types.ErrUnsupportedFormat):
		return fiber.StatusUnsupportedMediaType
	case errors.Is(err, types.ErrEmptyContent),
		errors.Is(err, types.ErrDimensionMismatch),
		errors.Is(err, types.ErrContentNotEditable):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, types.ErrEmbeddingProvider), errors.Is(err, types.ErrGenerationProvider):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrInvalidID() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid id given",
	}
}

func ErrNotFound[T any](arg T, resource string) Error {
	return Error{
		Code:    fiber.StatusNotFound,
		Message: fmt.Sprintf("%s with %v not found", resource, arg),
	}
}
