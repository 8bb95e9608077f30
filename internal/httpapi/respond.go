package httpapi

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/daybook-hq/daybook/internal/errors"
)

// All /api/v1 responses use the same envelope: {success, data} on
// success, {success:false, error, details?} on failure.

func respondData(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(fiber.Map{"success": true, "data": data})
}

func respondErrorMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": message})
}

// respondError maps a service error onto the wire contract. Unexpected
// errors log with full context and render a generic 500.
func (s *Server) respondError(c *fiber.Ctx, err error) error {
	var valErr *apperrors.ValidationError
	if errors.As(err, &valErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Validation failed",
			"details": valErr.Fields,
		})
	}

	var nfErr *apperrors.NotFoundError
	if errors.As(err, &nfErr) {
		return respondErrorMessage(c, fiber.StatusNotFound, nfErr.Error())
	}

	var rlErr *apperrors.RateLimitError
	if errors.As(err, &rlErr) {
		retry := int(rlErr.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		c.Set("Retry-After", strconv.Itoa(retry))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"success":    false,
			"error":      "Rate limit exceeded",
			"retryAfter": retry,
		})
	}

	var upErr *apperrors.UpstreamError
	if errors.As(err, &upErr) {
		if upErr.Throttled() {
			// The provider throttled us, not the caller; same status,
			// different log line.
			s.logger.Warn().Err(err).Str("service", upErr.Service).Msg("upstream rate limited")
			if upErr.RetryAfter > 0 {
				c.Set("Retry-After", strconv.Itoa(int(upErr.RetryAfter.Seconds())))
			}
			return respondErrorMessage(c, fiber.StatusTooManyRequests, "The AI service is busy, try again shortly")
		}
		s.logger.Error().Err(err).Str("service", upErr.Service).Int("status", upErr.StatusCode).Msg("upstream call failed")
		return respondErrorMessage(c, fiber.StatusServiceUnavailable, "An upstream service failed, try again shortly")
	}

	switch {
	case errors.Is(err, apperrors.ErrUnauthorized):
		return respondErrorMessage(c, fiber.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, apperrors.ErrNotFound):
		return respondErrorMessage(c, fiber.StatusNotFound, "Resource not found")
	case errors.Is(err, apperrors.ErrInvalidInput):
		return respondErrorMessage(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		return respondErrorMessage(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrUnavailable):
		return respondErrorMessage(c, fiber.StatusServiceUnavailable, "Service unavailable")
	}

	s.logger.Error().Err(err).
		Str("path", c.Path()).
		Str("method", c.Method()).
		Str("request_id", requestIDOf(c)).
		Msg("request failed")
	return respondErrorMessage(c, fiber.StatusInternalServerError, "An internal error occurred")
}

// parseBody decodes and validates a request body in one step.
func (s *Server) parseBody(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.NewValidationError("body", "must be valid JSON")
	}
	if err := validate.Struct(dst); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make(map[string]string, len(invalid))
			for _, fe := range invalid {
				fields[fieldName(fe)] = "failed " + fe.Tag() + " validation"
			}
			return &apperrors.ValidationError{Fields: fields}
		}
		return apperrors.NewValidationError("body", "invalid")
	}
	return nil
}

// fieldName prefers the json tag over the Go field name.
func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if len(name) > 0 {
		return lowerFirst(name)
	}
	return name
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
