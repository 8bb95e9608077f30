package httpapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/daybook-hq/daybook/internal/requestid"
)

const localUserID = "user_id"

// userIDOf returns the authenticated caller set by requireAuth.
func userIDOf(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

func requestIDOf(c *fiber.Ctx) string {
	id, _ := c.Locals("request_id").(string)
	return id
}

// requestIDMiddleware tags every request with an id, echoed in the
// response header and carried in the request context for logging.
func (s *Server) requestIDMiddleware(c *fiber.Ctx) error {
	id := c.Get("X-Request-ID")
	if id == "" {
		id = requestid.New()
	}
	c.Set("X-Request-ID", id)
	c.Locals("request_id", id)
	c.SetUserContext(requestid.WithRequestID(c.UserContext(), id))
	return c.Next()
}

// metricsMiddleware records a counter and latency observation per
// request, labelled by route pattern rather than raw path.
func (s *Server) metricsMiddleware(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	route := c.Route().Path
	status := strconv.Itoa(c.Response().StatusCode())
	s.metrics.RecordRequest(route, status)
	s.metrics.ObserveDuration(route, time.Since(start).Seconds())
	return err
}

// authExempt lists paths served without a token.
func authExempt(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/api/v1/auth/")
}

// requireAuth resolves the Bearer token to a user id. Any failure
// renders the one uniform 401 body; the response never explains which
// part of the token was wrong.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	if authExempt(c.Path()) {
		return c.Next()
	}

	header := c.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return respondErrorMessage(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	userID, err := s.auth.VerifyToken(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		return respondErrorMessage(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	c.Locals(localUserID, userID)
	return c.Next()
}

// limit gates a route by endpoint class. Budgets are per authenticated
// user and per process; in multi-instance deployments the effective
// global budget is max times the instance count.
func (s *Server) limit(class string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.limiter == nil {
			return c.Next()
		}

		d := s.limiter.Check(userIDOf(c), class)
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

		if !d.Allowed {
			s.metrics.RecordRateLimitDenial(class)
			retry := d.RetryAfterSeconds()
			c.Set("Retry-After", strconv.Itoa(retry))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success":    false,
				"error":      "Rate limit exceeded",
				"retryAfter": retry,
			})
		}
		return c.Next()
	}
}
