package httpapi

import (
	"github.com/gofiber/fiber/v2"
)

// register handles POST /api/v1/auth/register.
func (s *Server) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	user, token, err := s.auth.Register(req.Email, req.Password, req.DisplayName)
	if err != nil {
		return s.respondError(c, err)
	}

	return respondData(c, fiber.StatusCreated, fiber.Map{
		"token": token,
		"user":  shapeUser(user),
	})
}

// login handles POST /api/v1/auth/login.
func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.respondError(c, err)
	}

	user, token, err := s.auth.Login(req.Email, req.Password)
	if err != nil {
		return s.respondError(c, err)
	}

	return respondData(c, fiber.StatusOK, fiber.Map{
		"token": token,
		"user":  shapeUser(user),
	})
}
