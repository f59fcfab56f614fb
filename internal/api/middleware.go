package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const localUserID = "user_id"

// requireAuth resolves the caller identity from a Bearer token or the token
// query parameter and stores it in locals.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	token := ""
	if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing token"})
	}

	userID, err := s.validator.Validate(token)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	c.Locals(localUserID, userID)
	return c.Next()
}

func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}
