package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/hirewire/messaging-service/internal/domain"
	"github.com/hirewire/messaging-service/internal/service"
	"github.com/hirewire/messaging-service/internal/ws"
)

type Handlers struct {
	svc      *service.Messaging
	presence *ws.Presence
	log      *zap.SugaredLogger
}

func NewHandlers(svc *service.Messaging, presence *ws.Presence, log *zap.SugaredLogger) *Handlers {
	return &Handlers{svc: svc, presence: presence, log: log}
}

func (h *Handlers) conversations(c *fiber.Ctx) error {
	convs, err := h.svc.Conversations(c.Context(), callerID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"data": convs})
}

func (h *Handlers) thread(c *fiber.Ctx) error {
	counterpart := c.Params("counterpartId")
	cursor := c.Query("cursor")
	limit := c.QueryInt("limit")

	msgs, next, err := h.svc.Thread(c.Context(), callerID(c), counterpart, cursor, limit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"data": msgs, "nextCursor": next})
}

func (h *Handlers) send(c *fiber.Ctx) error {
	var req service.SendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	msg, err := h.svc.Send(c.Context(), callerID(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": msg})
}

func (h *Handlers) markRead(c *fiber.Ctx) error {
	counterpart := c.Params("counterpartId")
	updated, err := h.svc.MarkRead(c.Context(), callerID(c), counterpart)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"updatedCount": updated})
}

func (h *Handlers) presenceStatus(c *fiber.Ctx) error {
	userID := c.Params("userId")
	online := false
	if h.presence != nil {
		online = h.presence.IsOnline(c.Context(), userID)
	}
	return c.JSON(fiber.Map{"userId": userID, "online": online})
}

// fail maps the error taxonomy onto HTTP. Store failures come back as a
// retryable 503; the client must never think a failed send went through.
func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	switch {
	case domain.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
	default:
		h.log.Errorw("request failed", "path", c.Path(), "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily unavailable, retry"})
	}
}
