package route

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, p *Proxy, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req Request
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON")
		}

		body, err := p.Directions(req)
		var upstream *UpstreamError
		switch {
		case err == nil:
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(body)
		case errors.Is(err, ErrInvalidRequest):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case errors.As(err, &upstream):
			return fiber.NewError(upstream.Status, "Routing service error")
		case errors.Is(err, ErrUnavailable):
			return fiber.NewError(fiber.StatusServiceUnavailable, "Service unavailable")
		default:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	})
}
