package tracking

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Mode string `json:"mode"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		session, err := svc.StartSession(c.Context(), userID(c), req.Mode)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Get("/sessions", authMiddleware, func(c *fiber.Ctx) error {
		list, err := svc.ListCompleted(c.Context(), userID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(list)
	})

	r.Get("/sessions/:id", authMiddleware, func(c *fiber.Ctx) error {
		detail, err := svc.Detail(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(detail)
	})

	r.Post("/sessions/:id/points", authMiddleware, func(c *fiber.Ctx) error {
		env, err := DecodeEnvelope(c.Body())
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		result, err := svc.Ingest(c.Context(), userID(c), c.Params("id"), env.Samples)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(result)
	})

	r.Post("/sessions/:id/stop", authMiddleware, func(c *fiber.Ctx) error {
		summary, err := svc.Stop(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(summary)
	})

	r.Get("/sessions/:id/summary", authMiddleware, func(c *fiber.Ctx) error {
		summary, err := svc.Summary(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(summary)
	})

	r.Get("/sessions/:id/points", authMiddleware, func(c *fiber.Ctx) error {
		points, err := svc.Points(c.Context(), userID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(points)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionClosed):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidPayload):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
