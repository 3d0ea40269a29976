package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/shubhambtra/chatapp-api-sub000/app/middleware"
	"github.com/shubhambtra/chatapp-api-sub000/service"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type ChunkHandler struct {
	svc *service.Service
}

func NewChunkHandler(svc *service.Service) *ChunkHandler {
	return &ChunkHandler{
		svc: svc,
	}
}

func (h *ChunkHandler) HandleDeleteChunk(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.svc.PurgeChunk(c.UserContext(), middleware.TenantID(c), id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return ErrNotFound(id, "chunk")
		}
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChunkHandler) HandleDeleteChunks(c *fiber.Ctx) error {
	n, err := h.svc.PurgeTenant(c.UserContext(), middleware.TenantID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": n})
}
