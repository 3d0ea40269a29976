package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/shubhambtra/chatapp-api-sub000/app/middleware"
	"github.com/shubhambtra/chatapp-api-sub000/service"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type DocumentHandler struct {
	svc *service.Service
}

func NewDocumentHandler(svc *service.Service) *DocumentHandler {
	return &DocumentHandler{
		svc: svc,
	}
}

func (h *DocumentHandler) HandlePostDocument(c *fiber.Ctx) error {
	var params types.SubmitTextParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	resp, err := h.svc.SubmitText(c.UserContext(), middleware.TenantID(c), params)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (h *DocumentHandler) HandleGetDocuments(c *fiber.Ctx) error {
	docs, err := h.svc.List(c.UserContext(), middleware.TenantID(c), types.DocumentStatus(c.Query("status")))
	if err != nil {
		return err
	}
	return c.JSON(docs)
}

func (h *DocumentHandler) HandleGetDocument(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	doc, err := h.svc.Get(c.UserContext(), middleware.TenantID(c), id, c.QueryBool("chunks"))
	if err != nil {
		return documentError(id, err)
	}
	return c.JSON(doc)
}

func (h *DocumentHandler) HandlePatchDocument(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var params types.UpdateDocumentParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	doc, err := h.svc.Update(c.UserContext(), middleware.TenantID(c), id, params)
	if err != nil {
		return documentError(id, err)
	}
	return c.JSON(doc)
}

func (h *DocumentHandler) HandleDeleteDocument(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.svc.Delete(c.UserContext(), middleware.TenantID(c), id); err != nil {
		return documentError(id, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *DocumentHandler) HandleReprocessDocument(c *fiber.Ctx) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	resp, err := h.svc.Reprocess(c.UserContext(), middleware.TenantID(c), id)
	if err != nil {
		return documentError(id, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func parseID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, ErrInvalidID()
	}
	return id, nil
}

func documentError(id uuid.UUID, err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return ErrNotFound(id, "document")
	}
	return err
}
