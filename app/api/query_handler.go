package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shubhambtra/chatapp-api-sub000/app/middleware"
	"github.com/shubhambtra/chatapp-api-sub000/service"
	"github.com/shubhambtra/chatapp-api-sub000/types"
)

type QueryHandler struct {
	svc *service.Service
}

func NewQueryHandler(svc *service.Service) *QueryHandler {
	return &QueryHandler{
		svc: svc,
	}
}

func (h *QueryHandler) HandleSearch(c *fiber.Ctx) error {
	var params types.SearchParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	resp, err := h.svc.Search(c.UserContext(), middleware.TenantID(c), params)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// HandleAnswer always answers 200; provider failures surface as the
// fallback reply.
func (h *QueryHandler) HandleAnswer(c *fiber.Ctx) error {
	var params types.AnswerParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return types.NewValidationError(errors)
	}

	return c.JSON(h.svc.Answer(c.UserContext(), middleware.TenantID(c), params))
}
