package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/sift/internal/service"
)

func (s *server) registerDraftRoutes(api fiber.Router) {
	api.Post("/drafts", func(c *fiber.Ctx) error {
		var req openDraftRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		view, err := s.Drafts.Open(c.Context(), CurrentUser(c).ID, service.OpenDraftInput{
			FilterID: req.FilterID,
			State:    req.State,
			Title:    req.Title,
			Color:    req.Color,
		})
		if err != nil {
			return s.serviceError(c, err, "filter")
		}
		return c.Status(fiber.StatusCreated).JSON(toAPIDraft(view))
	})

	api.Get("/drafts/:id", func(c *fiber.Ctx) error {
		view, err := s.Drafts.Get(c.Context(), CurrentUser(c).ID, c.Params("id"))
		if err != nil {
			return s.serviceError(c, err, "draft")
		}
		return c.JSON(toAPIDraft(view))
	})

	api.Patch("/drafts/:id", func(c *fiber.Ctx) error {
		var req patchDraftRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		view, err := s.Drafts.Patch(c.Context(), CurrentUser(c).ID, c.Params("id"), service.DraftPatch{
			Title: req.Title,
			Color: req.Color,
		})
		if err != nil {
			return s.serviceError(c, err, "draft")
		}
		return c.JSON(toAPIDraft(view))
	})

	api.Delete("/drafts/:id", func(c *fiber.Ctx) error {
		if err := s.Drafts.Discard(CurrentUser(c).ID, c.Params("id")); err != nil {
			return s.serviceError(c, err, "draft")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Post("/drafts/:id/criteria", func(c *fiber.Ctx) error {
		var req addCriterionRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		op, ok := parseOperator(req.Operator)
		if !ok {
			return badRequest(c, "invalid operator")
		}
		view, err := s.Drafts.AddCriterion(c.Context(), CurrentUser(c).ID, c.Params("id"), req.CriterionID, op, req.selection())
		if err != nil {
			return s.serviceError(c, err, "draft")
		}
		return c.JSON(toAPIDraft(view))
	})

	api.Patch("/drafts/:id/criteria/:cid", func(c *fiber.Ctx) error {
		var req updateCriterionRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		op, ok := parseOperator(req.Operator)
		if !ok {
			return badRequest(c, "invalid operator")
		}
		view, err := s.Drafts.UpdateCriterion(c.Context(), CurrentUser(c).ID, c.Params("id"), c.Params("cid"), op, req.selection())
		if err != nil {
			return s.serviceError(c, err, "criterion")
		}
		return c.JSON(toAPIDraft(view))
	})

	api.Delete("/drafts/:id/criteria/:cid", func(c *fiber.Ctx) error {
		view, err := s.Drafts.RemoveCriterion(c.Context(), CurrentUser(c).ID, c.Params("id"), c.Params("cid"))
		if err != nil {
			return s.serviceError(c, err, "criterion")
		}
		return c.JSON(toAPIDraft(view))
	})

	api.Post("/drafts/:id\\:move", func(c *fiber.Ctx) error {
		var req moveCriterionRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		view, err := s.Drafts.MoveCriterion(c.Context(), CurrentUser(c).ID, c.Params("id"), req.From, req.To)
		if err != nil {
			return s.serviceError(c, err, "draft")
		}
		return c.JSON(toAPIDraft(view))
	})

	api.Post("/drafts/:id\\:recount", func(c *fiber.Ctx) error {
		view, err := s.Drafts.Recount(c.Context(), CurrentUser(c).ID, c.Params("id"))
		if err != nil {
			return s.serviceError(c, err, "draft")
		}
		return c.JSON(toAPIDraft(view))
	})

	api.Post("/drafts/:id\\:save", func(c *fiber.Ctx) error {
		filter, err := s.Drafts.Save(c.Context(), CurrentUser(c).ID, c.Params("id"))
		if err != nil {
			return s.serviceError(c, err, "draft")
		}
		return s.writeFilter(c, filter)
	})
}
