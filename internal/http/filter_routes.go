package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/sift/internal/criterion"
	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/service"
)

func (s *server) registerFilterRoutes(api fiber.Router) {
	api.Get("/criteria", func(c *fiber.Ctx) error {
		cat, err := s.Filters.Catalog(c.Context(), CurrentUser(c).ID)
		if err != nil {
			return s.internalError(c, err)
		}
		universe := cat.Universe().ID
		resp := listCriteriaResponse{Criteria: make([]apiCriterion, 0)}
		for _, def := range cat.All() {
			resp.Criteria = append(resp.Criteria, toAPICriterion(def, def.ID == universe))
		}
		return c.JSON(resp)
	})

	api.Get("/filters", func(c *fiber.Ctx) error {
		filters, err := s.Filters.List(c.Context(), CurrentUser(c).ID)
		if err != nil {
			return s.internalError(c, err)
		}
		resp := listFiltersResponse{Filters: make([]apiFilter, 0, len(filters))}
		for _, filter := range filters {
			item, err := s.apiFilter(filter)
			if err != nil {
				return s.internalError(c, err)
			}
			resp.Filters = append(resp.Filters, item)
		}
		return c.JSON(resp)
	})

	api.Post("/filters", func(c *fiber.Ctx) error {
		userID := CurrentUser(c).ID
		var req createFilterRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		list, err := s.Filters.DecodeStrict(c.Context(), userID, req.Criteria)
		if err != nil {
			return s.serviceError(c, err, "criterion")
		}
		filter, err := s.Filters.Create(c.Context(), userID, service.CreateFilterInput{
			Title:    req.Title,
			Color:    req.Color,
			Criteria: list,
		})
		if err != nil {
			return s.serviceError(c, err, "filter")
		}
		return s.writeFilter(c, filter)
	})

	api.Post("/filters\\:preview", func(c *fiber.Ctx) error {
		var req previewRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		preview, err := s.Filters.Preview(c.Context(), CurrentUser(c).ID, req.Criteria)
		if err != nil {
			return s.serviceError(c, err, "criterion")
		}
		return c.JSON(previewResponse{
			Criteria:  toAPIInstances(preview.Criteria),
			Predicate: preview.Predicate,
			Values:    preview.Values,
			Max:       preview.Max,
		})
	})

	api.Get("/filters/:id", func(c *fiber.Ctx) error {
		filterID, err := parseID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid filter id")
		}
		filter, err := s.Filters.Get(c.Context(), CurrentUser(c).ID, filterID)
		if err != nil {
			return s.serviceError(c, err, "filter")
		}
		return s.writeFilter(c, filter)
	})

	api.Patch("/filters/:id", func(c *fiber.Ctx) error {
		userID := CurrentUser(c).ID
		filterID, err := parseID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid filter id")
		}
		var req updateFilterRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		input := service.UpdateFilterInput{
			Title:    req.Title,
			Color:    req.Color,
			Position: req.Position,
		}
		if req.Criteria != nil {
			list, err := s.Filters.DecodeStrict(c.Context(), userID, *req.Criteria)
			if err != nil {
				return s.serviceError(c, err, "criterion")
			}
			input.Criteria = &list
		}
		filter, err := s.Filters.Update(c.Context(), userID, filterID, input)
		if err != nil {
			return s.serviceError(c, err, "filter")
		}
		return s.writeFilter(c, filter)
	})

	api.Delete("/filters/:id", func(c *fiber.Ctx) error {
		filterID, err := parseID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid filter id")
		}
		if err := s.Filters.Delete(c.Context(), CurrentUser(c).ID, filterID); err != nil {
			return s.serviceError(c, err, "filter")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	api.Get("/filters/:id/tasks", func(c *fiber.Ctx) error {
		filterID, err := parseID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid filter id")
		}
		tasks, next, err := s.Filters.Tasks(c.Context(), CurrentUser(c).ID, filterID, c.Query("search"), pageSize(c), c.Query("pageToken"))
		if err != nil {
			return s.serviceError(c, err, "filter")
		}
		return c.JSON(toAPITasks(tasks, next))
	})

	api.Post("/filters/:id/tasks", func(c *fiber.Ctx) error {
		filterID, err := parseID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid filter id")
		}
		var req createTaskRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		task, err := s.Tasks.CreateInFilter(c.Context(), CurrentUser(c).ID, filterID, req.input())
		if err != nil {
			return s.serviceError(c, err, "filter")
		}
		return c.Status(fiber.StatusCreated).JSON(toAPITask(task))
	})
}

func (s *server) apiFilter(filter models.Filter) (apiFilter, error) {
	values, err := s.Filters.NewTaskValues(filter)
	if err != nil {
		return apiFilter{}, err
	}
	return toAPIFilter(filter, values), nil
}

func (s *server) writeFilter(c *fiber.Ctx, filter models.Filter) error {
	item, err := s.apiFilter(filter)
	if err != nil {
		return s.internalError(c, err)
	}
	return c.JSON(item)
}

func parseOperator(raw string) (*criterion.Operator, bool) {
	if raw == "" {
		return nil, true
	}
	op, ok := criterion.ParseOperator(raw)
	if !ok {
		return nil, false
	}
	return &op, true
}
