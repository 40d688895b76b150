package http

import (
	"github.com/gofiber/fiber/v2"
)

func (s *server) registerTaskRoutes(api fiber.Router) {
	api.Get("/tasks", func(c *fiber.Ctx) error {
		tasks, next, err := s.Tasks.List(c.Context(), CurrentUser(c).ID, c.Query("filter"), pageSize(c), c.Query("pageToken"))
		if err != nil {
			return s.serviceError(c, err, "task")
		}
		return c.JSON(toAPITasks(tasks, next))
	})

	api.Post("/tasks", func(c *fiber.Ctx) error {
		var req createTaskRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		task, err := s.Tasks.Create(c.Context(), CurrentUser(c).ID, req.input())
		if err != nil {
			return s.serviceError(c, err, "task")
		}
		return c.Status(fiber.StatusCreated).JSON(toAPITask(task))
	})

	api.Get("/tasks/:id", func(c *fiber.Ctx) error {
		taskID, err := parseID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid task id")
		}
		task, err := s.Tasks.Get(c.Context(), CurrentUser(c).ID, taskID)
		if err != nil {
			return s.serviceError(c, err, "task")
		}
		return c.JSON(toAPITask(task))
	})

	api.Patch("/tasks/:id", func(c *fiber.Ctx) error {
		taskID, err := parseID(c.Params("id"))
		if err != nil {
			return badRequest(c, "invalid task id")
		}
		var req updateTaskRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		task, err := s.Tasks.Update(c.Context(), CurrentUser(c).ID, taskID, req.input())
		if err != nil {
			return s.serviceError(c, err, "task")
		}
		return c.JSON(toAPITask(task))
	})

	api.Get("/tags", func(c *fiber.Ctx) error {
		tags, err := s.Tasks.ListTags(c.Context(), CurrentUser(c).ID)
		if err != nil {
			return s.internalError(c, err)
		}
		resp := listTagsResponse{Tags: make([]apiTag, 0, len(tags))}
		for _, tag := range tags {
			resp.Tags = append(resp.Tags, apiTag{ID: tag.ID, Name: tag.Name})
		}
		return c.JSON(resp)
	})

	api.Post("/tags", func(c *fiber.Ctx) error {
		var req createTagRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		tag, err := s.Tasks.CreateTag(c.Context(), CurrentUser(c).ID, req.Name)
		if err != nil {
			return s.serviceError(c, err, "tag")
		}
		return c.Status(fiber.StatusCreated).JSON(apiTag{ID: tag.ID, Name: tag.Name})
	})
}
