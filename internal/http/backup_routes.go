package http

import (
	"github.com/gofiber/fiber/v2"
)

func (s *server) registerBackupRoutes(api fiber.Router) {
	api.Post("/backups", func(c *fiber.Ctx) error {
		result, err := s.Backups.Export(c.Context(), CurrentUser(c).ID)
		if err != nil {
			return s.internalError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(backupResponse{Key: result.Key, Filters: result.Filters})
	})

	api.Get("/backups", func(c *fiber.Ctx) error {
		keys, err := s.Backups.List(c.Context(), CurrentUser(c).ID)
		if err != nil {
			return s.internalError(c, err)
		}
		if keys == nil {
			keys = []string{}
		}
		return c.JSON(listBackupsResponse{Keys: keys})
	})

	api.Post("/backups\\:restore", func(c *fiber.Ctx) error {
		var req restoreRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		result, err := s.Backups.Restore(c.Context(), CurrentUser(c).ID, req.Key)
		if err != nil {
			return s.serviceError(c, err, "backup")
		}
		return c.JSON(restoreResponse{Key: result.Key, Imported: result.Imported, Skipped: result.Skipped})
	})
}
