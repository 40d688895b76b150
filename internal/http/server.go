package http

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shinyes/sift/internal/config"
	"github.com/shinyes/sift/internal/service"
)

// requestIDKey is where the requestid middleware stores the id by default.
const requestIDKey = "requestid"

type Services struct {
	Users   *service.UserService
	Filters *service.FilterService
	Drafts  *service.DraftService
	Tasks   *service.TaskService
	Backups *service.BackupService
}

type server struct {
	Services
	cfg    config.Config
	logger *zap.Logger
}

func NewRouter(cfg config.Config, services Services, logger *zap.Logger) *fiber.App {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{cfg: cfg, Services: services, logger: logger}

	bodyLimit := cfg.BodyLimitMB
	if bodyLimit <= 0 {
		bodyLimit = 4
	}
	app := fiber.New(fiber.Config{
		BodyLimit:             bodyLimit * 1024 * 1024,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(requestid.New())
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/api/v1/instance/profile", func(c *fiber.Ctx) error {
		return c.JSON(profileResponse{Version: cfg.Version})
	})

	app.Post("/api/v1/auth/signin", func(c *fiber.Ctx) error {
		var req signInRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		user, accessToken, err := s.Users.SignInWithPassword(
			c.Context(),
			req.PasswordCredentials.Username,
			req.PasswordCredentials.Password,
		)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				return badRequest(c, "unmatched username and password")
			}
			return s.internalError(c, err)
		}
		return c.JSON(signInResponse{
			User:        toAPIUser(user),
			AccessToken: accessToken,
		})
	})

	app.Post("/api/v1/users", func(c *fiber.Ctx) error {
		var req createUserRequest
		if err := parseBody(c, &req); err != nil {
			return badRequest(c, err.Error())
		}
		creator, err := OptionalAuthenticateToken(c, s.Users)
		if err != nil {
			return unauthorized(c, "invalid access token")
		}
		allowRegistration, err := s.Users.ResolveAllowRegistration(c.Context(), cfg.AllowRegistration)
		if err != nil {
			return s.internalError(c, err)
		}

		user, err := s.Users.CreateUser(c.Context(), creator, service.CreateUserInput{
			Username:     req.User.Username,
			DisplayName:  req.User.DisplayName,
			Password:     req.User.Password,
			Role:         req.User.Role,
			ValidateOnly: req.ValidateOnly,
		}, allowRegistration)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidUsername):
				return badRequest(c, "invalid username")
			case errors.Is(err, service.ErrInvalidDisplayName):
				return badRequest(c, "invalid displayName")
			case errors.Is(err, service.ErrInvalidPassword):
				return badRequest(c, "invalid password")
			case errors.Is(err, service.ErrInvalidRole):
				return badRequest(c, "invalid role")
			case errors.Is(err, service.ErrUsernameAlreadyExists):
				return writeError(c, fiber.StatusConflict, codeConflict, "username already exists")
			case errors.Is(err, service.ErrRegistrationDisabled):
				return writeError(c, fiber.StatusForbidden, codeForbidden, "user registration is not allowed")
			default:
				return s.internalError(c, err)
			}
		}
		return c.JSON(toAPIUser(user))
	})

	api := app.Group("/api/v1", AuthMiddleware(s.Users))
	api.Get("/auth/me", func(c *fiber.Ctx) error {
		return c.JSON(getCurrentUserResponse{User: toAPIUser(CurrentUser(c))})
	})

	s.registerFilterRoutes(api)
	s.registerDraftRoutes(api)
	s.registerTaskRoutes(api)
	s.registerBackupRoutes(api)
	return app
}

// handleError renders errors that escape handlers, including fiber's own
// 404/405, in the common envelope.
func (s *server) handleError(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		switch fe.Code {
		case fiber.StatusNotFound:
			return writeError(c, fe.Code, codeNotFound, fe.Message)
		case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest, fiber.StatusMethodNotAllowed:
			return writeError(c, fe.Code, codeBadRequest, fe.Message)
		}
	}
	return s.internalError(c, err)
}

func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty id")
	}
	return strconv.ParseInt(raw, 10, 64)
}

func pageSize(c *fiber.Ctx) int {
	size, _ := strconv.Atoi(strings.TrimSpace(c.Query("pageSize", "50")))
	return size
}
