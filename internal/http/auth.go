package http

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/service"
)

const currentUserKey = "currentUser"

var errInvalidAuthorization = errors.New("invalid authorization header")

func AuthMiddleware(userService *service.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := bearerToken(c)
		if err != nil {
			return unauthorized(c, err.Error())
		}
		if token == "" {
			return unauthorized(c, "missing authorization")
		}
		user, err := userService.AuthenticateToken(c.Context(), token)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return unauthorized(c, "invalid access token")
			}
			return writeError(c, fiber.StatusInternalServerError, codeInternal, "failed to authenticate")
		}
		c.Locals(currentUserKey, user)
		return c.Next()
	}
}

func CurrentUser(c *fiber.Ctx) models.User {
	user, _ := c.Locals(currentUserKey).(models.User)
	return user
}

// OptionalAuthenticateToken returns nil without an Authorization header.
func OptionalAuthenticateToken(c *fiber.Ctx, userService *service.UserService) (*models.User, error) {
	token, err := bearerToken(c)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	user, err := userService.AuthenticateToken(c.Context(), token)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authz := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authz == "" {
		return "", nil
	}
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", errInvalidAuthorization
	}
	return strings.TrimSpace(authz[len("Bearer "):]), nil
}
