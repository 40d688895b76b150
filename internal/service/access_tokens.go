package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/shinyes/sift/internal/models"
)

var (
	ErrTokenAlreadyExists  = errors.New("access token already exists")
	ErrTokenAlreadyRevoked = errors.New("access token already revoked")
	ErrInvalidTokenExpiry  = errors.New("invalid token expiry")
)

const tokenGenerateAttempts = 5

// AuthenticateToken resolves a bearer token to its owner and records the use.
func (s *UserService) AuthenticateToken(ctx context.Context, rawToken string) (models.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return models.User{}, sql.ErrNoRows
	}
	user, token, err := s.store.GetUserByToken(ctx, rawToken)
	if err != nil {
		return models.User{}, err
	}
	if err := s.store.TouchPersonalAccessToken(ctx, token.ID); err != nil {
		s.logger.Warn("touch access token", zap.Int64("token", token.ID), zap.Error(err))
	}
	return user, nil
}

// EnsureBootstrap creates the configured bootstrap account and token when
// they are missing. A password is only set on an account that has none.
func (s *UserService) EnsureBootstrap(ctx context.Context, username string, password string, rawToken string) error {
	username = normalizeUsername(username)
	rawToken = strings.TrimSpace(rawToken)
	if username == "" || (rawToken == "" && password == "") {
		return nil
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		user, err = s.store.CreateUser(ctx, username, username, models.RoleHost)
		if err != nil {
			return fmt.Errorf("create bootstrap user: %w", err)
		}
		s.logger.Info("bootstrap user created", zap.String("username", username))
	case err != nil:
		return err
	}

	if password != "" && user.PasswordHash == "" {
		passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash bootstrap password: %w", err)
		}
		if err := s.store.UpdateUserPassword(ctx, user.ID, string(passwordHash)); err != nil {
			return fmt.Errorf("set bootstrap password: %w", err)
		}
	}
	if rawToken == "" {
		return nil
	}

	if _, _, err := s.store.GetUserByToken(ctx, rawToken); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if _, err := s.store.CreatePersonalAccessToken(ctx, user.ID, rawToken, "bootstrap token"); err != nil {
		return fmt.Errorf("create bootstrap token: %w", err)
	}
	return nil
}

func (s *UserService) CreateAccessTokenForUser(ctx context.Context, identifier string, description string) (models.User, string, error) {
	return s.CreateAccessTokenForUserWithExpiry(ctx, identifier, description, nil)
}

func (s *UserService) CreateAccessTokenForUserWithExpiry(ctx context.Context, identifier string, description string, expiresAt *time.Time) (models.User, string, error) {
	user, err := s.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return models.User{}, "", err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = "admin generated token"
	}
	token, err := s.createAccessToken(ctx, user.ID, description, expiresAt)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

func (s *UserService) ListAccessTokensForUser(ctx context.Context, identifier string) (models.User, []models.PersonalAccessToken, error) {
	user, err := s.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return models.User{}, nil, err
	}
	tokens, err := s.store.ListPersonalAccessTokensByUserID(ctx, user.ID)
	if err != nil {
		return models.User{}, nil, err
	}
	return user, tokens, nil
}

func (s *UserService) RevokeAccessTokenByID(ctx context.Context, tokenID int64) (models.PersonalAccessToken, error) {
	token, err := s.store.GetPersonalAccessTokenByID(ctx, tokenID)
	if err != nil {
		return models.PersonalAccessToken{}, err
	}
	if token.RevokedAt != nil {
		return token, ErrTokenAlreadyRevoked
	}
	if err := s.store.RevokePersonalAccessToken(ctx, tokenID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return token, ErrTokenAlreadyRevoked
		}
		return models.PersonalAccessToken{}, err
	}
	s.logger.Info("access token revoked", zap.Int64("token", tokenID), zap.Int64("user", token.UserID))
	return s.store.GetPersonalAccessTokenByID(ctx, tokenID)
}

func (s *UserService) createAccessToken(ctx context.Context, userID int64, description string, expiresAt *time.Time) (string, error) {
	var expires *time.Time
	if expiresAt != nil {
		at := expiresAt.UTC()
		if !at.After(time.Now().UTC()) {
			return "", ErrInvalidTokenExpiry
		}
		expires = &at
	}

	for range tokenGenerateAttempts {
		token, err := generateAccessToken()
		if err != nil {
			return "", err
		}
		_, err = s.store.CreatePersonalAccessTokenWithExpiry(ctx, userID, token, description, expires)
		if err == nil {
			return token, nil
		}
		if !s.store.IsUniqueViolation(err) {
			return "", err
		}
	}
	return "", ErrTokenAlreadyExists
}

func generateAccessToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
