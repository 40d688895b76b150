package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/store"
)

var (
	ErrInvalidUsername       = errors.New("invalid username")
	ErrInvalidDisplayName    = errors.New("invalid display name")
	ErrInvalidPassword       = errors.New("invalid password")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrInvalidRole           = errors.New("invalid role")
	ErrUsernameAlreadyExists = errors.New("username already exists")
	ErrRegistrationDisabled  = errors.New("registration is disabled")
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{2,31}$`)

const settingKeyAllowRegistration = "allow_registration"

// UserService owns accounts, registration and the personal access tokens
// every filter and task request is authorized with.
type UserService struct {
	store    *store.SQLStore
	validate *validator.Validate
	logger   *zap.Logger
}

type CreateUserInput struct {
	Username     string
	DisplayName  string
	Password     string
	Role         string
	ValidateOnly bool
}

// account is the normalized form of CreateUserInput that gets validated.
type account struct {
	Username    string `validate:"username"`
	DisplayName string `validate:"max=64"`
	Password    string `validate:"required"`
}

func NewUserService(s *store.SQLStore, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return &UserService{store: s, validate: v, logger: logger}
}

func (s *UserService) GetUser(ctx context.Context, userID int64) (models.User, error) {
	return s.store.GetUserByID(ctx, userID)
}

// GetUserByIdentifier accepts a numeric id or a username.
func (s *UserService) GetUserByIdentifier(ctx context.Context, identifier string) (models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return models.User{}, sql.ErrNoRows
	}
	if userID, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return s.store.GetUserByID(ctx, userID)
	}
	return s.store.GetUserByUsername(ctx, normalizeUsername(identifier))
}

// CreateUser registers an account. The first account becomes ADMIN; later
// ones need registration enabled or a super user creator.
func (s *UserService) CreateUser(ctx context.Context, creator *models.User, input CreateUserInput, allowRegistration bool) (models.User, error) {
	acct := account{
		Username:    normalizeUsername(input.Username),
		DisplayName: strings.TrimSpace(input.DisplayName),
		Password:    strings.TrimSpace(input.Password),
	}
	if acct.DisplayName == "" {
		acct.DisplayName = acct.Username
	}
	if err := s.validateAccount(acct); err != nil {
		return models.User{}, err
	}
	role, err := requestedRole(input.Role)
	if err != nil {
		return models.User{}, err
	}

	totalUsers, err := s.store.CountUsers(ctx)
	if err != nil {
		return models.User{}, err
	}
	isFirstUser := totalUsers == 0
	isSuperUser := creator != nil && models.IsSuperUserRole(creator.Role)
	if !isFirstUser && !allowRegistration && !isSuperUser {
		return models.User{}, ErrRegistrationDisabled
	}

	roleToAssign := models.RoleUser
	switch {
	case isFirstUser:
		roleToAssign = models.RoleAdmin
	case isSuperUser && role != "":
		roleToAssign = role
	}

	if input.ValidateOnly {
		return models.User{
			Username:    acct.Username,
			DisplayName: acct.DisplayName,
			Role:        roleToAssign,
		}, nil
	}

	if _, err := s.store.GetUserByUsername(ctx, acct.Username); err == nil {
		return models.User{}, ErrUsernameAlreadyExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return models.User{}, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(acct.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateUserWithProfile(ctx, acct.Username, acct.DisplayName, string(passwordHash), roleToAssign)
	if err != nil {
		if s.store.IsUniqueViolation(err) {
			return models.User{}, ErrUsernameAlreadyExists
		}
		return models.User{}, err
	}
	s.logger.Info("user created", zap.Int64("user", user.ID), zap.String("role", user.Role))
	return user, nil
}

func (s *UserService) validateAccount(acct account) error {
	err := s.validate.Struct(acct)
	var verrs validator.ValidationErrors
	if err == nil || !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	switch verrs[0].Field() {
	case "Username":
		return ErrInvalidUsername
	case "DisplayName":
		return ErrInvalidDisplayName
	default:
		return ErrInvalidPassword
	}
}

// requestedRole returns "" when no role was asked for.
func requestedRole(raw string) (string, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	switch raw {
	case "", "ROLE_UNSPECIFIED":
		return "", nil
	case models.RoleAdmin, models.RoleUser:
		return raw, nil
	default:
		return "", ErrInvalidRole
	}
}

func (s *UserService) ResolveAllowRegistration(ctx context.Context, fallback bool) (bool, error) {
	raw, err := s.store.GetSetting(ctx, settingKeyAllowRegistration)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fallback, nil
		}
		return fallback, err
	}
	allow, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "yes", "on":
			return true, nil
		case "no", "off":
			return false, nil
		}
		return fallback, nil
	}
	return allow, nil
}

func (s *UserService) SetAllowRegistration(ctx context.Context, allow bool) error {
	if err := s.store.UpsertSetting(ctx, settingKeyAllowRegistration, strconv.FormatBool(allow)); err != nil {
		return err
	}
	s.logger.Info("registration setting changed", zap.Bool("allow", allow))
	return nil
}

// SignInWithPassword checks the credentials and issues a fresh token.
func (s *UserService) SignInWithPassword(ctx context.Context, username string, password string) (models.User, string, error) {
	username = normalizeUsername(username)
	if username == "" || password == "" {
		return models.User{}, "", ErrInvalidCredentials
	}

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, "", ErrInvalidCredentials
		}
		return models.User{}, "", err
	}
	if user.PasswordHash == "" {
		return models.User{}, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Debug("password mismatch", zap.Int64("user", user.ID))
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := s.createAccessToken(ctx, user.ID, "signin token", nil)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
