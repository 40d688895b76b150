package store

import (
	"context"

	"github.com/shinyes/sift/internal/models"
)

const userColumns = `id, username, display_name, password_hash, role, create_time, update_time`

// CreateUser inserts an account without a password, as the bootstrap user is.
func (s *SQLStore) CreateUser(ctx context.Context, username string, displayName string, role string) (models.User, error) {
	return s.CreateUserWithProfile(ctx, username, displayName, "", role)
}

func (s *SQLStore) CreateUserWithProfile(ctx context.Context, username string, displayName string, passwordHash string, role string) (models.User, error) {
	created := stampNow()
	id, err := s.insertReturningID(
		ctx,
		`INSERT INTO users (username, display_name, password_hash, role, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		username, displayName, passwordHash, role, created, created,
	)
	if err != nil {
		return models.User{}, err
	}
	return s.GetUserByID(ctx, id)
}

func (s *SQLStore) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), id))
}

// GetUserByUsername matches case-insensitively.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER(?)`
	return scanUser(s.db.QueryRowContext(ctx, s.q(query), username))
}

func (s *SQLStore) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE users SET password_hash = ?, update_time = ? WHERE id = ?`),
		passwordHash, stampNow(), userID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (s *SQLStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users`).Scan(&count)
	return count, err
}

func scanUser(scanner rowScanner) (models.User, error) {
	var user models.User
	var createTime, updateTime string
	if err := scanner.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.PasswordHash,
		&user.Role,
		&createTime,
		&updateTime,
	); err != nil {
		return models.User{}, err
	}
	var times timeColumns
	user.CreateTime = times.required("create_time", createTime)
	user.UpdateTime = times.required("update_time", updateTime)
	if times.err != nil {
		return models.User{}, times.err
	}
	return user, nil
}
