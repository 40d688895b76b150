package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/shinyes/sift/internal/models"
)

const (
	tokenColumns     = `id, user_id, token_prefix, token_hash, description, created_at, last_used_at, expires_at, revoked_at`
	tokenPrefixRunes = 8
)

func (s *SQLStore) CreatePersonalAccessToken(ctx context.Context, userID int64, rawToken string, description string) (models.PersonalAccessToken, error) {
	return s.CreatePersonalAccessTokenWithExpiry(ctx, userID, rawToken, description, nil)
}

// CreatePersonalAccessTokenWithExpiry stores only the hash of rawToken plus a
// short prefix for listings.
func (s *SQLStore) CreatePersonalAccessTokenWithExpiry(ctx context.Context, userID int64, rawToken string, description string, expiresAt *time.Time) (models.PersonalAccessToken, error) {
	prefix := rawToken
	if len(prefix) > tokenPrefixRunes {
		prefix = prefix[:tokenPrefixRunes]
	}
	var expires sql.NullString
	if expiresAt != nil {
		expires = sql.NullString{String: timestamp(*expiresAt), Valid: true}
	}
	id, err := s.insertReturningID(
		ctx,
		`INSERT INTO personal_access_tokens (user_id, token_prefix, token_hash, description, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, prefix, HashToken(rawToken), description, stampNow(), expires,
	)
	if err != nil {
		return models.PersonalAccessToken{}, err
	}
	return s.GetPersonalAccessTokenByID(ctx, id)
}

func (s *SQLStore) GetPersonalAccessTokenByID(ctx context.Context, id int64) (models.PersonalAccessToken, error) {
	return scanToken(s.db.QueryRowContext(ctx, s.q(`SELECT `+tokenColumns+` FROM personal_access_tokens WHERE id = ?`), id))
}

// ListPersonalAccessTokensByUserID returns newest first, revoked included.
func (s *SQLStore) ListPersonalAccessTokensByUserID(ctx context.Context, userID int64) ([]models.PersonalAccessToken, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+tokenColumns+` FROM personal_access_tokens
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]models.PersonalAccessToken, 0)
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// RevokePersonalAccessToken returns sql.ErrNoRows when the token is missing
// or already revoked.
func (s *SQLStore) RevokePersonalAccessToken(ctx context.Context, tokenID int64) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE personal_access_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`),
		stampNow(), tokenID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// GetUserByToken resolves a live token, one that is neither revoked nor
// expired, to its owner.
func (s *SQLStore) GetUserByToken(ctx context.Context, rawToken string) (models.User, models.PersonalAccessToken, error) {
	var tokenID, userID int64
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT t.id, u.id
		FROM personal_access_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = ?
			AND t.revoked_at IS NULL
			AND (t.expires_at IS NULL OR t.expires_at > ?)`),
		HashToken(rawToken), stampNow(),
	).Scan(&tokenID, &userID)
	if err != nil {
		return models.User{}, models.PersonalAccessToken{}, err
	}
	token, err := s.GetPersonalAccessTokenByID(ctx, tokenID)
	if err != nil {
		return models.User{}, models.PersonalAccessToken{}, err
	}
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, models.PersonalAccessToken{}, err
	}
	return user, token, nil
}

func (s *SQLStore) TouchPersonalAccessToken(ctx context.Context, tokenID int64) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE personal_access_tokens SET last_used_at = ? WHERE id = ?`), stampNow(), tokenID)
	return err
}

func scanToken(scanner rowScanner) (models.PersonalAccessToken, error) {
	var token models.PersonalAccessToken
	var createdAt string
	var lastUsedAt, expiresAt, revokedAt sql.NullString
	if err := scanner.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenPrefix,
		&token.TokenHash,
		&token.Description,
		&createdAt,
		&lastUsedAt,
		&expiresAt,
		&revokedAt,
	); err != nil {
		return models.PersonalAccessToken{}, err
	}
	var times timeColumns
	token.CreatedAt = times.required("created_at", createdAt)
	token.LastUsedAt = times.optional("last_used_at", lastUsedAt)
	token.ExpiresAt = times.optional("expires_at", expiresAt)
	token.RevokedAt = times.optional("revoked_at", revokedAt)
	if times.err != nil {
		return models.PersonalAccessToken{}, times.err
	}
	return token, nil
}
