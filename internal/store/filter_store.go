package store

import (
	"context"

	"github.com/shinyes/sift/internal/models"
)

type FilterUpdate struct {
	Title     *string
	Color     *int
	Criteria  *string
	Predicate *string
	Values    *string
	Position  *int
}

const filterColumns = `id, user_id, title, color, criteria, predicate, values_json, position, create_time, update_time`

func (s *SQLStore) CreateFilter(ctx context.Context, filter models.Filter) (models.Filter, error) {
	created := stampNow()
	if filter.Values == "" {
		filter.Values = "{}"
	}
	id, err := s.insertReturningID(
		ctx,
		`INSERT INTO filters (user_id, title, color, criteria, predicate, values_json, position, create_time, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		filter.UserID,
		filter.Title,
		filter.Color,
		filter.Criteria,
		filter.Predicate,
		filter.Values,
		filter.Position,
		created,
		created,
	)
	if err != nil {
		return models.Filter{}, err
	}
	return s.GetFilterByID(ctx, filter.UserID, id)
}

func (s *SQLStore) GetFilterByID(ctx context.Context, userID int64, id int64) (models.Filter, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.q(`SELECT `+filterColumns+` FROM filters WHERE id = ? AND user_id = ?`),
		id,
		userID,
	)
	return scanFilter(row)
}

func (s *SQLStore) ListFilters(ctx context.Context, userID int64) ([]models.Filter, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.q(`SELECT `+filterColumns+` FROM filters WHERE user_id = ? ORDER BY position ASC, id ASC`),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	filters := make([]models.Filter, 0)
	for rows.Next() {
		filter, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		filters = append(filters, filter)
	}
	return filters, rows.Err()
}

func (s *SQLStore) NextFilterPosition(ctx context.Context, userID int64) (int, error) {
	var next int
	err := s.db.QueryRowContext(
		ctx,
		s.q(`SELECT COALESCE(MAX(position), -1) + 1 FROM filters WHERE user_id = ?`),
		userID,
	).Scan(&next)
	return next, err
}

func (s *SQLStore) UpdateFilter(ctx context.Context, userID int64, id int64, update FilterUpdate) (models.Filter, error) {
	current, err := s.GetFilterByID(ctx, userID, id)
	if err != nil {
		return models.Filter{}, err
	}
	if update.Title != nil {
		current.Title = *update.Title
	}
	if update.Color != nil {
		current.Color = *update.Color
	}
	if update.Criteria != nil {
		current.Criteria = *update.Criteria
	}
	if update.Predicate != nil {
		current.Predicate = *update.Predicate
	}
	if update.Values != nil {
		current.Values = *update.Values
	}
	if update.Position != nil {
		current.Position = *update.Position
	}

	res, err := s.db.ExecContext(
		ctx,
		s.q(`UPDATE filters
		SET title = ?, color = ?, criteria = ?, predicate = ?, values_json = ?, position = ?, update_time = ?
		WHERE id = ? AND user_id = ?`),
		current.Title,
		current.Color,
		current.Criteria,
		current.Predicate,
		current.Values,
		current.Position,
		stampNow(),
		id,
		userID,
	)
	if err != nil {
		return models.Filter{}, err
	}
	if err := requireAffected(res); err != nil {
		return models.Filter{}, err
	}
	return s.GetFilterByID(ctx, userID, id)
}

func (s *SQLStore) DeleteFilter(ctx context.Context, userID int64, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM filters WHERE id = ? AND user_id = ?`), id, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func scanFilter(scanner rowScanner) (models.Filter, error) {
	var filter models.Filter
	var createTime string
	var updateTime string
	if err := scanner.Scan(
		&filter.ID,
		&filter.UserID,
		&filter.Title,
		&filter.Color,
		&filter.Criteria,
		&filter.Predicate,
		&filter.Values,
		&filter.Position,
		&createTime,
		&updateTime,
	); err != nil {
		return models.Filter{}, err
	}
	var times timeColumns
	filter.CreateTime = times.required("create_time", createTime)
	filter.UpdateTime = times.required("update_time", updateTime)
	if times.err != nil {
		return models.Filter{}, times.err
	}
	return filter, nil
}
