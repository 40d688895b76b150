package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shinyes/sift/internal/models"
)

type TaskUpdate struct {
	Title      *string
	Notes      *string
	Importance *models.Importance
	DueDate    *int64
	HideUntil  *int64
	Completed  *bool
	Deleted    *bool
	Recurrence *string
	Tags       *[]string
}

const taskColumns = `tasks.id, tasks.user_id, tasks.title, tasks.notes, tasks.importance, tasks.due_date, tasks.hide_until,
	tasks.completed, tasks.deleted, tasks.recurrence, tasks.parent, tasks.created, tasks.modified`

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func (s *SQLStore) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMillis()
	var id int64
	err = tx.QueryRowContext(
		ctx,
		s.q(`INSERT INTO tasks (user_id, title, notes, importance, due_date, hide_until, completed, deleted, recurrence, parent, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		task.UserID,
		task.Title,
		task.Notes,
		int(task.Importance),
		task.DueDate,
		task.HideUntil,
		task.Completed,
		task.Deleted,
		task.Recurrence,
		task.ParentID,
		now,
		now,
	).Scan(&id)
	if err != nil {
		return models.Task{}, err
	}
	if err := s.setTaskTagsInTx(ctx, tx, task.UserID, id, task.Tags); err != nil {
		return models.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, err
	}
	return s.GetTaskByID(ctx, task.UserID, id)
}

func (s *SQLStore) GetTaskByID(ctx context.Context, userID int64, id int64) (models.Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		s.q(`SELECT `+taskColumns+` FROM tasks WHERE tasks.id = ? AND tasks.user_id = ?`),
		id,
		userID,
	)
	task, err := scanTask(row)
	if err != nil {
		return models.Task{}, err
	}
	tags, err := s.listTagNamesByTaskIDs(ctx, []int64{task.ID})
	if err != nil {
		return models.Task{}, err
	}
	task.Tags = tagsOrEmpty(tags[task.ID])
	return task, nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, userID int64, id int64, update TaskUpdate) (models.Task, error) {
	sets := make([]string, 0)
	args := make([]any, 0)
	now := nowMillis()
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *update.Notes)
	}
	if update.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, int(*update.Importance))
	}
	if update.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, *update.DueDate)
	}
	if update.HideUntil != nil {
		sets = append(sets, "hide_until = ?")
		args = append(args, *update.HideUntil)
	}
	if update.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, stampOrZero(*update.Completed, now))
	}
	if update.Deleted != nil {
		sets = append(sets, "deleted = ?")
		args = append(args, stampOrZero(*update.Deleted, now))
	}
	if update.Recurrence != nil {
		sets = append(sets, "recurrence = ?")
		args = append(args, *update.Recurrence)
	}
	sets = append(sets, "modified = ?")
	args = append(args, now, id, userID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Task{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		s.q(`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND user_id = ?`),
		args...,
	)
	if err != nil {
		return models.Task{}, err
	}
	if err := requireAffected(res); err != nil {
		return models.Task{}, err
	}
	if update.Tags != nil {
		if err := s.setTaskTagsInTx(ctx, tx, userID, id, *update.Tags); err != nil {
			return models.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Task{}, err
	}
	return s.GetTaskByID(ctx, userID, id)
}

func stampOrZero(set bool, now int64) int64 {
	if set {
		return now
	}
	return 0
}

// ListTasks returns the user's tasks narrowed by prefilter, newest first.
func (s *SQLStore) ListTasks(ctx context.Context, userID int64, prefilter TaskSQLPrefilter, limit int, offset int) ([]models.Task, error) {
	if prefilter.Unsatisfiable {
		return []models.Task{}, nil
	}

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE tasks.user_id = ?`
	args := []any{userID}

	if len(prefilter.ImportanceIn) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(prefilter.ImportanceIn)), ",")
		query += ` AND tasks.importance IN (` + placeholders + `)`
		for _, imp := range prefilter.ImportanceIn {
			args = append(args, int(imp))
		}
	}

	addStampConstraint := func(column string, value *bool) {
		if value == nil {
			return
		}
		if *value {
			query += fmt.Sprintf(` AND tasks.%s > 0`, column)
		} else {
			query += fmt.Sprintf(` AND tasks.%s <= 0`, column)
		}
	}
	addStampConstraint("completed", prefilter.Completed)
	addStampConstraint("deleted", prefilter.Deleted)
	addStampConstraint("due_date", prefilter.HasDueDate)

	if prefilter.Recurring != nil {
		if *prefilter.Recurring {
			query += ` AND tasks.recurrence <> ''`
		} else {
			query += ` AND tasks.recurrence = ''`
		}
	}

	for _, needle := range prefilter.TitleLike {
		query += ` AND LOWER(tasks.title) LIKE ?`
		args = append(args, "%"+strings.ToLower(needle)+"%")
	}

	appendTagGroup := func(negate bool, group TagMatchGroup) {
		if len(group.Options) == 0 {
			return
		}
		groupClauses := make([]string, 0, len(group.Options))
		groupArgs := make([]any, 0, len(group.Options))
		for _, option := range group.Options {
			switch option.Kind {
			case TagMatchExact:
				groupClauses = append(groupClauses, `tags.name = ?`)
				groupArgs = append(groupArgs, option.Value)
			case TagMatchPrefix:
				groupClauses = append(groupClauses, `tags.name LIKE ?`)
				groupArgs = append(groupArgs, option.Value+"%")
			}
		}
		if len(groupClauses) == 0 {
			return
		}
		if negate {
			query += ` AND NOT EXISTS (`
		} else {
			query += ` AND EXISTS (`
		}
		query += `SELECT 1 FROM task_tags JOIN tags ON tags.id = task_tags.tag_id
			WHERE task_tags.task_id = tasks.id AND (` + strings.Join(groupClauses, " OR ") + `))`
		args = append(args, groupArgs...)
	}
	for _, group := range prefilter.TagGroups {
		appendTagGroup(false, group)
	}
	for _, group := range prefilter.ExcludeTagGroups {
		appendTagGroup(true, group)
	}

	return s.queryTasks(ctx, query, args, limit, offset)
}

// ListTasksMatching returns the user's tasks satisfying a composed filter
// predicate. The predicate must already have its placeholders expanded.
func (s *SQLStore) ListTasksMatching(ctx context.Context, userID int64, predicate string, limit int, offset int) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE tasks.user_id = ? AND (` + predicate + `)`
	return s.queryTasks(ctx, query, []any{userID}, limit, offset)
}

func (s *SQLStore) CountTasksMatching(ctx context.Context, userID int64, predicate string) (int, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		s.q(`SELECT COUNT(*) FROM tasks WHERE tasks.user_id = ? AND (`+predicate+`)`),
		userID,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLStore) queryTasks(ctx context.Context, query string, args []any, limit int, offset int) ([]models.Task, error) {
	query += ` ORDER BY tasks.created DESC, tasks.id DESC`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
		ids = append(ids, task.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tags, err := s.listTagNamesByTaskIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for idx := range tasks {
		tasks[idx].Tags = tagsOrEmpty(tags[tasks[idx].ID])
	}
	return tasks, nil
}

func (s *SQLStore) ListTags(ctx context.Context, userID int64) ([]models.Tag, error) {
	rows, err := s.db.QueryContext(
		ctx,
		s.q(`SELECT id, user_id, name FROM tags WHERE user_id = ? ORDER BY name ASC`),
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make([]models.Tag, 0)
	for rows.Next() {
		var tag models.Tag
		if err := rows.Scan(&tag.ID, &tag.UserID, &tag.Name); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *SQLStore) CreateTag(ctx context.Context, userID int64, name string) (models.Tag, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Tag{}, err
	}
	defer func() { _ = tx.Rollback() }()

	id, err := s.ensureTagInTx(ctx, tx, userID, name)
	if err != nil {
		return models.Tag{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.Tag{}, err
	}
	return models.Tag{ID: id, UserID: userID, Name: name}, nil
}

func (s *SQLStore) ensureTagInTx(ctx context.Context, tx *sql.Tx, userID int64, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, s.q(`SELECT id FROM tags WHERE user_id = ? AND name = ?`), userID, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	err = tx.QueryRowContext(
		ctx,
		s.q(`INSERT INTO tags (user_id, name) VALUES (?, ?) RETURNING id`),
		userID,
		name,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *SQLStore) setTaskTagsInTx(ctx context.Context, tx *sql.Tx, userID int64, taskID int64, tags []string) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM task_tags WHERE task_id = ?`), taskID); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(tags))
	for _, name := range tags {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		tagID, err := s.ensureTagInTx(ctx, tx, userID, name)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(
			ctx,
			s.q(`INSERT INTO task_tags (task_id, tag_id) VALUES (?, ?)`),
			taskID,
			tagID,
		); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) listTagNamesByTaskIDs(ctx context.Context, taskIDs []int64) (map[int64][]string, error) {
	result := make(map[int64][]string, len(taskIDs))
	if len(taskIDs) == 0 {
		return result, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(taskIDs)), ",")
	args := make([]any, 0, len(taskIDs))
	for _, id := range taskIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(
		ctx,
		s.q(`SELECT task_tags.task_id, tags.name
		FROM task_tags
		JOIN tags ON tags.id = task_tags.tag_id
		WHERE task_tags.task_id IN (`+placeholders+`)
		ORDER BY tags.name ASC`),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var taskID int64
		var name string
		if err := rows.Scan(&taskID, &name); err != nil {
			return nil, err
		}
		result[taskID] = append(result[taskID], name)
	}
	return result, rows.Err()
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return slices.Clone(tags)
}

func scanTask(scanner rowScanner) (models.Task, error) {
	var task models.Task
	var importance int
	if err := scanner.Scan(
		&task.ID,
		&task.UserID,
		&task.Title,
		&task.Notes,
		&importance,
		&task.DueDate,
		&task.HideUntil,
		&task.Completed,
		&task.Deleted,
		&task.Recurrence,
		&task.ParentID,
		&task.Created,
		&task.Modified,
	); err != nil {
		return models.Task{}, err
	}
	task.Importance = models.Importance(importance)
	return task, nil
}
