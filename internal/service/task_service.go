package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/shinyes/sift/internal/markdown"
	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/permasql"
	"github.com/shinyes/sift/internal/store"
)

// Safety cap on rows pulled into memory for CEL evaluation.
const maxTaskQueryLimit = 10000

// New-task value keys understood by CreateInFilter.
const (
	valueKeyTagPrefix  = "tag:"
	valueKeyImportance = "importance"
	valueKeyDueDate    = "dueDate"
)

type TaskService struct {
	store   *store.SQLStore
	filters *FilterService
	tags    *markdown.TagExtractor
	now     func() time.Time
}

func NewTaskService(s *store.SQLStore, filters *FilterService, tags *markdown.TagExtractor) *TaskService {
	return &TaskService{
		store:   s,
		filters: filters,
		tags:    tags,
		now:     time.Now,
	}
}

type CreateTaskInput struct {
	Title      string
	Notes      string
	Importance *models.Importance
	DueDate    int64
	HideUntil  int64
	Recurrence string
	ParentID   int64
	Tags       []string
}

type UpdateTaskInput struct {
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

func (s *TaskService) Create(ctx context.Context, userID int64, input CreateTaskInput) (models.Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return models.Task{}, ErrInvalidTaskTitle
	}
	importance := models.ImportanceNone
	if input.Importance != nil {
		if !input.Importance.IsValid() {
			return models.Task{}, ErrInvalidImportance
		}
		importance = *input.Importance
	}
	inline, err := s.tags.ExtractTags(title, input.Notes)
	if err != nil {
		return models.Task{}, err
	}
	return s.store.CreateTask(ctx, models.Task{
		UserID:     userID,
		Title:      title,
		Notes:      input.Notes,
		Importance: importance,
		DueDate:    input.DueDate,
		HideUntil:  input.HideUntil,
		Recurrence: strings.TrimSpace(input.Recurrence),
		ParentID:   input.ParentID,
		Tags:       normalizeTags(append(input.Tags, inline...)),
	})
}

// CreateInFilter creates a task preset so that it shows up in the filter:
// the filter's intersect steps contribute tags, importance and due date.
func (s *TaskService) CreateInFilter(ctx context.Context, userID int64, filterID int64, input CreateTaskInput) (models.Task, error) {
	filter, err := s.filters.Get(ctx, userID, filterID)
	if err != nil {
		return models.Task{}, err
	}
	values, err := decodeValues(filter.Values)
	if err != nil {
		return models.Task{}, err
	}
	applyNewTaskValues(&input, values, s.now())
	return s.Create(ctx, userID, input)
}

func applyNewTaskValues(input *CreateTaskInput, values map[string]string, now time.Time) {
	for key, value := range values {
		switch {
		case strings.HasPrefix(key, valueKeyTagPrefix):
			if value != "" {
				input.Tags = append(input.Tags, value)
			}
		case key == valueKeyImportance:
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				if imp := models.Importance(n); imp.IsValid() {
					input.Importance = &imp
				}
			}
		case key == valueKeyDueDate:
			raw := permasql.ReplaceForNewTask(value, now)
			if millis, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && millis > 0 {
				input.DueDate = millis
			}
		}
	}
}

func (s *TaskService) Update(ctx context.Context, userID int64, taskID int64, input UpdateTaskInput) (models.Task, error) {
	update := store.TaskUpdate{
		Notes:      input.Notes,
		DueDate:    input.DueDate,
		HideUntil:  input.HideUntil,
		Completed:  input.Completed,
		Deleted:    input.Deleted,
		Recurrence: input.Recurrence,
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return models.Task{}, ErrInvalidTaskTitle
		}
		update.Title = &title
	}
	if input.Importance != nil {
		if !input.Importance.IsValid() {
			return models.Task{}, ErrInvalidImportance
		}
		update.Importance = input.Importance
	}
	if input.Tags != nil {
		tags := normalizeTags(*input.Tags)
		update.Tags = &tags
	}
	return s.store.UpdateTask(ctx, userID, taskID, update)
}

func (s *TaskService) Get(ctx context.Context, userID int64, taskID int64) (models.Task, error) {
	return s.store.GetTaskByID(ctx, userID, taskID)
}

// List returns the user's tasks matching a CEL search, newest first.
func (s *TaskService) List(ctx context.Context, userID int64, rawSearch string, pageSize int, pageToken string) ([]models.Task, string, error) {
	search, err := CompileTaskSearch(rawSearch)
	if err != nil {
		return nil, "", err
	}
	tasks, err := s.store.ListTasks(ctx, userID, search.SQLPrefilter(), maxTaskQueryLimit, 0)
	if err != nil {
		return nil, "", err
	}
	return paginateTasks(tasks, search, pageSize, pageToken)
}

func (s *TaskService) ListTags(ctx context.Context, userID int64) ([]models.Tag, error) {
	return s.store.ListTags(ctx, userID)
}

func (s *TaskService) CreateTag(ctx context.Context, userID int64, name string) (models.Tag, error) {
	tags := normalizeTags([]string{name})
	if len(tags) == 0 {
		return models.Tag{}, ErrInvalidSelection
	}
	return s.store.CreateTag(ctx, userID, tags[0])
}

func paginateTasks(tasks []models.Task, search *TaskSearch, pageSize int, pageToken string) ([]models.Task, string, error) {
	filtered := make([]models.Task, 0, len(tasks))
	for _, task := range tasks {
		matched, err := search.Matches(task)
		if err != nil {
			return nil, "", err
		}
		if matched {
			filtered = append(filtered, task)
		}
	}

	offset, err := parsePageToken(pageToken)
	if err != nil {
		return nil, "", err
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}
	if offset >= len(filtered) {
		return []models.Task{}, "", nil
	}
	end := min(offset+pageSize, len(filtered))
	nextToken := ""
	if end < len(filtered) {
		nextToken = strconv.Itoa(end)
	}
	return filtered[offset:end], nextToken, nil
}

func parsePageToken(pageToken string) (int, error) {
	pageToken = strings.TrimSpace(pageToken)
	if pageToken == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(pageToken)
	if err != nil || offset < 0 {
		return 0, ErrInvalidPageToken
	}
	return offset, nil
}

func normalizeTags(tags []string) []string {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		tag := strings.TrimPrefix(strings.TrimSpace(raw), "#")
		if tag == "" {
			continue
		}
		if _, exists := seen[tag]; exists {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}
	return normalized
}
