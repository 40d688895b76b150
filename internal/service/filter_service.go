package service

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shinyes/sift/internal/catalog"
	"github.com/shinyes/sift/internal/criterion"
	"github.com/shinyes/sift/internal/metrics"
	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/permasql"
	"github.com/shinyes/sift/internal/store"
)

const maxFilterTitleRunes = 128

type FilterService struct {
	store    *store.SQLStore
	catalogs *catalog.Provider
	codec    *criterion.Codec
	logger   *zap.Logger
	now      func() time.Time
}

func NewFilterService(s *store.SQLStore, catalogs *catalog.Provider, logger *zap.Logger) *FilterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	codec := criterion.NewCodec(logger.Named("codec"))
	codec.OnDecode = metrics.ObserveDecode
	return &FilterService{
		store:    s,
		catalogs: catalogs,
		codec:    codec,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *FilterService) Codec() *criterion.Codec {
	return s.codec
}

func (s *FilterService) Catalog(ctx context.Context, userID int64) (*catalog.Catalog, error) {
	return s.catalogs.ForUser(ctx, userID)
}

type decodeFunc func(raw string, cat criterion.Catalog) ([]criterion.Instance, error)

func (s *FilterService) decodeWith(ctx context.Context, userID int64, raw string, decode decodeFunc) ([]criterion.Instance, error) {
	cat, err := s.Catalog(ctx, userID)
	if err != nil {
		return nil, err
	}
	list, err := decode(raw, cat)
	if err != nil {
		return nil, err
	}
	return criterion.Normalize(list, cat), nil
}

// Decode restores a client criteria blob against the user's catalog. The
// result always starts with the universe anchor. Predicates carried in the
// blob must match the catalog templates.
func (s *FilterService) Decode(ctx context.Context, userID int64, raw string) ([]criterion.Instance, error) {
	return s.decodeWith(ctx, userID, raw, s.codec.Decode)
}

// DecodeStrict is Decode for blobs about to be saved: malformed records are
// returned as errors instead of falling back to the universe filter.
func (s *FilterService) DecodeStrict(ctx context.Context, userID int64, raw string) ([]criterion.Instance, error) {
	return s.decodeWith(ctx, userID, raw, s.codec.DecodeStrict)
}

// DecodeStored restores the criteria of a saved filter, keeping the
// predicates it was saved with.
func (s *FilterService) DecodeStored(ctx context.Context, userID int64, raw string) ([]criterion.Instance, error) {
	return s.decodeWith(ctx, userID, raw, s.codec.DecodeStored)
}

// DecodeStoredStrict is DecodeStored without the malformed-record recovery.
func (s *FilterService) DecodeStoredStrict(ctx context.Context, userID int64, raw string) ([]criterion.Instance, error) {
	return s.decodeWith(ctx, userID, raw, s.codec.DecodeStoredStrict)
}

// FilterDraft is everything derived from a criteria list that gets persisted.
type FilterDraft struct {
	Criteria  string
	Predicate string
	Values    map[string]string
}

func (s *FilterService) Derive(list []criterion.Instance) (FilterDraft, error) {
	encoded := s.codec.Encode(list)
	if strings.TrimSpace(encoded) == "" {
		return FilterDraft{}, ErrEmptyCriteria
	}
	return FilterDraft{
		Criteria:  encoded,
		Predicate: criterion.Compose(list),
		Values:    criterion.NewTaskValues(list),
	}, nil
}

type Preview struct {
	Criteria  []criterion.Instance
	Predicate string
	Values    map[string]string
	Max       int
}

// Preview decodes raw and counts every step of it.
func (s *FilterService) Preview(ctx context.Context, userID int64, raw string) (Preview, error) {
	list, err := s.Decode(ctx, userID, raw)
	if err != nil {
		return Preview{}, err
	}
	return s.Count(ctx, userID, list)
}

// Count runs one tally pass over list and returns the annotated copy.
func (s *FilterService) Count(ctx context.Context, userID int64, list []criterion.Instance) (Preview, error) {
	counted := criterion.CloneList(list)
	windows, maxEnd, err := criterion.Tally(ctx, s.oracle(userID), counted)
	if err != nil {
		return Preview{}, err
	}
	criterion.ApplyWindows(counted, windows, maxEnd)
	return Preview{
		Criteria:  counted,
		Predicate: criterion.Compose(counted),
		Values:    criterion.NewTaskValues(counted),
		Max:       maxEnd,
	}, nil
}

func (s *FilterService) oracle(userID int64) criterion.Oracle {
	return taskCounter{store: s.store, userID: userID, now: s.now()}
}

type CreateFilterInput struct {
	Title    string
	Color    int
	Criteria []criterion.Instance
}

func (s *FilterService) Create(ctx context.Context, userID int64, input CreateFilterInput) (models.Filter, error) {
	title, err := normalizeFilterTitle(input.Title)
	if err != nil {
		return models.Filter{}, err
	}
	derived, err := s.Derive(input.Criteria)
	if err != nil {
		return models.Filter{}, err
	}
	values, err := encodeValues(derived.Values)
	if err != nil {
		return models.Filter{}, err
	}
	position, err := s.store.NextFilterPosition(ctx, userID)
	if err != nil {
		return models.Filter{}, err
	}
	filter, err := s.store.CreateFilter(ctx, models.Filter{
		UserID:    userID,
		Title:     title,
		Color:     input.Color,
		Criteria:  derived.Criteria,
		Predicate: derived.Predicate,
		Values:    values,
		Position:  position,
	})
	if err != nil {
		return models.Filter{}, err
	}
	s.logger.Debug("filter created", zap.Int64("user", userID), zap.Int64("filter", filter.ID))
	return filter, nil
}

type UpdateFilterInput struct {
	Title    *string
	Color    *int
	Position *int
	Criteria *[]criterion.Instance
}

func (s *FilterService) Update(ctx context.Context, userID int64, filterID int64, input UpdateFilterInput) (models.Filter, error) {
	update := store.FilterUpdate{
		Color:    input.Color,
		Position: input.Position,
	}
	if input.Title != nil {
		title, err := normalizeFilterTitle(*input.Title)
		if err != nil {
			return models.Filter{}, err
		}
		update.Title = &title
	}
	if input.Criteria != nil {
		derived, err := s.Derive(*input.Criteria)
		if err != nil {
			return models.Filter{}, err
		}
		values, err := encodeValues(derived.Values)
		if err != nil {
			return models.Filter{}, err
		}
		update.Criteria = &derived.Criteria
		update.Predicate = &derived.Predicate
		update.Values = &values
	}
	return s.store.UpdateFilter(ctx, userID, filterID, update)
}

func (s *FilterService) Delete(ctx context.Context, userID int64, filterID int64) error {
	return s.store.DeleteFilter(ctx, userID, filterID)
}

func (s *FilterService) Get(ctx context.Context, userID int64, filterID int64) (models.Filter, error) {
	return s.store.GetFilterByID(ctx, userID, filterID)
}

func (s *FilterService) List(ctx context.Context, userID int64) ([]models.Filter, error) {
	return s.store.ListFilters(ctx, userID)
}

// Load returns a saved filter with its criteria decoded.
func (s *FilterService) Load(ctx context.Context, userID int64, filterID int64) (models.Filter, []criterion.Instance, error) {
	filter, err := s.store.GetFilterByID(ctx, userID, filterID)
	if err != nil {
		return models.Filter{}, nil, err
	}
	list, err := s.DecodeStored(ctx, userID, filter.Criteria)
	if err != nil {
		return models.Filter{}, nil, fmt.Errorf("filter %d: %w", filterID, err)
	}
	return filter, list, nil
}

// Tasks lists the tasks matching a saved filter's stored predicate,
// optionally narrowed by a CEL search.
func (s *FilterService) Tasks(ctx context.Context, userID int64, filterID int64, rawSearch string, pageSize int, pageToken string) ([]models.Task, string, error) {
	filter, err := s.store.GetFilterByID(ctx, userID, filterID)
	if err != nil {
		return nil, "", err
	}
	search, err := CompileTaskSearch(rawSearch)
	if err != nil {
		return nil, "", err
	}
	predicate := permasql.ReplaceForQuery(filter.Predicate, s.now())
	tasks, err := s.store.ListTasksMatching(ctx, userID, predicate, maxTaskQueryLimit, 0)
	if err != nil {
		return nil, "", err
	}
	return paginateTasks(tasks, search, pageSize, pageToken)
}

// HasChanges reports whether saving title and list would change filter.
// A nil filter stands for a filter that was never saved.
func (s *FilterService) HasChanges(filter *models.Filter, title string, list []criterion.Instance) bool {
	title = strings.TrimSpace(title)
	if filter == nil {
		if title != "" {
			return true
		}
		return len(list) > 1 || (len(list) == 1 && list[0].Operator != criterion.OpUniverse)
	}
	if title != filter.Title {
		return true
	}
	derived, err := s.Derive(list)
	if err != nil {
		return true
	}
	if derived.Criteria != filter.Criteria || derived.Predicate != filter.Predicate {
		return true
	}
	stored, err := decodeValues(filter.Values)
	if err != nil {
		return true
	}
	return !maps.Equal(stored, derived.Values)
}

// NewTaskValues returns the stored new-task values of filter.
func (s *FilterService) NewTaskValues(filter models.Filter) (map[string]string, error) {
	return decodeValues(filter.Values)
}

func normalizeFilterTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" || len([]rune(title)) > maxFilterTitleRunes {
		return "", ErrInvalidFilterTitle
	}
	return title, nil
}

func encodeValues(values map[string]string) (string, error) {
	if len(values) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode new task values: %w", err)
	}
	return string(data), nil
}

func decodeValues(raw string) (map[string]string, error) {
	values := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode new task values: %w", err)
	}
	return values, nil
}
