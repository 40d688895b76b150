package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shinyes/sift/internal/criterion"
	"github.com/shinyes/sift/internal/metrics"
	"github.com/shinyes/sift/internal/models"
)

// draft is one in-progress edit of a filter. mu guards every field except
// tracker, which recount passes read without the lock.
type draft struct {
	mu        sync.Mutex
	tracker   criterion.Tracker
	id        string
	userID    int64
	filterID  int64
	title     string
	color     int
	criteria  []criterion.Instance
	counted   bool
	maxCount  int
	touchedAt time.Time
}

// DraftView is a point-in-time copy of a draft.
type DraftView struct {
	ID         string
	FilterID   int64
	Title      string
	Color      int
	Criteria   []criterion.Instance
	State      string
	Predicate  string
	Values     map[string]string
	Counted    bool
	Max        int
	Generation uint64
	HasChanges bool
	// Stale is set when a recount finished after the draft changed; its
	// counts were dropped.
	Stale bool
}

type DraftService struct {
	filters *FilterService
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	drafts   map[string]*draft
	recounts singleflight.Group

	// counted runs between a finished count pass and its commit. Tests only.
	counted func(draftID string)
}

func NewDraftService(filters *FilterService, ttl time.Duration, logger *zap.Logger) *DraftService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftService{
		filters: filters,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		drafts:  make(map[string]*draft),
	}
}

type OpenDraftInput struct {
	// FilterID is the saved filter to edit; zero starts a new filter.
	FilterID int64
	// State, when set, restores criteria from an earlier DraftView.State
	// instead of the saved filter.
	State string
	Title *string
	Color *int
}

func (s *DraftService) Open(ctx context.Context, userID int64, input OpenDraftInput) (DraftView, error) {
	d := &draft{
		id:        uuid.NewString(),
		userID:    userID,
		filterID:  input.FilterID,
		touchedAt: s.now(),
	}
	if input.FilterID > 0 {
		filter, list, err := s.filters.Load(ctx, userID, input.FilterID)
		if err != nil {
			return DraftView{}, err
		}
		d.title = filter.Title
		d.color = filter.Color
		d.criteria = list
	}
	if input.State != "" || d.criteria == nil {
		list, err := s.filters.Decode(ctx, userID, input.State)
		if err != nil {
			return DraftView{}, err
		}
		d.criteria = list
	}
	if input.Title != nil {
		d.title = *input.Title
	}
	if input.Color != nil {
		d.color = *input.Color
	}

	s.mu.Lock()
	s.drafts[d.id] = d
	s.mu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	return s.viewLocked(ctx, d), nil
}

func (s *DraftService) Get(ctx context.Context, userID int64, draftID string) (DraftView, error) {
	d, err := s.lookup(userID, draftID)
	if err != nil {
		return DraftView{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return s.viewLocked(ctx, d), nil
}

func (s *DraftService) Discard(userID int64, draftID string) error {
	if _, err := s.lookup(userID, draftID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.drafts, draftID)
	s.mu.Unlock()
	return nil
}

type DraftPatch struct {
	Title *string
	Color *int
}

func (s *DraftService) Patch(ctx context.Context, userID int64, draftID string, patch DraftPatch) (DraftView, error) {
	return s.mutate(ctx, userID, draftID, func(d *draft) error {
		if patch.Title != nil {
			d.title = *patch.Title
		}
		if patch.Color != nil {
			d.color = *patch.Color
		}
		return nil
	})
}

// Selection picks the value of a multiple choice or free text criterion.
// Value matches an entry value; Index addresses an entry directly.
type Selection struct {
	Index *int
	Value *string
	Text  *string
}

func (s *DraftService) AddCriterion(ctx context.Context, userID int64, draftID string, criterionID string, op *criterion.Operator, sel Selection) (DraftView, error) {
	cat, err := s.filters.Catalog(ctx, userID)
	if err != nil {
		return DraftView{}, err
	}
	def, err := cat.Resolve(criterionID)
	if err != nil {
		return DraftView{}, err
	}
	inst := criterion.NewInstance(def)
	if op != nil {
		if !op.IsValid() || *op == criterion.OpUniverse {
			return DraftView{}, ErrInvalidOperator
		}
		inst.Operator = *op
	}
	if err := applySelection(&inst, sel); err != nil {
		return DraftView{}, err
	}
	if def.Kind == criterion.KindMultipleChoice && inst.SelectedIndex < 0 {
		return DraftView{}, fmt.Errorf("%w: %s needs an entry", ErrInvalidSelection, def.ID)
	}
	return s.mutate(ctx, userID, draftID, func(d *draft) error {
		d.criteria = append(d.criteria, inst)
		return nil
	})
}

func (s *DraftService) UpdateCriterion(ctx context.Context, userID int64, draftID string, instanceID string, op *criterion.Operator, sel Selection) (DraftView, error) {
	return s.mutate(ctx, userID, draftID, func(d *draft) error {
		idx := criterion.IndexOf(d.criteria, instanceID)
		if idx < 0 {
			return ErrCriterionNotFound
		}
		if idx == 0 {
			return ErrAnchorLocked
		}
		next := d.criteria[idx].Clone()
		if op != nil {
			if !op.IsValid() || *op == criterion.OpUniverse {
				return ErrInvalidOperator
			}
			next.Operator = *op
		}
		if err := applySelection(&next, sel); err != nil {
			return err
		}
		d.criteria[idx] = next
		return nil
	})
}

func (s *DraftService) RemoveCriterion(ctx context.Context, userID int64, draftID string, instanceID string) (DraftView, error) {
	cat, err := s.filters.Catalog(ctx, userID)
	if err != nil {
		return DraftView{}, err
	}
	return s.mutate(ctx, userID, draftID, func(d *draft) error {
		idx := criterion.IndexOf(d.criteria, instanceID)
		if idx < 0 {
			return ErrCriterionNotFound
		}
		if idx == 0 {
			return ErrAnchorLocked
		}
		d.criteria, _ = criterion.Remove(d.criteria, instanceID, cat)
		return nil
	})
}

func (s *DraftService) MoveCriterion(ctx context.Context, userID int64, draftID string, from int, to int) (DraftView, error) {
	return s.mutate(ctx, userID, draftID, func(d *draft) error {
		if from == 0 || to == 0 {
			return ErrAnchorLocked
		}
		moved, err := criterion.Move(d.criteria, from, to)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMove, err)
		}
		d.criteria = moved
		return nil
	})
}

// Recount counts every step of the draft. Counting runs outside the draft
// lock; a pass that finishes after the draft changed is discarded.
func (s *DraftService) Recount(ctx context.Context, userID int64, draftID string) (DraftView, error) {
	d, err := s.lookup(userID, draftID)
	if err != nil {
		return DraftView{}, err
	}

	d.mu.Lock()
	token := d.tracker.Current()
	snapshot := criterion.CloneList(d.criteria)
	d.mu.Unlock()

	// The pass is shared by every caller with the same key, so one caller
	// going away must not cancel it for the rest.
	passCtx := context.WithoutCancel(ctx)
	key := draftID + "/" + strconv.FormatUint(uint64(token), 10)
	result, err, _ := s.recounts.Do(key, func() (any, error) {
		return s.filters.Count(passCtx, userID, snapshot)
	})
	if err != nil {
		return DraftView{}, err
	}
	preview := result.(Preview)
	if s.counted != nil {
		s.counted(draftID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.tracker.IsCurrent(token) {
		metrics.StaleCountPasses.Inc()
		s.logger.Debug("discarding stale recount", zap.String("draft", draftID), zap.Uint64("generation", uint64(token)))
		view := s.viewLocked(ctx, d)
		view.Stale = true
		return view, nil
	}
	d.criteria = mergeCounts(d.criteria, preview.Criteria)
	d.maxCount = preview.Max
	d.counted = true
	d.touchedAt = s.now()
	return s.viewLocked(ctx, d), nil
}

// Save writes the draft to its filter, creating the filter on first save.
func (s *DraftService) Save(ctx context.Context, userID int64, draftID string) (models.Filter, error) {
	d, err := s.lookup(userID, draftID)
	if err != nil {
		return models.Filter{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var filter models.Filter
	if d.filterID == 0 {
		filter, err = s.filters.Create(ctx, userID, CreateFilterInput{
			Title:    d.title,
			Color:    d.color,
			Criteria: d.criteria,
		})
	} else {
		title, color, list := d.title, d.color, criterion.CloneList(d.criteria)
		filter, err = s.filters.Update(ctx, userID, d.filterID, UpdateFilterInput{
			Title:    &title,
			Color:    &color,
			Criteria: &list,
		})
	}
	if err != nil {
		return models.Filter{}, err
	}
	d.filterID = filter.ID
	d.touchedAt = s.now()
	return filter, nil
}

// Sweep drops drafts idle for longer than the TTL.
func (s *DraftService) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, d := range s.drafts {
		d.mu.Lock()
		idle := d.touchedAt.Before(cutoff)
		d.mu.Unlock()
		if idle {
			delete(s.drafts, id)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps every interval until ctx is done.
func (s *DraftService) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				s.logger.Debug("expired drafts", zap.Int("count", removed))
			}
		}
	}
}

func (s *DraftService) lookup(userID int64, draftID string) (*draft, error) {
	s.mu.Lock()
	d, ok := s.drafts[draftID]
	s.mu.Unlock()
	if !ok || d.userID != userID {
		return nil, ErrDraftNotFound
	}
	return d, nil
}

// mutate applies fn under the draft lock. A successful change invalidates
// outstanding recounts and the previous counts.
func (s *DraftService) mutate(ctx context.Context, userID int64, draftID string, fn func(d *draft) error) (DraftView, error) {
	d, err := s.lookup(userID, draftID)
	if err != nil {
		return DraftView{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := fn(d); err != nil {
		return DraftView{}, err
	}
	d.tracker.Advance()
	d.counted = false
	d.touchedAt = s.now()
	return s.viewLocked(ctx, d), nil
}

func (s *DraftService) viewLocked(ctx context.Context, d *draft) DraftView {
	list := criterion.CloneList(d.criteria)
	view := DraftView{
		ID:         d.id,
		FilterID:   d.filterID,
		Title:      d.title,
		Color:      d.color,
		Criteria:   list,
		State:      s.filters.Codec().Encode(list),
		Predicate:  criterion.Compose(list),
		Values:     criterion.NewTaskValues(list),
		Counted:    d.counted,
		Max:        d.maxCount,
		Generation: uint64(d.tracker.Current()),
	}
	var saved *models.Filter
	if d.filterID > 0 {
		filter, err := s.filters.Get(ctx, d.userID, d.filterID)
		if err != nil {
			s.logger.Warn("load filter for draft", zap.Int64("filter", d.filterID), zap.Error(err))
			view.HasChanges = true
			return view
		}
		saved = &filter
	}
	view.HasChanges = s.filters.HasChanges(saved, d.title, list)
	return view
}

// mergeCounts copies counts from counted onto current, matching by id.
func mergeCounts(current []criterion.Instance, counted []criterion.Instance) []criterion.Instance {
	out := criterion.CloneList(current)
	for idx := range out {
		if src := criterion.IndexOf(counted, out[idx].ID); src >= 0 {
			out[idx].Start = counted[src].Start
			out[idx].End = counted[src].End
			out[idx].Max = counted[src].Max
		}
	}
	return out
}

func applySelection(inst *criterion.Instance, sel Selection) error {
	def := inst.Definition
	switch def.Kind {
	case criterion.KindMultipleChoice:
		switch {
		case sel.Index != nil:
			if *sel.Index < 0 || *sel.Index >= len(def.Entries) {
				return ErrInvalidSelection
			}
			inst.SelectedIndex = *sel.Index
		case sel.Value != nil:
			idx := def.EntryValueIndex(*sel.Value)
			if idx < 0 {
				return fmt.Errorf("%w: %q", ErrInvalidSelection, *sel.Value)
			}
			inst.SelectedIndex = idx
		}
	case criterion.KindFreeText:
		text := sel.Text
		if text == nil {
			text = sel.Value
		}
		if text != nil {
			if *text == "" {
				inst.SetSelectedText(nil)
			} else {
				inst.SetSelectedText(text)
			}
		}
	default:
		if sel.Index != nil || sel.Value != nil || sel.Text != nil {
			return fmt.Errorf("%w: %s criteria take no selection", ErrInvalidSelection, def.Kind)
		}
	}
	return nil
}
