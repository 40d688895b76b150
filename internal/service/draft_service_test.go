package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shinyes/sift/internal/criterion"
)

func opPtr(op criterion.Operator) *criterion.Operator {
	return &op
}

func TestDraftLifecycle(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()
	user := mustCreateUser(t, services.store, "draft01")
	seedTasks(t, services, user.ID)

	view, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{Title: stringPtr("Home chores")})
	require.NoError(t, err)
	require.Len(t, view.Criteria, 1)
	assert.Equal(t, criterion.OpUniverse, view.Criteria[0].Operator)
	assert.Equal(t, criterion.BasePredicate, view.Predicate)
	assert.True(t, view.HasChanges)

	view, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "tag_is", nil, Selection{Value: stringPtr("home")})
	require.NoError(t, err)
	require.Len(t, view.Criteria, 2)
	assert.Equal(t, "Tag is home", view.Criteria[1].Title())
	assert.Equal(t, map[string]string{"tag:home": "home"}, view.Values)
	assert.False(t, view.Counted)

	view, err = services.drafts.Recount(ctx, user.ID, view.ID)
	require.NoError(t, err)
	assert.True(t, view.Counted)
	assert.False(t, view.Stale)
	assert.Equal(t, 4, view.Max)
	assert.Equal(t, 4, view.Criteria[1].Start)
	assert.Equal(t, 2, view.Criteria[1].End)

	filter, err := services.drafts.Save(ctx, user.ID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Home chores", filter.Title)
	assert.Equal(t, view.Predicate, filter.Predicate)

	view, err = services.drafts.Get(ctx, user.ID, view.ID)
	require.NoError(t, err)
	assert.Equal(t, filter.ID, view.FilterID)
	assert.False(t, view.HasChanges)

	view, err = services.drafts.Patch(ctx, user.ID, view.ID, DraftPatch{Color: intPtr(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, view.Color)

	require.NoError(t, services.drafts.Discard(user.ID, view.ID))
	_, err = services.drafts.Get(ctx, user.ID, view.ID)
	require.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDraftOpensSavedFilterAndState(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()
	user := mustCreateUser(t, services.store, "draft02")
	seedTasks(t, services, user.ID)

	list := buildList(t, services, user.ID, pick("title_contains", criterion.OpIntersect, "plants"))
	filter, err := services.filters.Create(ctx, user.ID, CreateFilterInput{Title: "Plants", Criteria: list})
	require.NoError(t, err)

	view, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{FilterID: filter.ID})
	require.NoError(t, err)
	assert.Equal(t, "Plants", view.Title)
	assert.Equal(t, filter.Criteria, view.State)
	assert.False(t, view.HasChanges)

	restored, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{FilterID: filter.ID, State: "active||Active|3|"})
	require.NoError(t, err)
	require.Len(t, restored.Criteria, 1)
	assert.True(t, restored.HasChanges)

	other := mustCreateUser(t, services.store, "draft03")
	_, err = services.drafts.Get(ctx, other.ID, view.ID)
	require.ErrorIs(t, err, ErrDraftNotFound)
}

func TestDraftAnchorIsLocked(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()
	user := mustCreateUser(t, services.store, "draft04")

	view, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{})
	require.NoError(t, err)
	anchor := view.Criteria[0].ID

	_, err = services.drafts.RemoveCriterion(ctx, user.ID, view.ID, anchor)
	require.ErrorIs(t, err, ErrAnchorLocked)
	_, err = services.drafts.UpdateCriterion(ctx, user.ID, view.ID, anchor, opPtr(criterion.OpUnion), Selection{})
	require.ErrorIs(t, err, ErrAnchorLocked)

	view, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "recurring", opPtr(criterion.OpSubtract), Selection{})
	require.NoError(t, err)
	view, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "completed", nil, Selection{})
	require.NoError(t, err)

	_, err = services.drafts.MoveCriterion(ctx, user.ID, view.ID, 2, 0)
	require.ErrorIs(t, err, ErrAnchorLocked)
	_, err = services.drafts.MoveCriterion(ctx, user.ID, view.ID, 1, 5)
	require.ErrorIs(t, err, ErrInvalidMove)

	moved, err := services.drafts.MoveCriterion(ctx, user.ID, view.ID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "completed", moved.Criteria[1].Definition.ID)
	assert.Equal(t, "recurring", moved.Criteria[2].Definition.ID)
	assert.Greater(t, moved.Generation, view.Generation)
}

func TestDraftRejectsBadEdits(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()
	user := mustCreateUser(t, services.store, "draft05")

	view, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{})
	require.NoError(t, err)

	_, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "no_such", nil, Selection{})
	require.ErrorIs(t, err, criterion.ErrUnknownCriterion)
	_, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "recurring", opPtr(criterion.OpUniverse), Selection{})
	require.ErrorIs(t, err, ErrInvalidOperator)
	_, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "recurring", nil, Selection{Value: stringPtr("x")})
	require.ErrorIs(t, err, ErrInvalidSelection)
	_, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "importance", nil, Selection{Index: intPtr(9)})
	require.ErrorIs(t, err, ErrInvalidSelection)
	_, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "importance", nil, Selection{})
	require.ErrorIs(t, err, ErrInvalidSelection)
	unchanged, err := services.drafts.Get(ctx, user.ID, view.ID)
	require.NoError(t, err)
	require.Len(t, unchanged.Criteria, 1)
	_, err = services.drafts.RemoveCriterion(ctx, user.ID, view.ID, "missing")
	require.ErrorIs(t, err, ErrCriterionNotFound)

	view, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "title_contains", nil, Selection{Text: stringPtr("it's")})
	require.NoError(t, err)
	assert.Contains(t, view.Predicate, "'%it''s%'")

	view, err = services.drafts.UpdateCriterion(ctx, user.ID, view.ID, view.Criteria[1].ID, nil, Selection{Text: stringPtr("")})
	require.NoError(t, err)
	assert.Nil(t, view.Criteria[1].SelectedText)

	view, err = services.drafts.RemoveCriterion(ctx, user.ID, view.ID, view.Criteria[1].ID)
	require.NoError(t, err)
	require.Len(t, view.Criteria, 1)
}

func TestDraftDropsStaleRecount(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()
	user := mustCreateUser(t, services.store, "draft06")
	seedTasks(t, services, user.ID)

	view, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{})
	require.NoError(t, err)
	view, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "tag_is", nil, Selection{Value: stringPtr("work")})
	require.NoError(t, err)

	services.drafts.counted = func(draftID string) {
		services.drafts.counted = nil
		_, err := services.drafts.Patch(ctx, user.ID, draftID, DraftPatch{Title: stringPtr("changed")})
		require.NoError(t, err)
	}
	stale, err := services.drafts.Recount(ctx, user.ID, view.ID)
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.False(t, stale.Counted)
	assert.Zero(t, stale.Criteria[1].End)

	fresh, err := services.drafts.Recount(ctx, user.ID, view.ID)
	require.NoError(t, err)
	assert.False(t, fresh.Stale)
	assert.True(t, fresh.Counted)
	assert.Equal(t, 2, fresh.Criteria[1].End)
}

func TestDraftRecountOutlivesCallerCancel(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()
	user := mustCreateUser(t, services.store, "draft07")
	seedTasks(t, services, user.ID)

	view, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{})
	require.NoError(t, err)
	view, err = services.drafts.AddCriterion(ctx, user.ID, view.ID, "tag_is", nil, Selection{Value: stringPtr("work")})
	require.NoError(t, err)

	gone, cancel := context.WithCancel(ctx)
	cancel()
	counted, err := services.drafts.Recount(gone, user.ID, view.ID)
	require.NoError(t, err)
	assert.True(t, counted.Counted)
	assert.Equal(t, 2, counted.Criteria[1].End)
}

func TestDraftSweepExpiresIdleDrafts(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()
	user := mustCreateUser(t, services.store, "draft07")

	clock := fixedNow
	services.drafts.now = func() time.Time { return clock }

	idle, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{})
	require.NoError(t, err)
	clock = clock.Add(45 * time.Minute)
	busy, err := services.drafts.Open(ctx, user.ID, OpenDraftInput{})
	require.NoError(t, err)

	clock = clock.Add(30 * time.Minute)
	assert.Equal(t, 1, services.drafts.Sweep())

	_, err = services.drafts.Get(ctx, user.ID, idle.ID)
	require.ErrorIs(t, err, ErrDraftNotFound)
	_, err = services.drafts.Get(ctx, user.ID, busy.ID)
	require.NoError(t, err)
}

func TestDraftJanitorStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	drafts := NewDraftService(nil, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		drafts.RunJanitor(ctx, time.Millisecond)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
