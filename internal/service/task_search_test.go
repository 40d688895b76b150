package service

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/store"
)

func exact(values ...string) store.TagMatchGroup {
	group := store.TagMatchGroup{}
	for _, v := range values {
		group.Options = append(group.Options, store.TagMatchOption{Kind: store.TagMatchExact, Value: v})
	}
	return group
}

func TestTaskSearchPrefilter(t *testing.T) {
	cases := []struct {
		name string
		expr string
		want store.TaskSQLPrefilter
	}{
		{
			name: "importance range",
			expr: "importance <= 1",
			want: store.TaskSQLPrefilter{ImportanceIn: []models.Importance{models.ImportanceMust, models.ImportanceHigh}},
		},
		{
			name: "mirrored comparison",
			expr: "2 < importance",
			want: store.TaskSQLPrefilter{ImportanceIn: []models.Importance{models.ImportanceNone}},
		},
		{
			name: "negated bool",
			expr: "!completed && recurring",
			want: store.TaskSQLPrefilter{Completed: ptrBool(false), Recurring: ptrBool(true)},
		},
		{
			name: "tag membership",
			expr: `"work" in tags && !("later" in tags)`,
			want: store.TaskSQLPrefilter{
				TagGroups:        []store.TagMatchGroup{exact("work")},
				ExcludeTagGroups: []store.TagMatchGroup{exact("later")},
			},
		},
		{
			name: "tag alternatives",
			expr: `"home" in tags || "garden" in tags`,
			want: store.TaskSQLPrefilter{TagGroups: []store.TagMatchGroup{exact("home", "garden")}},
		},
		{
			name: "tag exists",
			expr: `tags.exists(t, t == "a" || t.startsWith("b/"))`,
			want: store.TaskSQLPrefilter{TagGroups: []store.TagMatchGroup{{Options: []store.TagMatchOption{
				{Kind: store.TagMatchExact, Value: "a"},
				{Kind: store.TagMatchPrefix, Value: "b/"},
			}}}},
		},
		{
			name: "title",
			expr: `title.contains("tax") && importance in [0, 3]`,
			want: store.TaskSQLPrefilter{
				TitleLike:    []string{"tax"},
				ImportanceIn: []models.Importance{models.ImportanceMust, models.ImportanceNone},
			},
		},
		{
			name: "or loses title",
			expr: `title.contains("tax") || completed`,
			want: store.TaskSQLPrefilter{},
		},
		{
			name: "contradiction",
			expr: "importance == 0 && importance == 1",
			want: store.TaskSQLPrefilter{Unsatisfiable: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			search, err := CompileTaskSearch(tc.expr)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.want, search.SQLPrefilter(), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("SQLPrefilter() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTaskSearchMatches(t *testing.T) {
	search, err := CompileTaskSearch(`"work" in tags && !completed && has_due_date`)
	require.NoError(t, err)

	task := models.Task{Title: "ship", Tags: []string{"work"}, DueDate: 1}
	matched, err := search.Matches(task)
	require.NoError(t, err)
	assert.True(t, matched)

	task.Completed = 1
	matched, err = search.Matches(task)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestTaskSearchNilIsPermissive(t *testing.T) {
	search, err := CompileTaskSearch("   ")
	require.NoError(t, err)
	require.Nil(t, search)

	matched, err := search.Matches(models.Task{})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Equal(t, store.EmptyTaskPrefilter(), search.SQLPrefilter())
}

func TestTaskSearchRejectsInvalid(t *testing.T) {
	for _, expr := range []string{"title ==", "importance", `unknown_field == 1`} {
		_, err := CompileTaskSearch(expr)
		require.ErrorIs(t, err, ErrInvalidSearch, expr)
	}
}
