package criterion

import (
	"context"
	"database/sql"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinyes/sift/internal/db"
	"github.com/shinyes/sift/internal/permasql"
)

func TestComposeUniverseAnchor(t *testing.T) {
	assert.Equal(t, BasePredicate, Compose([]Instance{anchor()}))
	assert.Empty(t, Compose(nil))
}

func TestComposeFoldsLeftToRight(t *testing.T) {
	even := "tasks.id IN (SELECT tasks.id FROM tasks WHERE tasks.id % 2 = 0)"
	odd := "tasks.id IN (SELECT tasks.id FROM tasks WHERE tasks.id % 2 = 1)"

	got := Compose([]Instance{anchor(), step("even", OpIntersect), step("odd", OpUnion)})
	assert.Equal(t, "(("+BasePredicate+") AND "+even+") OR "+odd, got)

	got = Compose([]Instance{anchor(), step("odd", OpSubtract), step("all", OpIntersect)})
	assert.Equal(t, "(("+BasePredicate+") AND NOT "+odd+") AND "+BasePredicate, got)
}

func TestComposeLateUniverseActsAsBase(t *testing.T) {
	late := step("all", OpUniverse)
	got := Compose([]Instance{anchor(), step("even", OpIntersect), late})
	assert.Contains(t, got, ") AND "+BasePredicate)
}

func TestComposeSubstitution(t *testing.T) {
	got := Compose([]Instance{text("title", OpIntersect, "O'Brien")})
	assert.Equal(t, "tasks.id IN (SELECT tasks.id FROM tasks WHERE tasks.title LIKE '%O''Brien%')", got)

	unset := step("title", OpIntersect)
	got = Compose([]Instance{unset})
	assert.Equal(t, "tasks.id IN (SELECT tasks.id FROM tasks WHERE tasks.title LIKE '%%')", got)

	noEntry := step("tag", OpIntersect)
	got = Compose([]Instance{noEntry})
	assert.Contains(t, got, "name = 'Tag is ?'")
}

func TestPrefixesMatchCompose(t *testing.T) {
	list := []Instance{anchor(), step("even", OpIntersect), text("title", OpUnion, "x"), step("odd", OpSubtract)}
	prefixes := Prefixes(list)
	require.Len(t, prefixes, len(list))
	for k := range list {
		assert.Equal(t, Compose(list[:k+1]), prefixes[k])
	}
}

func TestNewTaskValuesOnlyFromIntersect(t *testing.T) {
	assert.Empty(t, NewTaskValues([]Instance{anchor(), choice("tag", OpUnion, 0)}))
	assert.Empty(t, NewTaskValues([]Instance{anchor(), choice("tag", OpSubtract, 0)}))
	assert.Equal(t, map[string]string{"tag": "work"}, NewTaskValues([]Instance{anchor(), choice("tag", OpIntersect, 0)}))
}

// toyDB holds tasks 1..5, all active and visible.
func toyDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "toy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Exec(`CREATE TABLE tasks (id INTEGER PRIMARY KEY, completed INTEGER, deleted INTEGER, hide_until INTEGER)`)
	require.NoError(t, err)
	for id := 1; id <= 5; id++ {
		_, err = conn.Exec(`INSERT INTO tasks (id, completed, deleted, hide_until) VALUES (?, 0, 0, 0)`, id)
		require.NoError(t, err)
	}
	return conn
}

func matchingIDs(t *testing.T, conn *sql.DB, list []Instance) []int {
	t.Helper()
	where := permasql.ReplaceForQuery(Compose(list), time.Now())
	rows, err := conn.Query(`SELECT tasks.id FROM tasks WHERE ` + where + ` ORDER BY tasks.id`)
	require.NoError(t, err)
	defer rows.Close()
	ids := []int{}
	for rows.Next() {
		var id int
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	require.NoError(t, rows.Err())
	return ids
}

func TestComposeOrderChangesResult(t *testing.T) {
	conn := toyDB(t)

	intersectThenUnion := matchingIDs(t, conn, []Instance{anchor(), step("even", OpIntersect), step("odd", OpUnion)})
	unionThenIntersect := matchingIDs(t, conn, []Instance{anchor(), step("odd", OpUnion), step("even", OpIntersect)})

	assert.Equal(t, []int{1, 2, 3, 4, 5}, intersectThenUnion)
	assert.Equal(t, []int{2, 4}, unionThenIntersect)
}

func TestSubtractNeverGrows(t *testing.T) {
	conn := toyDB(t)
	base := matchingIDs(t, conn, []Instance{anchor()})
	for _, id := range []string{"even", "odd", "all"} {
		narrowed := matchingIDs(t, conn, []Instance{anchor(), step(id, OpSubtract)})
		assert.LessOrEqual(t, len(narrowed), len(base), id)
		for _, v := range narrowed {
			assert.True(t, slices.Contains(base, v))
		}
	}
}

func TestTallyAgainstToyDB(t *testing.T) {
	conn := toyDB(t)
	oracle := OracleFunc(func(ctx context.Context, predicate string) (int, error) {
		var n int
		where := permasql.ReplaceForQuery(predicate, time.Now())
		err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE `+where).Scan(&n)
		return n, err
	})

	list := []Instance{anchor(), step("even", OpIntersect), step("odd", OpUnion), step("even", OpSubtract)}
	windows, maxEnd, err := Tally(context.Background(), oracle, list)
	require.NoError(t, err)
	assert.Equal(t, []Window{{5, 5}, {5, 2}, {2, 5}, {5, 3}}, windows)
	assert.Equal(t, 5, maxEnd)
}
