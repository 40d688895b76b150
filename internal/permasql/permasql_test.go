package permasql

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func TestReplaceForQuery(t *testing.T) {
	now := time.Date(2025, 1, 31, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want string
	}{
		{"tasks.due_date <= EOD()", "tasks.due_date <= " + ms(time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC))},
		{"tasks.due_date <= EODY()", "tasks.due_date <= " + ms(time.Date(2025, 1, 30, 23, 59, 59, 0, time.UTC))},
		{"tasks.due_date <= EODTT()", "tasks.due_date <= " + ms(time.Date(2025, 2, 2, 23, 59, 59, 0, time.UTC))},
		{"tasks.due_date <= EODM()", "tasks.due_date <= " + ms(time.Date(2025, 3, 3, 23, 59, 59, 0, time.UTC))},
		{"tasks.hide_until <= NOW()", "tasks.hide_until <= " + ms(now)},
		{"tasks.due_date > NOONW()", "tasks.due_date > " + ms(time.Date(2025, 2, 7, 12, 0, 0, 0, time.UTC))},
		{"title = 'EOD()' AND x < EOD()", "title = 'EOD()' AND x < " + ms(time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC))},
		{"name = 'it''s NOW()'", "name = 'it''s NOW()'"},
		{"tasks.completed <= 0", "tasks.completed <= 0"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ReplaceForQuery(tc.in, now), tc.in)
	}
}

func TestReplaceForNewTaskUsesNoon(t *testing.T) {
	now := time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, ms(time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)), ReplaceForNewTask("EODT()", now))
	assert.Equal(t, ms(time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)), ReplaceForNewTask("EOD()", now))
	assert.Equal(t, ms(now), ReplaceForNewTask("NOW()", now))
	assert.Equal(t, "3", ReplaceForNewTask("3", now))
}
