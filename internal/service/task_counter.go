package service

import (
	"context"
	"time"

	"github.com/shinyes/sift/internal/criterion"
	"github.com/shinyes/sift/internal/metrics"
	"github.com/shinyes/sift/internal/permasql"
	"github.com/shinyes/sift/internal/store"
)

// taskCounter counts one user's tasks matching a composed predicate.
type taskCounter struct {
	store  *store.SQLStore
	userID int64
	now    time.Time
}

var _ criterion.Oracle = taskCounter{}

func (c taskCounter) CountMatching(ctx context.Context, predicate string) (int, error) {
	started := time.Now()
	count, err := c.store.CountTasksMatching(ctx, c.userID, permasql.ReplaceForQuery(predicate, c.now))
	metrics.CountQueries.Inc()
	metrics.CountQueryDuration.Observe(time.Since(started).Seconds())
	return count, err
}
