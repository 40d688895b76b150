package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shinyes/sift/internal/catalog"
	"github.com/shinyes/sift/internal/config"
	"github.com/shinyes/sift/internal/db"
	"github.com/shinyes/sift/internal/markdown"
	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/store"
)

// fixedNow is noon UTC so PermaSql points never straddle midnight.
var fixedNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type testServices struct {
	store   *store.SQLStore
	filters *FilterService
	tasks   *TaskService
	drafts  *DraftService
	targets *BackupTargetService
	backups *BackupService
}

func setupTestServices(t *testing.T) testServices {
	t.Helper()
	dir := t.TempDir()
	sqliteDB, err := db.OpenSQLite(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqliteDB.Close()
	})
	require.NoError(t, db.Migrate(sqliteDB, db.SQLiteDialect{}))

	sqlStore := store.New(sqliteDB, db.SQLiteDialect{})
	provider, err := catalog.NewProvider(sqlStore)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	filters := NewFilterService(sqlStore, provider, logger)
	filters.now = func() time.Time { return fixedNow }
	tasks := NewTaskService(sqlStore, filters, markdown.NewTagExtractor())
	tasks.now = filters.now
	drafts := NewDraftService(filters, time.Hour, logger)
	targets := NewBackupTargetService(sqlStore, config.Config{Storage: config.StorageBackendLocal})
	backups := NewBackupService(filters, targets, filepath.Join(dir, "backups"), logger)
	backups.now = filters.now

	return testServices{
		store:   sqlStore,
		filters: filters,
		tasks:   tasks,
		drafts:  drafts,
		targets: targets,
		backups: backups,
	}
}

func mustCreateUser(t *testing.T, s *store.SQLStore, username string) models.User {
	t.Helper()
	user, err := s.CreateUser(context.Background(), username, username, "USER")
	require.NoError(t, err)
	return user
}

func mustCreateTask(t *testing.T, s *TaskService, userID int64, input CreateTaskInput) models.Task {
	t.Helper()
	task, err := s.Create(context.Background(), userID, input)
	require.NoError(t, err)
	return task
}

func importancePtr(v models.Importance) *models.Importance {
	return &v
}

func stringPtr(v string) *string {
	return &v
}

func intPtr(v int) *int {
	return &v
}
