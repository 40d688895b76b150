package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap/zaptest"

	"github.com/shinyes/sift/internal/catalog"
	"github.com/shinyes/sift/internal/config"
	"github.com/shinyes/sift/internal/db"
	"github.com/shinyes/sift/internal/markdown"
	"github.com/shinyes/sift/internal/service"
	"github.com/shinyes/sift/internal/store"
)

// testToken authenticates the bootstrap user "demo".
const testToken = "demo-token"

func newTestApp(t *testing.T, allowRegistration bool, withBootstrap bool) *fiber.App {
	app, _ := newTestAppWithUserService(t, allowRegistration, withBootstrap)
	return app
}

func newTestAppWithUserService(t *testing.T, allowRegistration bool, withBootstrap bool) (*fiber.App, *service.UserService) {
	t.Helper()
	dir := t.TempDir()
	sqliteDB, err := db.OpenSQLite(filepath.Join(dir, "http_test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() {
		_ = sqliteDB.Close()
	})
	if err := db.Migrate(sqliteDB, db.SQLiteDialect{}); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	sqlStore := store.New(sqliteDB, db.SQLiteDialect{})
	logger := zaptest.NewLogger(t)
	users := service.NewUserService(sqlStore, logger.Named("users"))
	if withBootstrap {
		if err := users.EnsureBootstrap(t.Context(), "demo", "", testToken); err != nil {
			t.Fatalf("EnsureBootstrap() error = %v", err)
		}
	}
	provider, err := catalog.NewProvider(sqlStore)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	cfg := config.Config{
		Version:           "0.1.0",
		AllowRegistration: allowRegistration,
		Storage:           config.StorageBackendLocal,
		BackupDir:         filepath.Join(dir, "backups"),
	}
	filters := service.NewFilterService(sqlStore, provider, logger)
	targets := service.NewBackupTargetService(sqlStore, cfg)
	services := Services{
		Users:   users,
		Filters: filters,
		Drafts:  service.NewDraftService(filters, time.Hour, logger),
		Tasks:   service.NewTaskService(sqlStore, filters, markdown.NewTagExtractor()),
		Backups: service.NewBackupService(filters, targets, cfg.BackupDir, logger),
	}
	return NewRouter(cfg, services, logger), users
}

// doJSON sends body as JSON with the bootstrap token.
func doJSON(t *testing.T, app *fiber.App, method string, path string, body any) *http.Response {
	t.Helper()
	return doRequest(t, app, method, path, testToken, body)
}

// doRequest sends body as JSON, authorized with token unless it is empty.
// A nil body sends no payload.
func doRequest(t *testing.T, app *fiber.App, method string, path string, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response, wantStatus int) T {
	t.Helper()
	var out T
	if resp.StatusCode != wantStatus {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", wantStatus, resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}
