package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/shinyes/sift/internal/app"
	"github.com/shinyes/sift/internal/config"
	"github.com/shinyes/sift/internal/service"
)

func TestParseTTL(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "24h", want: 24 * time.Hour},
		{input: "7d", want: 7 * 24 * time.Hour},
		{input: "2day", want: 2 * 24 * time.Hour},
		{input: "3days", want: 3 * 24 * time.Hour},
		{input: "1.5d", want: 36 * time.Hour},
		{input: "0d", wantErr: true},
		{input: "-1d", wantErr: true},
		{input: "abc", wantErr: true},
	}

	for _, tc := range tests {
		got, err := parseTTL(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseTTL(%q) expected error, got nil", tc.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseTTL(%q) unexpected error: %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("parseTTL(%q) got %s, want %s", tc.input, got, tc.want)
		}
	}
}

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{
			name:  "simple",
			input: "user create demo pass",
			want:  []string{"user", "create", "demo", "pass"},
		},
		{
			name:  "quoted",
			input: "token create demo \"mobile token\" --ttl 7d",
			want:  []string{"token", "create", "demo", "mobile token", "--ttl", "7d"},
		},
		{
			name:  "single quote",
			input: "token create demo 'token with space'",
			want:  []string{"token", "create", "demo", "token with space"},
		},
		{
			name:  "apostrophe in token",
			input: "user create cyk cyk'slife cyk admin",
			want:  []string{"user", "create", "cyk", "cyk'slife", "cyk", "admin"},
		},
		{
			name:    "unterminated quote",
			input:   "token create demo \"bad",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		got, err := parseCommandLine(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error, got nil", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: args len got %d want %d", tc.name, len(got), len(tc.want))
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: arg[%d] got %q want %q", tc.name, i, got[i], tc.want[i])
			}
		}
	}
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	got, err := tokenExpiry("7d", "", now)
	if err != nil || got == nil || !got.Equal(now.Add(7*24*time.Hour)) {
		t.Fatalf("tokenExpiry(7d) = %v, %v", got, err)
	}
	got, err = tokenExpiry("", "2026-12-31T23:59:59+02:00", now)
	if err != nil || got == nil || got.Location() != time.UTC || got.Hour() != 21 {
		t.Fatalf("tokenExpiry(expires-at) = %v, %v", got, err)
	}
	if got, err := tokenExpiry("", "", now); err != nil || got != nil {
		t.Fatalf("tokenExpiry() = %v, %v, want no expiry", got, err)
	}
	if _, err := tokenExpiry("1d", "2026-12-31T23:59:59Z", now); err == nil {
		t.Fatalf("expected error when both --ttl and --expires-at are set")
	}
	if _, err := tokenExpiry("", "tomorrow", now); err == nil {
		t.Fatalf("expected error for non RFC3339 expiry")
	}
}

func newTestContainer(t *testing.T) *app.Container {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		DBDriver:  config.DBDriverSQLite,
		DBPath:    filepath.Join(dir, "sift.db"),
		BackupDir: filepath.Join(dir, "backups"),
		Storage:   config.StorageBackendLocal,
		DraftTTL:  time.Hour,
	}
	container, cleanup, err := app.Build(context.Background(), cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("app.Build() error = %v", err)
	}
	t.Cleanup(func() {
		_ = cleanup()
	})
	return container
}

func runAdmin(t *testing.T, container *app.Container, args ...string) (string, error) {
	t.Helper()
	cmd := newAdminCmdWith(func(context.Context) (*app.Container, func() error, error) {
		return container, func() error { return nil }, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAdminFilterAndBackupCommands(t *testing.T) {
	container := newTestContainer(t)
	ctx := context.Background()

	out, err := runAdmin(t, container, "user", "create", "alice", "alice-pass")
	if err != nil {
		t.Fatalf("user create error = %v", err)
	}
	if !strings.Contains(out, "username=alice") {
		t.Fatalf("unexpected user create output %q", out)
	}

	user, err := container.UserService.GetUserByIdentifier(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByIdentifier() error = %v", err)
	}
	steps, err := container.FilterService.DecodeStrict(ctx, user.ID, "active||Active|3|\ndue_by|EOD()|Due by ?|2|")
	if err != nil {
		t.Fatalf("DecodeStrict() error = %v", err)
	}
	filter, err := container.FilterService.Create(ctx, user.ID, service.CreateFilterInput{Title: "Today", Criteria: steps})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	filterID := strconv.FormatInt(filter.ID, 10)

	out, err = runAdmin(t, container, "filter", "show", "alice", filterID)
	if err != nil {
		t.Fatalf("filter show error = %v", err)
	}
	if !strings.Contains(out, "filter "+filterID+": Today") || !strings.Contains(out, "1\tintersect\tDue by today") {
		t.Fatalf("unexpected filter show output %q", out)
	}

	out, err = runAdmin(t, container, "filter", "check", "alice", filterID)
	if err != nil || !strings.Contains(out, "ok (2 steps)") {
		t.Fatalf("filter check = %q, %v", out, err)
	}

	out, err = runAdmin(t, container, "filter", "sql", "--raw", "alice", filterID)
	if err != nil || !strings.Contains(out, "tasks.due_date <= EOD()") {
		t.Fatalf("filter sql --raw = %q, %v", out, err)
	}
	out, err = runAdmin(t, container, "filter", "sql", "alice", filterID)
	if err != nil || strings.Contains(out, "EOD()") || strings.Contains(out, "NOW()") {
		t.Fatalf("filter sql should expand placeholders, got %q, %v", out, err)
	}

	if _, err := runAdmin(t, container, "filter", "show", "nobody", filterID); err == nil {
		t.Fatalf("expected error for unknown user")
	}

	out, err = runAdmin(t, container, "backup", "export", "alice")
	if err != nil || !strings.Contains(out, "filters=1") {
		t.Fatalf("backup export = %q, %v", out, err)
	}
	out, err = runAdmin(t, container, "backup", "import", "alice")
	if err != nil || !strings.Contains(out, "imported=1 skipped=0") {
		t.Fatalf("backup import = %q, %v", out, err)
	}

	out, err = runAdmin(t, container, "filter", "list", "alice")
	if err != nil || !strings.Contains(out, "count=2") {
		t.Fatalf("filter list = %q, %v", out, err)
	}
}

func TestAdminStorageCommands(t *testing.T) {
	container := newTestContainer(t)

	out, err := runAdmin(t, container, "storage", "status")
	if err != nil || strings.TrimSpace(out) != "backend=local" {
		t.Fatalf("storage status = %q, %v", out, err)
	}

	if _, err := runAdmin(t, container, "storage", "s3", "--endpoint", "https://s3.example.com"); err == nil {
		t.Fatalf("expected incomplete s3 settings to be rejected")
	}

	_, err = runAdmin(t, container, "storage", "s3",
		"--endpoint", "https://s3.example.com",
		"--region", "auto",
		"--bucket", "sift",
		"--access-key-id", "key",
		"--access-secret", "secret",
	)
	if err != nil {
		t.Fatalf("storage s3 error = %v", err)
	}
	out, err = runAdmin(t, container, "storage", "status")
	if err != nil || !strings.Contains(out, "backend=s3") || !strings.Contains(out, "bucket=sift") {
		t.Fatalf("storage status after s3 = %q, %v", out, err)
	}

	if _, err := runAdmin(t, container, "storage", "local"); err != nil {
		t.Fatalf("storage local error = %v", err)
	}
}

func TestRuntimeConsoleRunsAdminCommands(t *testing.T) {
	container := newTestContainer(t)

	in := strings.NewReader("registration disable\nadmin registration status\nbogus\nexit\n")
	var out bytes.Buffer
	runRuntimeConsole(in, &out, container)

	got := out.String()
	if !strings.Contains(got, "allow_registration=false") {
		t.Fatalf("expected registration status in console output, got %q", got)
	}
	if !strings.Contains(got, "command failed") {
		t.Fatalf("expected unknown command to fail, got %q", got)
	}
	if !strings.Contains(got, "runtime console closed") {
		t.Fatalf("expected console to close on exit, got %q", got)
	}
}
