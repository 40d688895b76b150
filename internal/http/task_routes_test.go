package http

import (
	"net/http"
	"strconv"
	"testing"
)

func TestTaskEndpoints_CreateUpdateList(t *testing.T) {
	app := newTestApp(t, false, true)

	created := decodeBody[apiTask](t, doJSON(t, app, http.MethodPost, "/api/v1/tasks", map[string]any{
		"title": "water plants #home",
	}), http.StatusCreated)
	if len(created.Tags) != 1 || created.Tags[0] != "home" {
		t.Fatalf("expected inline tag home, got %v", created.Tags)
	}
	decodeBody[apiTask](t, doJSON(t, app, http.MethodPost, "/api/v1/tasks", map[string]any{
		"title": "file taxes",
		"tags":  []string{"admin"},
	}), http.StatusCreated)

	path := "/api/v1/tasks/" + strconv.FormatInt(created.ID, 10)
	updated := decodeBody[apiTask](t, doJSON(t, app, http.MethodPatch, path, map[string]any{
		"completed": true,
	}), http.StatusOK)
	if !updated.Completed {
		t.Fatalf("expected task to be completed")
	}

	fetched := decodeBody[apiTask](t, doJSON(t, app, http.MethodGet, path, nil), http.StatusOK)
	if fetched.ID != created.ID || !fetched.Completed {
		t.Fatalf("unexpected fetched task %+v", fetched)
	}

	open := decodeBody[listTasksResponse](t, doJSON(t, app, http.MethodGet, "/api/v1/tasks?filter=!completed", nil), http.StatusOK)
	if len(open.Tasks) != 1 || open.Tasks[0].Title != "file taxes" {
		t.Fatalf("unexpected open tasks %+v", open.Tasks)
	}

	bad := decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodGet, "/api/v1/tasks?filter=title", nil), http.StatusBadRequest)
	if bad.Code != "BAD_REQUEST" {
		t.Fatalf("expected BAD_REQUEST, got %s", bad.Code)
	}

	decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodPost, "/api/v1/tasks", map[string]any{
		"title":      "too important",
		"importance": 7,
	}), http.StatusBadRequest)
	decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodGet, "/api/v1/tasks/999", nil), http.StatusNotFound)
}

func TestTagEndpoints(t *testing.T) {
	app := newTestApp(t, false, true)

	tag := decodeBody[apiTag](t, doJSON(t, app, http.MethodPost, "/api/v1/tags", map[string]any{"name": "errands"}), http.StatusCreated)
	if tag.ID == 0 || tag.Name != "errands" {
		t.Fatalf("unexpected tag %+v", tag)
	}

	list := decodeBody[listTagsResponse](t, doJSON(t, app, http.MethodGet, "/api/v1/tags", nil), http.StatusOK)
	if len(list.Tags) != 1 || list.Tags[0].Name != "errands" {
		t.Fatalf("unexpected tags %+v", list.Tags)
	}

	criteria := decodeBody[listCriteriaResponse](t, doJSON(t, app, http.MethodGet, "/api/v1/criteria", nil), http.StatusOK)
	for _, item := range criteria.Criteria {
		if item.ID == "tag_is" {
			if len(item.Entries) != 1 || item.Entries[0].Value != "errands" {
				t.Fatalf("expected tag entries from the user's tags, got %+v", item.Entries)
			}
			return
		}
	}
	t.Fatalf("tag_is criterion missing")
}

func TestBackupEndpoints_ExportAndRestore(t *testing.T) {
	app := newTestApp(t, false, true)

	decodeBody[apiFilter](t, doJSON(t, app, http.MethodPost, "/api/v1/filters", map[string]any{
		"title":    "Urgent",
		"criteria": urgentCriteria,
	}), http.StatusOK)

	exported := decodeBody[backupResponse](t, doJSON(t, app, http.MethodPost, "/api/v1/backups", nil), http.StatusCreated)
	if exported.Key == "" || exported.Filters != 1 {
		t.Fatalf("unexpected export %+v", exported)
	}

	listed := decodeBody[listBackupsResponse](t, doJSON(t, app, http.MethodGet, "/api/v1/backups", nil), http.StatusOK)
	if len(listed.Keys) != 1 || listed.Keys[0] != exported.Key {
		t.Fatalf("unexpected backup list %+v", listed.Keys)
	}

	restored := decodeBody[restoreResponse](t, doJSON(t, app, http.MethodPost, "/api/v1/backups:restore", map[string]any{}), http.StatusOK)
	if restored.Key != exported.Key || restored.Imported != 1 {
		t.Fatalf("unexpected restore %+v", restored)
	}

	filters := decodeBody[listFiltersResponse](t, doJSON(t, app, http.MethodGet, "/api/v1/filters", nil), http.StatusOK)
	if len(filters.Filters) != 2 {
		t.Fatalf("expected the restored copy next to the original, got %d filters", len(filters.Filters))
	}

	decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodPost, "/api/v1/backups:restore", map[string]any{
		"key": "backups/999/x.json",
	}), http.StatusNotFound)
}
