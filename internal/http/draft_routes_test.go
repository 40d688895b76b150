package http

import (
	"net/http"
	"testing"
)

func TestDraftEndpoints_Lifecycle(t *testing.T) {
	app := newTestApp(t, false, true)
	seedImportanceTasks(t, app)

	draft := decodeBody[apiDraft](t, doJSON(t, app, http.MethodPost, "/api/v1/drafts", map[string]any{}), http.StatusCreated)
	if draft.ID == "" || len(draft.Criteria) != 1 || draft.Criteria[0].Operator != "universe" {
		t.Fatalf("unexpected new draft %+v", draft)
	}
	base := "/api/v1/drafts/" + draft.ID

	draft = decodeBody[apiDraft](t, doJSON(t, app, http.MethodPost, base+"/criteria", map[string]any{
		"criterionId": "importance",
		"operator":    "and",
		"value":       "1",
	}), http.StatusOK)
	if len(draft.Criteria) != 2 || draft.Values["importance"] != "1" {
		t.Fatalf("unexpected draft after add %+v", draft)
	}

	draft = decodeBody[apiDraft](t, doJSON(t, app, http.MethodPost, base+":recount", nil), http.StatusOK)
	if !draft.Counted || draft.Max != 3 || draft.Criteria[1].End != 2 {
		t.Fatalf("unexpected counts %+v", draft)
	}

	draft = decodeBody[apiDraft](t, doJSON(t, app, http.MethodPatch, base, map[string]any{"title": "Urgent"}), http.StatusOK)
	if !draft.HasChanges {
		t.Fatalf("expected a titled unsaved draft to have changes")
	}

	saved := decodeBody[apiFilter](t, doJSON(t, app, http.MethodPost, base+":save", nil), http.StatusOK)
	if saved.Title != "Urgent" || saved.Values["importance"] != "1" {
		t.Fatalf("unexpected saved filter %+v", saved)
	}

	draft = decodeBody[apiDraft](t, doJSON(t, app, http.MethodGet, base, nil), http.StatusOK)
	if draft.FilterID != saved.ID || draft.HasChanges {
		t.Fatalf("expected draft bound to saved filter without changes, got %+v", draft)
	}

	discard := doJSON(t, app, http.MethodDelete, base, nil)
	if discard.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", discard.StatusCode)
	}
	decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodGet, base, nil), http.StatusNotFound)
}

func TestDraftEndpoints_AnchorIsLocked(t *testing.T) {
	app := newTestApp(t, false, true)

	draft := decodeBody[apiDraft](t, doJSON(t, app, http.MethodPost, "/api/v1/drafts", map[string]any{
		"state": urgentCriteria,
	}), http.StatusCreated)
	base := "/api/v1/drafts/" + draft.ID
	anchor := draft.Criteria[0].ID

	removed := decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodDelete, base+"/criteria/"+anchor, nil), http.StatusConflict)
	if removed.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", removed.Code)
	}
	decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodPost, base+":move", map[string]any{"from": 1, "to": 0}), http.StatusConflict)
	decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodPost, base+":move", map[string]any{"from": 1, "to": 7}), http.StatusBadRequest)

	updated := decodeBody[apiDraft](t, doJSON(t, app, http.MethodPatch, base+"/criteria/"+draft.Criteria[1].ID, map[string]any{
		"operator": "not",
	}), http.StatusOK)
	if updated.Criteria[1].Operator != "subtract" {
		t.Fatalf("expected subtract, got %s", updated.Criteria[1].Operator)
	}

	after := decodeBody[apiDraft](t, doJSON(t, app, http.MethodDelete, base+"/criteria/"+draft.Criteria[1].ID, nil), http.StatusOK)
	if len(after.Criteria) != 1 {
		t.Fatalf("expected only the anchor left, got %d steps", len(after.Criteria))
	}
}

func TestDraftEndpoints_RejectBadEdits(t *testing.T) {
	app := newTestApp(t, false, true)

	draft := decodeBody[apiDraft](t, doJSON(t, app, http.MethodPost, "/api/v1/drafts", map[string]any{}), http.StatusCreated)
	base := "/api/v1/drafts/" + draft.ID

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"unknown operator", map[string]any{"criterionId": "importance", "operator": "xor"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing criterion", map[string]any{"operator": "and"}, http.StatusBadRequest, "BAD_REQUEST"},
		{"unknown criterion", map[string]any{"criterionId": "gone"}, http.StatusUnprocessableEntity, "UNKNOWN_CRITERION"},
		{"bad selection", map[string]any{"criterionId": "importance", "index": 9}, http.StatusBadRequest, "BAD_REQUEST"},
		{"no selection", map[string]any{"criterionId": "importance", "operator": "and"}, http.StatusBadRequest, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodPost, base+"/criteria", tt.body), tt.status)
			if body.Code != tt.code {
				t.Fatalf("expected %s, got %s", tt.code, body.Code)
			}
		})
	}

	missing := decodeBody[errorEnvelope](t, doJSON(t, app, http.MethodPost, "/api/v1/drafts/nope:recount", nil), http.StatusNotFound)
	if missing.Message != "draft not found" {
		t.Fatalf("unexpected message %q", missing.Message)
	}
}
