package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestFiberCustomMethodRoutePattern(t *testing.T) {
	app := fiber.New()
	app.Post("/api/v1/drafts/:id\\:recount", func(c *fiber.Ctx) error {
		return c.SendString(c.Params("id"))
	})

	req := httptest.NewRequest("POST", "/api/v1/drafts/3f2a:recount", nil)
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(body) != "3f2a" {
		t.Fatalf("expected id=3f2a, got %q", string(body))
	}
}

func TestUnknownRouteUsesErrorEnvelope(t *testing.T) {
	app := newTestApp(t, true, true)

	resp := doJSON(t, app, http.MethodGet, "/api/v1/nothing/here", nil)
	body := decodeBody[errorEnvelope](t, resp, http.StatusNotFound)
	if body.Code != "NOT_FOUND" {
		t.Fatalf("expected code=NOT_FOUND, got %q", body.Code)
	}
	if body.RequestID == "" {
		t.Fatalf("expected requestId in error body")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, true, true)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), 5000)
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
