package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	kernelhttp "github.com/km-arc/go-kernel/framework/http"
)

// ── helpers ──────────────────────────────────────────────────────────────────

func send(t *testing.T, res *kernelhttp.Response) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	if err := res.Send(rr); err != nil {
		t.Fatalf("Send: %v", err)
	}
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("decodeJSON: %v", err)
	}
	return m
}

// ── JSON ──────────────────────────────────────────────────────────────────────

func TestResponse_JSON(t *testing.T) {
	rr := send(t, kernelhttp.JSON(http.StatusOK, map[string]any{"key": "val"}))

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q want application/json", ct)
	}
	m := decodeJSON(t, rr)
	if m["key"] != "val" {
		t.Errorf("body key: got %v want val", m["key"])
	}
}

func TestResponse_JSON_Unencodable(t *testing.T) {
	res := kernelhttp.JSON(http.StatusOK, map[string]any{"ch": make(chan int)})

	if res.Status() != http.StatusInternalServerError {
		t.Errorf("status: got %d want 500", res.Status())
	}
	m := decodeJSON(t, send(t, res))
	if m["error"] != "Internal Server Error" {
		t.Errorf("error: got %v", m["error"])
	}
}

func TestResponse_Success(t *testing.T) {
	rr := send(t, kernelhttp.Success(map[string]any{"id": 1}))

	if rr.Code != http.StatusOK {
		t.Errorf("status: got %d want 200", rr.Code)
	}
	m := decodeJSON(t, rr)
	data, ok := m["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data envelope, got %T", m["data"])
	}
	if data["id"] != float64(1) {
		t.Errorf("data.id: got %v want 1", data["id"])
	}
}

func TestResponse_Created(t *testing.T) {
	rr := send(t, kernelhttp.Created(map[string]any{"name": "Alice"}))

	if rr.Code != http.StatusCreated {
		t.Errorf("status: got %d want 201", rr.Code)
	}
	if _, ok := decodeJSON(t, rr)["data"]; !ok {
		t.Error("expected 'data' key in response")
	}
}

func TestResponse_NoContent(t *testing.T) {
	rr := send(t, kernelhttp.NoContent())

	if rr.Code != http.StatusNoContent {
		t.Errorf("status: got %d want 204", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %q", rr.Body.String())
	}
}

// ── Error helpers ─────────────────────────────────────────────────────────────

func TestResponse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		res     *kernelhttp.Response
		status  int
		key     string
		message string
	}{
		{"error", kernelhttp.Error(http.StatusBadRequest, "bad input"), http.StatusBadRequest, "message", "bad input"},
		{"unauthorized default", kernelhttp.Unauthorized(), http.StatusUnauthorized, "message", "Unauthenticated."},
		{"unauthorized custom", kernelhttp.Unauthorized("Token expired."), http.StatusUnauthorized, "message", "Token expired."},
		{"forbidden", kernelhttp.Forbidden(), http.StatusForbidden, "message", "This action is unauthorized."},
		{"not found", kernelhttp.NotFound(), http.StatusNotFound, "message", "Not found."},
		{"server error", kernelhttp.ServerError(), http.StatusInternalServerError, "error", "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := send(t, tt.res)
			if rr.Code != tt.status {
				t.Errorf("status: got %d want %d", rr.Code, tt.status)
			}
			if got := decodeJSON(t, rr)[tt.key]; got != tt.message {
				t.Errorf("%s: got %v want %q", tt.key, got, tt.message)
			}
		})
	}
}

// ── Redirect / headers ────────────────────────────────────────────────────────

func TestResponse_Redirect(t *testing.T) {
	rr := send(t, kernelhttp.Redirect(http.StatusFound, "/dashboard"))

	if rr.Code != http.StatusFound {
		t.Errorf("status: got %d want 302", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/dashboard" {
		t.Errorf("Location: got %q", loc)
	}
}

func TestResponse_ModifiedOnTheWayOut(t *testing.T) {
	res := kernelhttp.Text(http.StatusOK, "hello")
	res.WithHeader("X-Request-ID", "abc").SetStatus(http.StatusAccepted)
	_, _ = res.Write([]byte(" world"))

	rr := send(t, res)
	if rr.Code != http.StatusAccepted {
		t.Errorf("status: got %d want 202", rr.Code)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID: got %q", got)
	}
	if got := rr.Body.String(); got != "hello world" {
		t.Errorf("body: got %q", got)
	}
	if got := rr.Header().Get("Content-Length"); got != "11" {
		t.Errorf("Content-Length: got %q want 11", got)
	}
}

func TestResponse_IsResponseWriter(t *testing.T) {
	var w http.ResponseWriter = kernelhttp.NewResponse(http.StatusOK)
	http.Error(w, "nope", http.StatusTeapot)

	res := w.(*kernelhttp.Response)
	if res.Status() != http.StatusTeapot {
		t.Errorf("status: got %d want 418", res.Status())
	}
	if got := string(res.Body()); got != "nope\n" {
		t.Errorf("body: got %q", got)
	}
}
