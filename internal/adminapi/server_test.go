package adminapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"netsync/server/internal/room"
	"netsync/server/internal/varstore"
)

func newTestServer() (*Server, *room.Registry, *varstore.Store) {
	reg := room.NewRegistry()
	vars := varstore.NewStore()
	s := New(reg, vars, MetricsHandler())
	return s, reg, vars
}

func TestHealthzReportsRoomCount(t *testing.T) {
	s, reg, _ := newTestServer()
	reg.UpsertClient("room-1", []byte("device-a"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"rooms":1`) {
		t.Fatalf("body = %s, want rooms:1", rec.Body.String())
	}
}

func TestPreSeedAppliesAdminWrite(t *testing.T) {
	s, reg, vars := newTestServer()
	reg.UpsertClient("room-1", []byte("device-a"))

	body := `{"name":"health","value":"100"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/room-1/devices/device-a/client-variables", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	entries := vars.FullClientSync("room-1", 1)
	if len(entries) != 1 || string(entries[0].Name) != "health" {
		t.Fatalf("expected pre-seeded variable, got %v", entries)
	}
}

func TestPreSeedUnknownDeviceReturns404(t *testing.T) {
	s, _, _ := newTestServer()

	body := `{"name":"health","value":"100"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/room-1/devices/ghost/client-variables", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestPreSeedOversizedValueReturns400(t *testing.T) {
	s, reg, _ := newTestServer()
	reg.UpsertClient("room-1", []byte("device-a"))

	huge := strings.Repeat("x", maxAdminValueBytes+1)
	body := `{"name":"health","value":"` + huge + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/room-1/devices/device-a/client-variables", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPreSeedExceedingAdminCapReturns413(t *testing.T) {
	s, reg, _ := newTestServer()
	reg.UpsertClient("room-1", []byte("device-a"))

	for i := 0; i < 20; i++ {
		name := string(rune('a' + i))
		body := `{"name":"` + name + `","value":"v"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/rooms/room-1/devices/device-a/client-variables", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("seed %d: status = %d, want 200, body=%s", i, rec.Code, rec.Body.String())
		}
	}

	body := `{"name":"overflow","value":"v"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/room-1/devices/device-a/client-variables", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	s, _, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
