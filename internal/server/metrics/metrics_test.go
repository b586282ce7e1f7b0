package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"unlockd/internal/server/service"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEmit_CountsEvents(t *testing.T) {
	m := New("test")

	m.Emit(context.Background(), service.Event{Type: service.EventContentCreated})
	m.Emit(context.Background(), service.Event{
		Type:       service.EventAccessPurchased,
		Attributes: map[string]string{"amount": "1500000000000000000"},
	})
	m.Emit(context.Background(), service.Event{
		Type:       service.EventAccessPurchased,
		Attributes: map[string]string{"amount": "not-a-number"},
	})

	if got := testutil.ToFloat64(m.events.WithLabelValues(service.EventAccessPurchased)); got != 2 {
		t.Errorf("expected 2 purchase events, got %v", got)
	}
	if got := testutil.ToFloat64(m.events.WithLabelValues(service.EventContentCreated)); got != 1 {
		t.Errorf("expected 1 create event, got %v", got)
	}
	if got := testutil.ToFloat64(m.volume.WithLabelValues("in")); got != 1.5 {
		t.Errorf("expected 1.5 ether inbound, got %v", got)
	}
}

func TestMiddleware_RecordsRoute(t *testing.T) {
	m := New("test")
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/contents/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contents/7", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/api/contents/:id", http.MethodGet, "200")); got != 3 {
		t.Errorf("expected 3 requests on the route pattern, got %v", got)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "test_http_requests_total") {
		t.Error("expected exposition to include the request counter")
	}
}
