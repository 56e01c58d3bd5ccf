package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func TestRequestLoggerCountsRequests(t *testing.T) {
	metrics := NewMetrics()
	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop(), metrics))
	app.Get("/health/live", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/health/live", nil))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
	}

	snap := metrics.Snapshot()
	if got := snap.Requests["/health/live|GET|204"]; got != 2 {
		t.Fatalf("request count = %d, want 2 (%v)", got, snap.Requests)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTicketEvent("ticket_created")
	m.RecordError("/x", "GET", "CONFLICT")
	if snap := m.Snapshot(); snap.TicketEvents != nil {
		t.Fatalf("nil metrics snapshot = %+v", snap)
	}
}
