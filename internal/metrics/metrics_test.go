package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/metrics"
)

func TestMetrics_RecordsAndServes(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ObserveScan("completed", 3*time.Second)
	m.AddSignals(metrics.StageCollected, 12)
	m.AddSignals(metrics.StageFiltered, 0)
	m.ObserveModelCall("classify", "ok", 200*time.Millisecond)
	m.AddPromotions("clustered", 2)

	if got := testutil.ToFloat64(m.SignalsTotal.WithLabelValues(metrics.StageCollected)); got != 12 {
		t.Errorf("signals collected = %v, want 12", got)
	}
	if got := testutil.ToFloat64(m.PromotionsTotal.WithLabelValues("clustered")); got != 2 {
		t.Errorf("promotions = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "opportunity_finder_scans_total") {
		t.Error("exposition missing scans_total")
	}
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var m *metrics.Metrics
	m.ObserveScan("failed", time.Second)
	m.AddSignals(metrics.StageStaged, 1)
	m.ObserveSource("reddit", "failed", 0)
	m.ObserveModelCall("match", "error", time.Second)
	m.AddPromotions("matched", 1)
	m.SetPending(4)
	m.AddScored(1)
}
