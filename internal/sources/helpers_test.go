//nolint:testpackage // Adapter tests reach into unexported params and clocks
package sources

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
)

const testRateLimit = 600000

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func testSourceConfig(params map[string]any, keys map[string]string) config.SourceConfig {
	return config.SourceConfig{
		RateLimit:  testRateLimit,
		Timeout:    5 * time.Second,
		RetryCount: 1,
		APIKeys:    keys,
		Params:     params,
	}
}

func testDeps(srv *httptest.Server) Deps {
	deps := Deps{Logger: infralogger.NewNop()}
	if srv != nil {
		deps.HTTPClient = srv.Client()
	}
	return deps
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}
