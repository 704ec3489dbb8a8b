package http_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	infrahttp "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/http"
)

func TestNewClient_SetsUserAgent(t *testing.T) {
	t.Parallel()

	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := infrahttp.NewClient(&infrahttp.ClientConfig{UserAgent: "test-agent/2"})
	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, http.NoBody)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if got != "test-agent/2" {
		t.Errorf("User-Agent = %q, want test-agent/2", got)
	}
}

func TestCheckResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		wantErr   bool
		retryable bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound, wantErr: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: true, retryable: true},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: true, retryable: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("upstream says no"))
			}))
			defer srv.Close()

			resp, err := http.Get(srv.URL) //nolint:noctx // test server
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			defer resp.Body.Close()

			checkErr := infrahttp.CheckResponse(resp)
			if (checkErr != nil) != tt.wantErr {
				t.Fatalf("CheckResponse() error = %v, wantErr %v", checkErr, tt.wantErr)
			}
			if got := infrahttp.IsRetryableStatus(checkErr); got != tt.retryable {
				t.Errorf("IsRetryableStatus() = %v, want %v", got, tt.retryable)
			}

			var statusErr *infrahttp.StatusError
			if tt.wantErr && !errors.As(checkErr, &statusErr) {
				t.Errorf("error is not a *StatusError")
			}
		})
	}
}
