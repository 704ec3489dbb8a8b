package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	infrahttp "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/http"
	infralogger "github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/opportunity-finder/infrastructure/retry"
	"github.com/jonesrussell/north-cloud/opportunity-finder/internal/config"
)

const (
	secondsPerMinute    = 60
	defaultRetryDelay   = 500 * time.Millisecond
	maxResponseBodySize = 10 << 20
)

// base carries the plumbing shared by HTTP adapters: a rate-limited client, retry and params.
type base struct {
	name       string
	cfg        config.SourceConfig
	client     *http.Client
	limiter    *rate.Limiter
	logger     infralogger.Logger
	required   []string
	retryDelay time.Duration
}

func newBase(name string, cfg config.SourceConfig, deps Deps, required ...string) base {
	cfg = cfg.WithDefaults()

	client := deps.HTTPClient
	if client == nil {
		client = infrahttp.NewClient(&infrahttp.ClientConfig{Timeout: cfg.Timeout})
	}
	log := deps.Logger
	if log == nil {
		log = infralogger.NewNop()
	}

	return base{
		name:       name,
		cfg:        cfg,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)/secondsPerMinute), 1),
		logger:     log.With(infralogger.Source(name)),
		required:   required,
		retryDelay: defaultRetryDelay,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) IsEnabled() bool { return b.cfg.IsEnabled() }

func (b *base) ValidateConfig() (bool, []string) {
	var missing []string
	for _, key := range b.required {
		if strings.TrimSpace(b.cfg.APIKeys[key]) == "" {
			missing = append(missing, key)
		}
	}
	return len(missing) == 0, missing
}

func (b *base) apiKey(key string) string {
	return b.cfg.APIKeys[key]
}

// decodeParams overlays the free-form params map onto dst, which should hold the defaults.
func (b *base) decodeParams(dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: true,
		ZeroFields:       true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("create params decoder: %w", err)
	}
	if decodeErr := decoder.Decode(b.cfg.Params); decodeErr != nil {
		return fmt.Errorf("decode %s params: %w", b.name, decodeErr)
	}
	return nil
}

func (b *base) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  b.cfg.RetryCount,
		InitialDelay: b.retryDelay,
		IsRetryable: func(err error) bool {
			return infrahttp.IsRetryableStatus(err) || retry.DefaultIsRetryable(err)
		},
	}
}

// do sends the request built by newReq, retrying transient failures, and decodes a JSON body into
// out. A nil out discards the body.
func (b *base) do(ctx context.Context, newReq func() (*http.Request, error), out any) error {
	return retry.Retry(ctx, b.retryConfig(), func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}

		req, err := newReq()
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		if statusErr := infrahttp.CheckResponse(resp); statusErr != nil {
			return statusErr
		}
		if out == nil {
			return nil
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodySize)).Decode(out); decodeErr != nil {
			return retry.Permanent(fmt.Errorf("decode %s response: %w", req.URL.Redacted(), decodeErr))
		}
		return nil
	})
}

func (b *base) getJSON(ctx context.Context, rawURL string, query url.Values, headers map[string]string, out any) error {
	target := rawURL
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return b.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}, out)
}

func (b *base) postJSON(ctx context.Context, rawURL string, body any, headers map[string]string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	return b.do(ctx, func() (*http.Request, error) {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, fmt.Errorf("build request: %w", reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}, out)
}

// getBody fetches rawURL and returns the raw body.
func (b *base) getBody(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := retry.Retry(ctx, b.retryConfig(), func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
		if err != nil {
			return retry.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return fmt.Errorf("GET %s: %w", req.URL.Redacted(), err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if statusErr := infrahttp.CheckResponse(resp); statusErr != nil {
			return statusErr
		}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		if readErr != nil {
			return fmt.Errorf("read body: %w", readErr)
		}
		body = data
		return nil
	})
	return body, err
}

var (
	// errAllRequestsFailed is returned when an adapter issued requests and none succeeded.
	errAllRequestsFailed = errors.New("all requests failed")
	errEmptyToken        = errors.New("empty access token")
)

// requestTally lets an adapter tolerate individual query failures but still report an
// outage when nothing got through.
type requestTally struct {
	ok      int
	failed  int
	lastErr error
}

func (t *requestTally) record(err error) {
	if err != nil {
		t.failed++
		t.lastErr = err
		return
	}
	t.ok++
}

func (t *requestTally) err() error {
	if t.ok == 0 && t.failed > 0 {
		return fmt.Errorf("%w (%d): %w", errAllRequestsFailed, t.failed, t.lastErr)
	}
	return nil
}

// normalizeText collapses runs of whitespace.
// normalizeText applies NFKC, so full-width letters and non-breaking spaces match keyword rules,
// and collapses whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// clip cuts s to n runes and appends an ellipsis when anything was removed.
func clip(s string, n int, ellipsis bool) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if ellipsis {
		return string(runes[:n]) + "..."
	}
	return string(runes[:n])
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func countContained(text string, needles []string) int {
	count := 0
	for _, n := range needles {
		if strings.Contains(text, n) {
			count++
		}
	}
	return count
}

// mergeQueries appends extra phrases not already present.
func mergeQueries(queries, extra []string) []string {
	out := make([]string, 0, len(queries)+len(extra))
	seen := make(map[string]struct{}, len(queries)+len(extra))
	for _, q := range append(append([]string{}, queries...), extra...) {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
