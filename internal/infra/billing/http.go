package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vietddude/sentinel/internal/metrics"
)

// HTTPSource implements Source against a JSON-over-HTTP billing API.
type HTTPSource struct {
	endpoint   string
	pageSize   int
	httpClient *http.Client
}

// NewHTTPSource creates an HTTP-backed billing source.
func NewHTTPSource(endpoint string, pageSize int, timeout time.Duration) *HTTPSource {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &HTTPSource{
		endpoint: endpoint,
		pageSize: pageSize,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// ListInvoices fetches one page of invoice history.
func (s *HTTPSource) ListInvoices(ctx context.Context, credential, cursor string) (*Page, error) {
	start := time.Now()

	u, err := url.Parse(s.endpoint + "/v1/invoices")
	if err != nil {
		return nil, &AdapterError{Op: "list_invoices", Msg: err.Error()}
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(s.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &AdapterError{Op: "list_invoices", Msg: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.BillingCallsTotal.WithLabelValues("error").Inc()
		return nil, &AdapterError{Op: "list_invoices", Msg: err.Error()}
	}
	defer resp.Body.Close()

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.BillingCallsTotal.WithLabelValues("rate_limited").Inc()
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.BillingCallsTotal.WithLabelValues("error").Inc()
		return nil, &AdapterError{Op: "list_invoices", Msg: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		metrics.BillingCallsTotal.WithLabelValues("error").Inc()
		return nil, &AdapterError{
			Op:         "list_invoices",
			StatusCode: resp.StatusCode,
			Msg:        string(body),
		}
	}

	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		metrics.BillingCallsTotal.WithLabelValues("error").Inc()
		return nil, &AdapterError{Op: "list_invoices", Msg: fmt.Sprintf("parse response: %v", err)}
	}

	metrics.BillingCallsTotal.WithLabelValues("ok").Inc()
	metrics.BillingLatency.Observe(time.Since(start).Seconds())
	return &page, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 2 * time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 2 * time.Second
}
