package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maheshrc27/crosspost/internal/metrics"
	"github.com/maheshrc27/crosspost/internal/models"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 10 << 20

// APIError is a request the platform answered and rejected. Message is the
// platform's own error text.
type APIError struct {
	Platform   models.Platform
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// IsRejection reports whether err is a 4xx answer from a platform.
func IsRejection(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError
}

type apiRequest struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Header      http.Header
	Timeout     time.Duration
	Client      *http.Client // signed client; defaults to the apiClient's own
}

func jsonRequest(method, endpoint string, payload any, timeout time.Duration) (apiRequest, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return apiRequest{}, fmt.Errorf("encode request: %w", err)
	}
	return apiRequest{Method: method, URL: endpoint, Body: body, ContentType: "application/json", Timeout: timeout}, nil
}

func formRequest(endpoint string, form url.Values, timeout time.Duration) apiRequest {
	return apiRequest{
		Method:      http.MethodPost,
		URL:         endpoint,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
		Timeout:     timeout,
	}
}

func getRequest(endpoint string, timeout time.Duration) apiRequest {
	return apiRequest{Method: http.MethodGet, URL: endpoint, Timeout: timeout}
}

type apiResponse struct {
	header http.Header
	body   []byte
}

// apiClient is the outbound path to one platform. Calls wait on a rate
// limiter and go through a circuit breaker that only counts transport
// failures and 5xx answers against the platform.
type apiClient struct {
	platform models.Platform
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[*apiResponse]
}

func newAPIClient(platform models.Platform, hc *http.Client) *apiClient {
	if hc == nil {
		hc = &http.Client{}
	}
	name := platform.String() + "-api"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[*apiResponse](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsRejection(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &apiClient{
		platform: platform,
		http:     hc,
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
		breaker:  cb,
	}
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// send performs r and decodes a JSON answer into out when out is non-nil.
func (c *apiClient) send(ctx context.Context, r apiRequest, out any) (http.Header, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", c.platform, err)
	}

	resp, err := c.breaker.Execute(func() (*apiResponse, error) {
		return c.roundTrip(ctx, r)
	})
	name := c.platform.String() + "-api"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
		return nil, fmt.Errorf("%s unavailable: %w", c.platform, err)
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()

	if out != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return resp.header, fmt.Errorf("decode %s response: %w", c.platform, err)
		}
	}
	return resp.header, nil
}

func (c *apiClient) roundTrip(ctx context.Context, r apiRequest) (*apiResponse, error) {
	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}

	hc := r.Client
	if hc == nil {
		hc = c.http
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.platform, err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &APIError{
			Platform:   c.platform,
			StatusCode: resp.StatusCode,
			Message:    platformErrorMessage(data, resp.StatusCode),
		}
	}

	return &apiResponse{header: resp.Header, body: data}, nil
}

// platformErrorMessage pulls the human readable message out of the error
// envelopes used by Graph, Twitter, LinkedIn and Google.
func platformErrorMessage(body []byte, status int) string {
	var env struct {
		Error   json.RawMessage `json:"error"`
		Detail  string          `json:"detail"`
		Message string          `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if len(env.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(env.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var flat string
			if json.Unmarshal(env.Error, &flat) == nil && flat != "" {
				if env.ErrorDescription != "" {
					return flat + ": " + env.ErrorDescription
				}
				return flat
			}
		}
		switch {
		case env.Detail != "":
			return env.Detail
		case len(env.Errors) > 0 && env.Errors[0].Message != "":
			return env.Errors[0].Message
		case env.Message != "":
			return env.Message
		}
	}

	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
