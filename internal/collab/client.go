package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-erp/internal/obs"
	"github.com/noah-isme/backend-erp/internal/resilience"
)

const maxResponseBytes = 4 << 20

// StatusError is a non-2xx answer from a collaborator. Message carries the
// collaborator's own explanation when the body had one.
type StatusError struct {
	Collaborator string
	StatusCode   int
	Message      string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Collaborator, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Collaborator, e.StatusCode, e.Message)
}

// Rejected reports whether the collaborator refused the request itself, as
// opposed to failing to process it.
func (e *StatusError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// HTTPClient returns a client for collaborator calls with tracing on the transport.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
	}
}

// Client sends JSON requests to one collaborator.
type Client struct {
	Name    string
	BaseURL string
	HTTP    resilience.HTTPClient
	Headers map[string]string
}

func (c Client) url(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// Do sends in as JSON and decodes a 2xx body into out. Non-2xx answers come
// back as *StatusError.
func (c Client) Do(ctx context.Context, method, path string, in, out any) error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("%s: base url not configured", c.Name)
	}
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", c.Name, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		c.observe(start, "error")
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.observe(start, "error")
		return fmt.Errorf("%s: read response: %w", c.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.observe(start, "rejected")
		return &StatusError{Collaborator: c.Name, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	c.observe(start, "ok")
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.Name, err)
	}
	return nil
}

func (c Client) observe(start time.Time, result string) {
	if obs.CollaboratorLatency == nil {
		return
	}
	obs.CollaboratorLatency.WithLabelValues(c.Name, result).Observe(obs.DurationMillis(time.Since(start)))
}

// errorMessage pulls a message out of the common error shapes:
// {"message":...}, {"error":"..."} and {"error":{"message":...}}.
func errorMessage(body []byte) string {
	var flat struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err != nil {
		return strings.TrimSpace(string(body))
	}
	if strings.TrimSpace(flat.Message) != "" {
		return flat.Message
	}
	if len(flat.Error) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(flat.Error, &s); err == nil {
		return s
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(flat.Error, &nested); err == nil {
		return nested.Message
	}
	return ""
}

// rejection returns the collaborator's message when err is a 4xx answer.
func rejection(err error) (string, bool) {
	var se *StatusError
	if !errors.As(err, &se) || !se.Rejected() {
		return "", false
	}
	if se.Message == "" {
		return http.StatusText(se.StatusCode), true
	}
	return se.Message, true
}
