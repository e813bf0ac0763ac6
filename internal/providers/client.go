package providers

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/nairabridge/server/internal/circuitbreaker"
	"github.com/nairabridge/server/internal/metrics"
)

// restClient is the HTTP plumbing shared by the provider
// implementations: JSON round trips, error classification, circuit
// breaking, and call metrics.
type restClient struct {
	name     string
	service  circuitbreaker.ServiceType
	baseURL  string
	http     *http.Client
	breakers *circuitbreaker.Manager
	metrics  *metrics.Metrics
	headers  func(*http.Request)
}

func (c *restClient) do(ctx context.Context, operation, method, path string, body interface{}, out interface{}) ([]byte, error) {
	start := time.Now()
	raw, err := c.roundTrip(ctx, method, path, body, out)
	c.metrics.ObserveProviderCall(c.name, operation, time.Since(start), err)
	return raw, err
}

func (c *restClient) roundTrip(ctx context.Context, method, path string, body interface{}, out interface{}) ([]byte, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Provider: c.name, Kind: ErrInvalidRequest, Msg: "encode request", Err: err}
		}
		payload = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, &Error{Provider: c.name, Kind: ErrInvalidRequest, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.headers != nil {
		c.headers(req)
	}

	result, err := c.execute(func() (interface{}, error) {
		return c.http.Do(req)
	})
	if err != nil {
		return nil, c.classifyTransport(err)
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{Provider: c.name, Kind: ErrNetwork, Msg: "read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		kind := ErrProvider
		if resp.StatusCode < 500 && resp.StatusCode != 429 {
			kind = ErrInvalidRequest
		}
		return raw, &Error{
			Provider: c.name,
			Kind:     kind,
			Msg:      fmt.Sprintf("%s %s returned %d", method, path, resp.StatusCode),
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, &Error{Provider: c.name, Kind: ErrProvider, Msg: "decode response", Err: err}
		}
	}
	return raw, nil
}

func (c *restClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	if c.breakers == nil {
		return fn()
	}
	return c.breakers.Execute(c.service, fn)
}

func (c *restClient) classifyTransport(err error) *Error {
	kind := ErrNetwork
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		kind = ErrTimeout
	case stderrors.As(err, &netErr) && netErr.Timeout():
		kind = ErrTimeout
	}
	return &Error{Provider: c.name, Kind: kind, Msg: "request failed", Err: err}
}
