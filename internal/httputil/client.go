package httputil

import (
	"net/http"
	"time"
)

// NewClient creates an HTTP client with the given timeout and tuned
// transport settings, shared by the provider clients and the
// notification dispatcher so connection pools are reused across
// repeated calls to the same hosts.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
