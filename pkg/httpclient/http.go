package httpclient

import (
	"context"
	"net/http"
)

type BaseResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// HTTPClient executes a single outbound request. The proxy caller drives
// method, URL, headers and body from rendered call templates, so the
// interface is a generic Do rather than per-verb helpers.
type HTTPClient interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body string) (*BaseResponse, error)
}
