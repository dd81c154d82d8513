package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

type RestyClient struct {
	client *resty.Client
}

func New() HTTPClient {
	client := resty.New().
		SetHeader("Accept", "application/json")

	return &RestyClient{client: client}
}

// Do executes one request. Per-attempt timeout and cancellation come from
// ctx; resty-level retries stay disabled because the caller owns the retry
// loop and records every physical attempt.
func (rc *RestyClient) Do(ctx context.Context, method, url string, headers map[string]string, body string) (*BaseResponse, error) {
	req := rc.client.R().SetContext(ctx)

	if headers != nil {
		req.SetHeaders(headers)
	}
	if body != "" {
		req.SetBody(body)
	}

	var resp *resty.Response
	var err error

	switch method {
	case http.MethodGet:
		resp, err = req.Get(url)
	case http.MethodPost:
		resp, err = req.Post(url)
	case http.MethodPut:
		resp, err = req.Put(url)
	case http.MethodPatch:
		resp, err = req.Patch(url)
	case http.MethodDelete:
		resp, err = req.Delete(url)
	default:
		return nil, fmt.Errorf("unsupported http method: %s", method)
	}

	if err != nil {
		return nil, err
	}

	return &BaseResponse{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Headers:    resp.Header(),
	}, nil
}
