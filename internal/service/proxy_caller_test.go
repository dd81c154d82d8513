package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/httpclient"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newTestProxyCaller(client *fakeHTTPClient) (ProxyCaller, *fakeHistoryRepo) {
	history := &fakeHistoryRepo{}
	return NewProxyCaller(testConfig(), testLogger(), client, history), history
}

func ok200(body string) httpResponse {
	return httpResponse{resp: &httpclient.BaseResponse{StatusCode: 200, Body: []byte(body)}}
}

func status(code int) httpResponse {
	return httpResponse{resp: &httpclient.BaseResponse{StatusCode: code, Body: []byte("{}")}}
}

func transportErr(msg string) httpResponse {
	return httpResponse{err: errors.New(msg)}
}

func templatedCall(retryCount int) *model.ProxyCall {
	return &model.ProxyCall{
		CallCode:        "SYNC_USER",
		URLTemplate:     "https://api.example.com/users/${userId}/sync",
		Method:          "POST",
		HeaderTemplate:  datatypes.JSON(`{"Authorization":"Bearer ${token}","Content-Type":"application/json"}`),
		BodyTemplate:    `{"requestedBy":"${actor}"}`,
		TimeoutSeconds:  5,
		RetryCount:      retryCount,
		RetryIntervalMs: 0,
		Enabled:         true,
	}
}

func templateParams() map[string]string {
	return map[string]string{
		"userId": "42",
		"token":  "secret",
		"actor":  "ops",
	}
}

func TestExecuteRendersTemplates(t *testing.T) {
	client := &fakeHTTPClient{responses: []httpResponse{ok200(`{"ok":true}`)}}
	caller, history := newTestProxyCaller(client)

	outcome, err := caller.Execute(context.Background(), templatedCall(0), templateParams(), "e-1")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 200, outcome.StatusCode)
	assert.Equal(t, `{"ok":true}`, outcome.Body)
	assert.Equal(t, 1, outcome.Attempts)

	calls := client.callLog()
	require.Len(t, calls, 1)
	assert.Equal(t, "POST", calls[0].Method)
	assert.Equal(t, "https://api.example.com/users/42/sync", calls[0].URL)
	assert.Equal(t, "Bearer secret", calls[0].Headers["Authorization"])
	assert.Equal(t, `{"requestedBy":"ops"}`, calls[0].Body)

	rows := history.all()
	require.Len(t, rows, 1)
	assert.Equal(t, "SYNC_USER", rows[0].CallCode)
	assert.Equal(t, "e-1", rows[0].ExecutionID)
	assert.Equal(t, 1, rows[0].Attempt)
	assert.True(t, rows[0].Success)
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	client := &fakeHTTPClient{responses: []httpResponse{status(500), status(503), ok200(`done`)}}
	caller, history := newTestProxyCaller(client)

	outcome, err := caller.Execute(context.Background(), templatedCall(2), templateParams(), "e-2")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)

	rows := history.all()
	require.Len(t, rows, 3)
	assert.False(t, rows[0].Success)
	assert.False(t, rows[1].Success)
	assert.True(t, rows[2].Success)
}

func TestExecuteDoesNotRetryClientErrors(t *testing.T) {
	client := &fakeHTTPClient{responses: []httpResponse{status(404)}}
	caller, history := newTestProxyCaller(client)

	outcome, err := caller.Execute(context.Background(), templatedCall(3), templateParams(), "e-3")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, 404, outcome.StatusCode)
	assert.Equal(t, 1, outcome.Attempts, "4xx is final, the retry budget is not spent")
	assert.Contains(t, outcome.ErrorMessage, "http status 404")
	assert.Len(t, history.all(), 1)
}

func TestExecuteExhaustsRetriesOnTransportFailure(t *testing.T) {
	client := &fakeHTTPClient{responses: []httpResponse{transportErr("connection refused")}}
	caller, history := newTestProxyCaller(client)

	outcome, err := caller.Execute(context.Background(), templatedCall(2), templateParams(), "e-4")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Contains(t, outcome.ErrorMessage, "connection refused")

	rows := history.all()
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.False(t, row.Success)
		assert.Contains(t, row.ErrorMessage.String, "connection refused")
	}
}

func TestExecuteFailsFastOnMissingParameter(t *testing.T) {
	client := &fakeHTTPClient{responses: []httpResponse{ok200(`unused`)}}
	caller, history := newTestProxyCaller(client)

	_, err := caller.Execute(context.Background(), templatedCall(3), map[string]string{"token": "t", "actor": "a"}, "e-5")
	code, ok := dto.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, dto.ErrCodeMissingRequiredParameter, code)
	assert.Contains(t, err.Error(), "userId")

	assert.Empty(t, client.callLog(), "no network call before the template resolves")
	assert.Empty(t, history.all())
}

func TestExecuteTruncatesResponseBody(t *testing.T) {
	cfg := testConfig()
	long := strings.Repeat("x", cfg.Proxy.ResponseBodyMaxLen+500)
	client := &fakeHTTPClient{responses: []httpResponse{ok200(long)}}
	caller, _ := newTestProxyCaller(client)

	outcome, err := caller.Execute(context.Background(), templatedCall(0), templateParams(), "e-6")
	require.NoError(t, err)
	assert.Len(t, outcome.Body, cfg.Proxy.ResponseBodyMaxLen)
}
