package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/config"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/repository"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/httpclient"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/ratelimit"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/template"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// CallOutcome is the aggregate result of one templated call, covering all
// physical attempts the retry loop made.
type CallOutcome struct {
	StatusCode   int
	Body         string
	Success      bool
	ErrorMessage string
	Attempts     int
}

type ProxyCaller interface {
	Execute(ctx context.Context, def *model.ProxyCall, params map[string]string, executionID string) (*CallOutcome, error)
}

type proxyCaller struct {
	cfg         *config.Config
	log         *logger.Logger
	client      httpclient.HTTPClient
	historyRepo repository.ProxyCallHistoryRepository
	limiters    *ratelimit.LimiterStore
}

func NewProxyCaller(
	cfg *config.Config,
	log *logger.Logger,
	client httpclient.HTTPClient,
	historyRepo repository.ProxyCallHistoryRepository,
) ProxyCaller {
	return &proxyCaller{
		cfg:         cfg,
		log:         log,
		client:      client,
		historyRepo: historyRepo,
		limiters:    ratelimit.NewLimiterStore(rate.Limit(cfg.Proxy.MaxRequestPerSecond), cfg.Proxy.MaxRequestPerSecond),
	}
}

// Execute renders the call definition against params and runs the retry loop:
// up to RetryCount+1 attempts, retrying only on transport failure, timeout or
// 5xx. A 4xx response is final. Every physical attempt is recorded before
// returning.
func (p *proxyCaller) Execute(ctx context.Context, def *model.ProxyCall, params map[string]string, executionID string) (*CallOutcome, error) {
	reqURL, headers, body, err := p.render(def, params)
	if err != nil {
		var missing *template.MissingParameterError
		if errors.As(err, &missing) {
			return nil, dto.NewCodedError(dto.ErrCodeMissingRequiredParameter, missing.Error())
		}
		return nil, err
	}

	host := reqURL
	if parsed, parseErr := url.Parse(reqURL); parseErr == nil {
		host = parsed.Host
	}

	maxAttempts := def.RetryCount + 1
	outcome := &CallOutcome{}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := p.limiters.GetLimiter(host).Wait(ctx); err != nil {
			outcome.ErrorMessage = err.Error()
			return outcome, nil
		}

		resp, attemptErr := p.doAttempt(ctx, def, reqURL, headers, body, executionID, attempt)
		outcome.Attempts = attempt

		if attemptErr == nil && resp.StatusCode < 400 {
			outcome.StatusCode = resp.StatusCode
			outcome.Body = utils.Truncate(string(resp.Body), p.cfg.Proxy.ResponseBodyMaxLen)
			outcome.Success = true
			return outcome, nil
		}

		if attemptErr != nil {
			outcome.StatusCode = 0
			outcome.Body = ""
			outcome.ErrorMessage = attemptErr.Error()
		} else {
			outcome.StatusCode = resp.StatusCode
			outcome.Body = utils.Truncate(string(resp.Body), p.cfg.Proxy.ResponseBodyMaxLen)
			outcome.ErrorMessage = fmt.Sprintf("http status %d", resp.StatusCode)

			// 4xx is a permanent error, retrying cannot help.
			if resp.StatusCode < 500 {
				return outcome, nil
			}
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				outcome.ErrorMessage = ctx.Err().Error()
				return outcome, nil
			case <-time.After(time.Duration(def.RetryIntervalMs) * time.Millisecond):
			}
		}
	}

	return outcome, nil
}

func (p *proxyCaller) render(def *model.ProxyCall, params map[string]string) (string, map[string]string, string, error) {
	reqURL, err := template.Render(def.URLTemplate, params)
	if err != nil {
		return "", nil, "", err
	}

	var headerTpl map[string]string
	if len(def.HeaderTemplate) > 0 {
		if err := json.Unmarshal(def.HeaderTemplate, &headerTpl); err != nil {
			return "", nil, "", fmt.Errorf("invalid header template for call %s: %w", def.CallCode, err)
		}
	}
	headers, err := template.RenderMap(headerTpl, params)
	if err != nil {
		return "", nil, "", err
	}

	body, err := template.Render(def.BodyTemplate, params)
	if err != nil {
		return "", nil, "", err
	}

	return reqURL, headers, body, nil
}

// doAttempt performs one physical HTTP call and appends its history row.
// History is written with an uncancelled context so a timed-out attempt is
// still recorded.
func (p *proxyCaller) doAttempt(ctx context.Context, def *model.ProxyCall, reqURL string, headers map[string]string, body, executionID string, attempt int) (*httpclient.BaseResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(def.TimeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := p.client.Do(attemptCtx, def.Method, reqURL, headers, body)
	latency := time.Since(start)

	history := &model.ProxyCallHistory{
		ID:          uuid.NewString(),
		CallCode:    def.CallCode,
		ExecutionID: executionID,
		Attempt:     attempt,
		RequestURL:  reqURL,
		RequestBody: body,
		LatencyMs:   latency.Milliseconds(),
	}
	if err != nil {
		history.ErrorMessage = sql.NullString{String: utils.Truncate(err.Error(), p.cfg.Proxy.ResponseBodyMaxLen), Valid: true}
	} else {
		history.ResponseStatus = sql.NullInt32{Int32: int32(resp.StatusCode), Valid: true}
		history.ResponseBody = sql.NullString{String: utils.Truncate(string(resp.Body), p.cfg.Proxy.ResponseBodyMaxLen), Valid: true}
		history.Success = resp.StatusCode < 400
	}

	if histErr := p.historyRepo.Create(context.WithoutCancel(ctx), history); histErr != nil {
		p.log.ErrorContext(ctx, "Failed to record proxy call history",
			logger.ErrorField(histErr),
			logger.StringField("call_code", def.CallCode),
			logger.StringField("execution_id", executionID),
		)
	}

	return resp, err
}
