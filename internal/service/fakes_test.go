package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/config"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/httpclient"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/logger"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Scheduler: config.Scheduler{
			PollInterval:     10 * time.Millisecond,
			MaxConcurrency:   4,
			MisfireThreshold: time.Minute,
			LockTTLMargin:    time.Second,
			LockKeyPrefix:    "test:lock:",
			StackTraceMaxLen: 2000,
		},
		Sweeper: config.Sweeper{
			Interval:      10 * time.Millisecond,
			RetentionDays: 30,
		},
		Proxy: config.Proxy{
			MaxRequestPerSecond: 1000,
			ResponseBodyMaxLen:  1000,
		},
	}
}

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

type fakeJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]*model.BatchJob
	failClaim bool
}

func newFakeJobRepo(jobs ...*model.BatchJob) *fakeJobRepo {
	r := &fakeJobRepo{jobs: map[string]*model.BatchJob{}}
	for _, j := range jobs {
		r.jobs[j.JobCode] = j
	}
	return r
}

func (r *fakeJobRepo) GetByCode(ctx context.Context, jobCode string, opts ...utils.DBOption) (*model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobCode]
	if !ok {
		return nil, errors.New("record not found")
	}
	copied := *job
	return &copied, nil
}

func (r *fakeJobRepo) Get(ctx context.Context, param *model.GetBatchJobParam, opts ...utils.DBOption) ([]model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BatchJob
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (r *fakeJobRepo) FindDue(ctx context.Context, now time.Time, opts ...utils.DBOption) ([]model.BatchJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BatchJob
	for _, j := range r.jobs {
		if !j.Enabled {
			continue
		}
		if !j.NextExecutionAt.Valid || !j.NextExecutionAt.Time.After(now) {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) ClaimTick(ctx context.Context, jobCode string, due sql.NullTime, next sql.NullTime) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failClaim {
		return false, nil
	}
	job, ok := r.jobs[jobCode]
	if !ok {
		return false, nil
	}
	if job.NextExecutionAt.Valid != due.Valid {
		return false, nil
	}
	if due.Valid && !job.NextExecutionAt.Time.Equal(due.Time) {
		return false, nil
	}
	job.NextExecutionAt = next
	return true, nil
}

func (r *fakeJobRepo) UpdateLastRun(ctx context.Context, jobCode string, status model.ExecutionStatus, at time.Time, opts ...utils.DBOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobCode]; ok {
		job.LastExecutedAt = sql.NullTime{Time: at, Valid: true}
		job.LastExecutionStatus = sql.NullString{String: string(status), Valid: true}
	}
	return nil
}

func (r *fakeJobRepo) nextExecutionAt(jobCode string) sql.NullTime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[jobCode].NextExecutionAt
}

type fakeExecRepo struct {
	mu    sync.Mutex
	rows  map[string]*model.BatchExecution
	order []string
	jobs  *fakeJobRepo
}

func newFakeExecRepo(jobs *fakeJobRepo) *fakeExecRepo {
	return &fakeExecRepo{rows: map[string]*model.BatchExecution{}, jobs: jobs}
}

func (r *fakeExecRepo) Create(ctx context.Context, execution *model.BatchExecution, opts ...utils.DBOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *execution
	r.rows[execution.ExecutionID] = &copied
	r.order = append(r.order, execution.ExecutionID)
	return nil
}

func (r *fakeExecRepo) Update(ctx context.Context, execution *model.BatchExecution, opts ...utils.DBOption) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *execution
	r.rows[execution.ExecutionID] = &copied
	return nil
}

func (r *fakeExecRepo) FindByID(ctx context.Context, executionID string) (*model.BatchExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[executionID]
	if !ok {
		return nil, errors.New("record not found")
	}
	copied := *row
	return &copied, nil
}

func (r *fakeExecRepo) List(ctx context.Context, param *model.GetBatchExecutionParam) ([]model.BatchExecution, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BatchExecution
	for _, id := range r.order {
		row := r.rows[id]
		if param.JobCode != "" && row.JobCode != param.JobCode {
			continue
		}
		out = append(out, *row)
	}
	return out, int64(len(out)), nil
}

func (r *fakeExecRepo) Statistics(ctx context.Context, jobCode string) (*model.ExecutionStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &model.ExecutionStatistics{JobCode: jobCode}
	for _, row := range r.rows {
		if row.JobCode != jobCode {
			continue
		}
		stats.TotalCount++
		switch row.Status {
		case model.StatusSuccess:
			stats.SuccessCount++
		case model.StatusFail:
			stats.FailCount++
		case model.StatusTimeout:
			stats.TimeoutCount++
		}
	}
	return stats, nil
}

func (r *fakeExecRepo) ChainHasSuccess(ctx context.Context, chainHeadID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Status != model.StatusSuccess {
			continue
		}
		if row.ExecutionID == chainHeadID || (row.OriginalExecutionID.Valid && row.OriginalExecutionID.String == chainHeadID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeExecRepo) HasRetryChild(ctx context.Context, chainHeadID string, retryCount int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.OriginalExecutionID.Valid && row.OriginalExecutionID.String == chainHeadID && row.RetryCount == retryCount {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeExecRepo) FindRetryCandidates(ctx context.Context, limit int) ([]model.BatchExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.BatchExecution
	for _, id := range r.order {
		row := r.rows[id]
		if row.Status != model.StatusFail && row.Status != model.StatusTimeout {
			continue
		}
		if row.ErrorCode.Valid && dto.IsPermanent(dto.ErrorCode(row.ErrorCode.String)) {
			continue
		}
		job, ok := r.jobs.jobs[row.JobCode]
		if !ok || row.RetryCount >= job.MaxRetryCount {
			continue
		}
		head := row.ChainHeadID()
		eligible := true
		for _, other := range r.rows {
			childOfHead := other.OriginalExecutionID.Valid && other.OriginalExecutionID.String == head
			if childOfHead && other.RetryCount == row.RetryCount+1 {
				eligible = false
				break
			}
			if other.Status == model.StatusSuccess && (other.ExecutionID == head || childOfHead) {
				eligible = false
				break
			}
		}
		if eligible {
			out = append(out, *row)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeExecRepo) CountRunningByJob(ctx context.Context, jobCode string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, row := range r.rows {
		if row.JobCode == jobCode && row.Status == model.StatusRunning {
			count++
		}
	}
	return count, nil
}

func (r *fakeExecRepo) DeleteOlderThan(ctx context.Context, date time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, row := range r.rows {
		if row.Status.IsTerminal() && row.CreatedAt.Before(date) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *fakeExecRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func (r *fakeExecRepo) byID(executionID string) *model.BatchExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[executionID]
	if !ok {
		return nil
	}
	copied := *row
	return &copied
}

// retryChild returns the retry execution whose chain head is headID and whose
// retry count matches, or nil.
func (r *fakeExecRepo) retryChild(headID string, retryCount int) *model.BatchExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.OriginalExecutionID.Valid && row.OriginalExecutionID.String == headID && row.RetryCount == retryCount {
			copied := *row
			return &copied
		}
	}
	return nil
}

type fakeProxyCallRepo struct {
	mu   sync.Mutex
	defs map[string]*model.ProxyCall
}

func newFakeProxyCallRepo(defs ...*model.ProxyCall) *fakeProxyCallRepo {
	r := &fakeProxyCallRepo{defs: map[string]*model.ProxyCall{}}
	for _, d := range defs {
		r.defs[d.CallCode] = d
	}
	return r
}

func (r *fakeProxyCallRepo) Resolve(ctx context.Context, callCode string) (*model.ProxyCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.defs[callCode]
	if !ok {
		return nil, errors.New("proxy call not found")
	}
	copied := *def
	return &copied, nil
}

type fakeHistoryRepo struct {
	mu   sync.Mutex
	rows []model.ProxyCallHistory
}

func (r *fakeHistoryRepo) Create(ctx context.Context, history *model.ProxyCallHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *history)
	return nil
}

func (r *fakeHistoryRepo) ListByExecution(ctx context.Context, executionID string) ([]model.ProxyCallHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ProxyCallHistory
	for _, row := range r.rows {
		if row.ExecutionID == executionID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) DeleteOlderThan(ctx context.Context, date time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeHistoryRepo) all() []model.ProxyCallHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ProxyCallHistory, len(r.rows))
	copy(out, r.rows)
	return out
}

type fakeUow struct{}

func (fakeUow) Run(fn func(opts ...utils.DBOption) error) error {
	return fn()
}

// fakeLocker is an in-process Locker with real mutual exclusion semantics.
// loseLock simulates a TTL expiry mid-run: Owned reports false while the
// lock bookkeeping itself stays intact.
type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	loseLock bool
	acquires int
	releases int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: map[string]string{}}
}

func (l *fakeLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.held[key]; exists {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = token
	l.acquires++
	return token, true, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return false, nil
	}
	delete(l.held, key)
	l.releases++
	return true, nil
}

func (l *fakeLocker) Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key] == token, nil
}

func (l *fakeLocker) Owned(ctx context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loseLock {
		return false, nil
	}
	return l.held[key] == token, nil
}

func (l *fakeLocker) balanced() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires == l.releases && len(l.held) == 0
}

// stubProxyCaller scripts one outcome per call in order; the last entry
// repeats once the script runs out.
type stubProxyCaller struct {
	mu       sync.Mutex
	script   []stubCall
	calls    int
	delay    time.Duration
	lastArgs map[string]string
}

type stubCall struct {
	outcome *CallOutcome
	err     error
}

func (s *stubProxyCaller) Execute(ctx context.Context, def *model.ProxyCall, params map[string]string, executionID string) (*CallOutcome, error) {
	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	s.calls++
	s.lastArgs = params
	call := s.script[idx]
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return call.outcome, call.err
}

func (s *stubProxyCaller) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type httpCall struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// fakeHTTPClient scripts one response per physical attempt in order; the
// last entry repeats.
type fakeHTTPClient struct {
	mu        sync.Mutex
	responses []httpResponse
	calls     []httpCall
}

type httpResponse struct {
	resp *httpclient.BaseResponse
	err  error
}

func (c *fakeHTTPClient) Do(ctx context.Context, method, url string, headers map[string]string, body string) (*httpclient.BaseResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.calls)
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls = append(c.calls, httpCall{Method: method, URL: url, Headers: headers, Body: body})
	r := c.responses[idx]
	return r.resp, r.err
}

func (c *fakeHTTPClient) callLog() []httpCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]httpCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// recordingOrchestrator captures calls for scheduler and sweeper tests.
type recordingOrchestrator struct {
	mu      sync.Mutex
	runs    []string
	fails   []string
	resumes []string
}

func (o *recordingOrchestrator) Run(ctx context.Context, job *model.BatchJob, trigger model.TriggerType, actor string, overrides map[string]string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, job.JobCode)
	return uuid.NewString(), nil
}

func (o *recordingOrchestrator) Retry(ctx context.Context, executionID string, actor string) (string, error) {
	return uuid.NewString(), nil
}

func (o *recordingOrchestrator) ResumeChain(ctx context.Context, failed *model.BatchExecution) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resumes = append(o.resumes, failed.ExecutionID)
	return uuid.NewString(), nil
}

func (o *recordingOrchestrator) FailImmediately(ctx context.Context, job *model.BatchJob, trigger model.TriggerType, actor string, cause error) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fails = append(o.fails, job.JobCode)
	return uuid.NewString(), nil
}

func (o *recordingOrchestrator) runCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.runs)
}

func (o *recordingOrchestrator) failCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.fails)
}

func (o *recordingOrchestrator) resumedIDs() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.resumes))
	copy(out, o.resumes)
	return out
}
