package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/dto"
	"github.com/0bliviat3/my-framework-core-back-end-sub001/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedExecution(jobCode string, endedAgo time.Duration) *model.BatchExecution {
	return &model.BatchExecution{
		ExecutionID: uuid.NewString(),
		JobCode:     jobCode,
		Status:      model.StatusFail,
		EndTime:     sql.NullTime{Time: time.Now().Add(-endedAgo), Valid: true},
	}
}

func TestSweepResumesLostRetries(t *testing.T) {
	job := testJob("J1", 2)
	jobs := newFakeJobRepo(job)
	execs := newFakeExecRepo(jobs)
	orch := &recordingOrchestrator{}
	sweeper := NewRetrySweeper(testConfig(), testLogger(), jobs, execs, &fakeHistoryRepo{}, orch)

	lost := failedExecution("J1", time.Hour)
	require.NoError(t, execs.Create(context.Background(), lost))

	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.Equal(t, []string{lost.ExecutionID}, orch.resumedIDs())
}

func TestSweepRespectsGracePeriod(t *testing.T) {
	// The retry timer still has a fair chance to fire, so the sweeper must
	// leave a recent failure alone.
	job := testJob("J1", 2)
	job.RetryIntervalSeconds = 60
	jobs := newFakeJobRepo(job)
	execs := newFakeExecRepo(jobs)
	orch := &recordingOrchestrator{}
	sweeper := NewRetrySweeper(testConfig(), testLogger(), jobs, execs, &fakeHistoryRepo{}, orch)

	recent := failedExecution("J1", time.Second)
	require.NoError(t, execs.Create(context.Background(), recent))

	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.Empty(t, orch.resumedIDs())
}

func TestSweepIgnoresExhaustedAndSucceededChains(t *testing.T) {
	job := testJob("J1", 1)
	jobs := newFakeJobRepo(job)
	execs := newFakeExecRepo(jobs)
	orch := &recordingOrchestrator{}
	sweeper := NewRetrySweeper(testConfig(), testLogger(), jobs, execs, &fakeHistoryRepo{}, orch)

	exhausted := failedExecution("J1", time.Hour)
	exhausted.RetryCount = 1

	succeededHead := failedExecution("J1", time.Hour)
	succeededChild := &model.BatchExecution{
		ExecutionID:         uuid.NewString(),
		JobCode:             "J1",
		Status:              model.StatusSuccess,
		RetryCount:          1,
		OriginalExecutionID: sql.NullString{String: succeededHead.ExecutionID, Valid: true},
	}

	require.NoError(t, execs.Create(context.Background(), exhausted))
	require.NoError(t, execs.Create(context.Background(), succeededHead))
	require.NoError(t, execs.Create(context.Background(), succeededChild))

	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.Empty(t, orch.resumedIDs())
}

func TestSweepSkipsPermanentFailures(t *testing.T) {
	// Chains that ended for a permanent reason stay closed even though the
	// rows look like ordinary failures with remaining budget.
	job := testJob("J1", 2)
	jobs := newFakeJobRepo(job)
	execs := newFakeExecRepo(jobs)
	orch := &recordingOrchestrator{}
	sweeper := NewRetrySweeper(testConfig(), testLogger(), jobs, execs, &fakeHistoryRepo{}, orch)

	missingParam := failedExecution("J1", time.Hour)
	missingParam.ErrorCode = sql.NullString{String: string(dto.ErrCodeMissingRequiredParameter), Valid: true}
	rejected := failedExecution("J1", time.Hour)
	rejected.ErrorCode = sql.NullString{String: string(dto.ErrCodeProxyClientError), Valid: true}

	require.NoError(t, execs.Create(context.Background(), missingParam))
	require.NoError(t, execs.Create(context.Background(), rejected))

	require.NoError(t, sweeper.Sweep(context.Background()))

	assert.Empty(t, orch.resumedIDs())
}

func TestSweepIsIdempotentAcrossPasses(t *testing.T) {
	// End to end with the real orchestrator: a second sweep after the chain
	// gained its retry child creates nothing new.
	env := newOrchestratorEnv(testJob("J1", 2), successCall())
	sweeper := NewRetrySweeper(testConfig(), testLogger(), env.jobs, env.execs, &fakeHistoryRepo{}, env.orch)

	lost := failedExecution("J1", time.Hour)
	require.NoError(t, env.execs.Create(context.Background(), lost))

	require.NoError(t, sweeper.Sweep(context.Background()))
	require.Equal(t, 2, env.execs.count())

	child := env.execs.retryChild(lost.ExecutionID, 1)
	require.NotNil(t, child)
	assert.Equal(t, model.StatusSuccess, child.Status)
	assert.Equal(t, model.TriggerRetry, child.TriggerType)

	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Equal(t, 2, env.execs.count(), "re-sweeping a closed chain is a no-op")
}
