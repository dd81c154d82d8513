package common

const (
	KEY_LOG_HOOK_SEND_ALERT = "send_alert"
)

// Trigger-time template variables bound by the orchestrator before a job's
// stored parameters are handed to the proxy caller.
const (
	VAR_EXECUTION_ID = "executionId"
	VAR_JOB_CODE     = "jobCode"
)

const (
	REASON_MAX_RETRY_EXCEEDED = "MAX_RETRY_EXCEEDED"
	REASON_LOCK_LOST          = "BATCH_LOCK_LOST"
)
