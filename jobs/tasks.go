// Package jobs contains background task definitions and the Asynq worker.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeDeadlineScan flags payments sitting past their stage deadline.
	TaskTypeDeadlineScan = "payments:deadline_scan"
	// TaskTypeIdempotencyCleanup prunes old idempotency keys.
	TaskTypeIdempotencyCleanup = "idempotency:cleanup"
	// TaskTypeTokenCleanup voids verification tokens past their lifetime.
	TaskTypeTokenCleanup = "payments:token_cleanup"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// DeadlineScanPayload bounds one scan run. AsOf defaults to now.
type DeadlineScanPayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewDeadlineScanTask constructs a deadline scan task.
func NewDeadlineScanTask(payload DeadlineScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDeadlineScan, data), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeIdempotencyCleanup, nil)
}

// NewTokenCleanupTask constructs a token cleanup task.
func NewTokenCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeTokenCleanup, nil)
}
