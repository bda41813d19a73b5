// Package jobs runs background work for the gateway over Asynq: periodic
// revalidation of the persisted session against the identity provider.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-gw/meridian-gw/internal/authority"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeRevalidateSession re-checks the persisted session's grants
	// against the identity provider.
	TaskTypeRevalidateSession = "authority:revalidate"
)

// RevalidateSessionPayload carries scheduling metadata.
type RevalidateSessionPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewRevalidateSessionTask constructs the revalidation task.
func NewRevalidateSessionTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(RevalidateSessionPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRevalidateSession, body, asynq.Queue(QueueDefault)), nil
}

// NewRevalidateSessionHandler binds the revalidation task to the authority
// service. Transport failures return an error so Asynq retries; a rejected
// session is torn down inside the service and is not retried.
func NewRevalidateSessionHandler(svc *authority.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RevalidateSessionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if err := svc.RevalidatePersisted(ctx); err != nil {
			logger.Warn("session revalidation", slog.Any("error", err))
			return err
		}
		return nil
	}
}
