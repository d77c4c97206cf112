package services

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// TaskEnqueuer is the part of *asynq.Client the services use.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// isDuplicateTask reports an enqueue rejected because the same task is already queued.
func isDuplicateTask(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}
