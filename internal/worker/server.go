package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"points-service/internal/consumers"
	"points-service/internal/tasks"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

type Worker struct {
	Processor *consumers.Processor
}

func NewWorker(processor *consumers.Processor) *Worker {
	return &Worker{
		Processor: processor,
	}
}

func (w *Worker) HandleReconciliationAlert(ctx context.Context, t *asynq.Task) error {
	var p tasks.ReconciliationAlertPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessReconciliationAlert(ctx, p)
}

func (w *Worker) HandleVerifyPurchase(ctx context.Context, t *asynq.Task) error {
	var p tasks.VerifyPurchasePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return w.Processor.ProcessVerifyPurchase(ctx, p)
}

// NewServeMux registers every task handler.
func NewServeMux(processor *consumers.Processor) *asynq.ServeMux {
	worker := NewWorker(processor)
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeReconciliationAlert, worker.HandleReconciliationAlert)
	mux.HandleFunc(tasks.TypeVerifyPurchase, worker.HandleVerifyPurchase)
	return mux
}

func StartWorker(redisOpt asynq.RedisClientOpt, processor *consumers.Processor, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				tasks.QueueCritical: 6,
				tasks.QueueDefault:  3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				log.WithFields(log.Fields{
					"type":      task.Type(),
					"retried":   retried,
					"max_retry": maxRetry,
				}).WithError(err).Warn("task failed")
			}),
		},
	)

	log.Info("starting asynq worker")
	return srv.Run(NewServeMux(processor))
}
