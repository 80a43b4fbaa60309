package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

type HandlersRegistry struct {
	mux *asynq.ServeMux
}

func NewHandlersRegistry() *HandlersRegistry {
	mux := asynq.NewServeMux()
	mux.Use(logTasks)
	return &HandlersRegistry{mux: mux}
}

func (r *HandlersRegistry) Register(taskType string, handler asynq.Handler) {
	r.mux.Handle(taskType, handler)
}

func (r *HandlersRegistry) Mux() *asynq.ServeMux {
	return r.mux
}

func logTasks(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		id, _ := asynq.GetTaskID(ctx)
		start := time.Now()

		err := next.ProcessTask(ctx, t)

		attrs := []any{"task_id", id, "type", t.Type(), "duration_ms", time.Since(start).Milliseconds()}
		if err != nil {
			slog.ErrorContext(ctx, "task failed", append(attrs, "error", err)...)
			return err
		}
		slog.InfoContext(ctx, "task done", attrs...)
		return nil
	})
}
