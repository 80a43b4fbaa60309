package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/tenantkit/internal/queue"
)

// DemoWorker runs the toy tasks of the job demo. Delays only simulate work.
type DemoWorker struct {
	addDelay  time.Duration
	textDelay time.Duration
	longStep  time.Duration
}

func NewDemoWorker() *DemoWorker {
	return &DemoWorker{
		addDelay:  5 * time.Second,
		textDelay: 3 * time.Second,
		longStep:  2 * time.Second,
	}
}

func (w *DemoWorker) Add(ctx context.Context, t *asynq.Task) error {
	var p queue.DemoAddPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := sleep(ctx, w.addDelay); err != nil {
		return err
	}
	return writeResult(t, p.X+p.Y)
}

func (w *DemoWorker) Text(ctx context.Context, t *asynq.Task) error {
	var p queue.DemoTextPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := sleep(ctx, w.textDelay); err != nil {
		return err
	}
	return writeResult(t, strings.ToUpper(p.Text))
}

// Long reports {current, total} after every step and finishes with a
// message.
func (w *DemoWorker) Long(ctx context.Context, t *asynq.Task) error {
	var p queue.DemoLongPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	for i := 0; i < p.Steps; i++ {
		if err := sleep(ctx, w.longStep); err != nil {
			return err
		}
		if err := writeResult(t, queue.DemoProgress{Current: i + 1, Total: p.Steps}); err != nil {
			return err
		}
	}

	slog.InfoContext(ctx, "long demo finished", "steps", p.Steps)
	return writeResult(t, "Task completed successfully")
}

func (w *DemoWorker) Register(r *queue.HandlersRegistry) {
	r.Register(queue.TypeDemoAdd, asynq.HandlerFunc(w.Add))
	r.Register(queue.TypeDemoText, asynq.HandlerFunc(w.Text))
	r.Register(queue.TypeDemoLong, asynq.HandlerFunc(w.Long))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// writeResult stores v as the task result. Tasks built outside a worker
// server have no result writer; the value is dropped then.
func writeResult(t *asynq.Task, v any) error {
	rw := t.ResultWriter()
	if rw == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if _, err := rw.Write(data); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
