package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/tenantkit/internal/mail"
)

type EmailWorker struct {
	sender mail.Sender
}

func NewEmailWorker(sender mail.Sender) *EmailWorker {
	return &EmailWorker{sender: sender}
}

func (w *EmailWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var msg mail.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if msg.To == "" {
		return fmt.Errorf("email without recipient: %w", asynq.SkipRetry)
	}
	return w.sender.Send(ctx, msg)
}
