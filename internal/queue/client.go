package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/tenantkit/internal/config"
	"github.com/nikhilbhutani/tenantkit/internal/mail"
)

var ErrUnknownDemo = errors.New("invalid task type")

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Client struct {
	client    Enqueuer
	retention time.Duration
}

func NewClient(redisCfg config.RedisConfig, queueCfg config.QueueConfig) *Client {
	return NewClientWith(asynq.NewClient(RedisOpt(redisCfg)), queueCfg)
}

// NewClientWith wraps an existing enqueuer, e.g. a fake in tests.
func NewClientWith(e Enqueuer, queueCfg config.QueueConfig) *Client {
	return &Client{client: e, retention: queueCfg.ResultRetention}
}

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func (c *Client) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// EnqueueEmail schedules delivery of msg. Sending is retried by the worker;
// callers treat an enqueue failure as best-effort and never roll back.
func (c *Client) EnqueueEmail(ctx context.Context, msg mail.Message) error {
	_, err := c.enqueue(ctx, TypeEmailSend, msg,
		asynq.Queue(QueueCritical), asynq.MaxRetry(3), asynq.Timeout(30*time.Second))
	return err
}

type DemoTask struct {
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
}

// EnqueueDemo starts one of the demo tasks: add, text or long. Demo tasks
// are never retried and their results are kept for the retention window.
func (c *Client) EnqueueDemo(ctx context.Context, kind string) (*DemoTask, error) {
	k, ok := demoKinds[kind]
	if !ok {
		return nil, ErrUnknownDemo
	}

	info, err := c.enqueue(ctx, k.taskType, k.payload,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Timeout(k.timeout),
		asynq.Retention(c.retention),
	)
	if err != nil {
		return nil, err
	}
	return &DemoTask{TaskID: info.ID, TaskType: k.label}, nil
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return info, nil
}
