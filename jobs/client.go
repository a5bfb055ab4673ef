package jobs

import (
	"context"

	"github.com/hibiken/asynq"
)

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueSyncCycle enqueues a sync cycle for profile ("all" or a tenant id).
// A cycle for the same scope already waiting in the queue is not duplicated.
func (c *Client) EnqueueSyncCycle(ctx context.Context, profile string) (*asynq.TaskInfo, error) {
	task, err := NewSyncCycleTask(profile)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

// EnqueueReceiptPull enqueues a receipt pull for profile ("all" or a tenant id).
func (c *Client) EnqueueReceiptPull(ctx context.Context, profile string) (*asynq.TaskInfo, error) {
	task, err := NewReceiptPullTask(profile)
	if err != nil {
		return nil, err
	}
	return c.enqueue(ctx, task)
}

func (c *Client) enqueue(ctx context.Context, task *asynq.Task) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Unique(UniqueWindow))
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
