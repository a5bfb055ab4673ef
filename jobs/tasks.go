package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/possync/internal/feed"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSyncCycle reconciles master data, catalog and stock of a tenant.
	TaskSyncCycle = "possync:cycle"
	// TaskReceiptPull ingests the receipts published since the last checkpoint.
	TaskReceiptPull = "possync:receipts"

	// ProfileAll selects every sync-enabled tenant.
	ProfileAll = "all"
)

// ProfilePayload scopes a task to one tenant or to all of them.
type ProfilePayload struct {
	Profile string `json:"profile"`
}

// FeedSource is the per-tenant view of the POS API used by jobs.
type FeedSource interface {
	FetchSnapshot(ctx context.Context) feed.Snapshot
	FetchReceipts(ctx context.Context, since time.Time) ([]feed.ReceiptRecord, []error, error)
}

// FeedFactory builds the FeedSource of a tenant.
type FeedFactory func(profileID int64) (FeedSource, error)

// NewSyncCycleTask builds a TaskSyncCycle task. An empty profile means all tenants.
func NewSyncCycleTask(profile string) (*asynq.Task, error) {
	return newProfileTask(TaskSyncCycle, profile)
}

// NewReceiptPullTask builds a TaskReceiptPull task. An empty profile means all tenants.
func NewReceiptPullTask(profile string) (*asynq.Task, error) {
	return newProfileTask(TaskReceiptPull, profile)
}

func newProfileTask(taskType, profile string) (*asynq.Task, error) {
	if profile == "" {
		profile = ProfileAll
	}
	body, err := json.Marshal(ProfilePayload{Profile: profile})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

func decodeProfilePayload(task *asynq.Task) (ProfilePayload, error) {
	var payload ProfilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProfilePayload{}, err
	}
	if payload.Profile == "" {
		payload.Profile = ProfileAll
	}
	return payload, nil
}

// resolveProfiles expands a payload profile into tenant ids.
func resolveProfiles(ctx context.Context, profile string, list func(context.Context) ([]int64, error)) ([]int64, error) {
	if profile == "" || profile == ProfileAll {
		return list(ctx)
	}
	id, err := strconv.ParseInt(profile, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid profile id %s", profile)
	}
	if id <= 0 {
		return nil, fmt.Errorf("profile id must be positive")
	}
	return []int64{id}, nil
}
