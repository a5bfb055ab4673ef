package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/possync/internal/feed"
	jobmetrics "github.com/odyssey-erp/possync/internal/jobs"
	"github.com/odyssey-erp/possync/internal/possync"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CycleService runs sync cycles.
type CycleService interface {
	Profiles(ctx context.Context) ([]possync.Profile, error)
	RunCycle(ctx context.Context, profileID int64, snap feed.Snapshot) (*possync.Report, error)
}

// SyncCycleJob fetches a snapshot per tenant and reconciles it.
type SyncCycleJob struct {
	Service CycleService
	Feeds   FeedFactory
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSyncCycleJob constructs the job handler.
func NewSyncCycleJob(service CycleService, feeds FeedFactory, logger *slog.Logger, metrics *jobmetrics.Metrics) *SyncCycleJob {
	return &SyncCycleJob{
		Service: service,
		Feeds:   feeds,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the sync cycle for the tenants named by the payload. A
// failing tenant does not stop the others.
func (j *SyncCycleJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil || j.Feeds == nil {
		return errors.New("sync cycle: dependencies not configured")
	}
	payload, err := decodeProfilePayload(task)
	if err != nil {
		return fmt.Errorf("sync cycle: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskSyncCycle)
	profiles, err := resolveProfiles(ctx, payload.Profile, profileIDs(j.Service.Profiles))
	if err != nil {
		j.log().Error("resolve profiles", slog.String("profile", payload.Profile), slog.Any("error", err))
		return tracker.End(err)
	}
	if len(profiles) == 0 {
		j.log().Info("no sync-enabled profiles")
		return tracker.End(nil)
	}

	start := j.now()
	var errs []error
	for _, profileID := range profiles {
		if err := j.runProfile(ctx, profileID); err != nil {
			j.log().Error("sync cycle failed", slog.Int64("profile_id", profileID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("profile %d: %w", profileID, err))
		}
	}
	j.log().Info("sync cycle completed", slog.Int("profiles", len(profiles)), slog.Int("failed", len(errs)), slog.Duration("duration", j.now().Sub(start)))
	return tracker.End(errors.Join(errs...))
}

func (j *SyncCycleJob) runProfile(ctx context.Context, profileID int64) error {
	src, err := j.Feeds(profileID)
	if err != nil {
		return err
	}
	snap := src.FetchSnapshot(ctx)
	report, err := j.Service.RunCycle(ctx, profileID, snap)
	if report != nil {
		j.metrics().AddOutcomes(TaskSyncCycle, outcomeCounts(report))
	}
	return err
}

func (j *SyncCycleJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SyncCycleJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSyncCycle))
	}
	return slog.Default().With(slog.String("job", TaskSyncCycle))
}

func (j *SyncCycleJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *SyncCycleJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

func profileIDs(list func(context.Context) ([]possync.Profile, error)) func(context.Context) ([]int64, error) {
	return func(ctx context.Context) ([]int64, error) {
		profiles, err := list(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(profiles))
		for _, p := range profiles {
			ids = append(ids, p.ID)
		}
		return ids, nil
	}
}

func outcomeCounts(report *possync.Report) map[string]int {
	out := make(map[string]int)
	for outcome, n := range report.Summary() {
		out[string(outcome)] = n
	}
	return out
}
