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

// ReceiptService ingests receipts.
type ReceiptService interface {
	Profiles(ctx context.Context) ([]possync.Profile, error)
	IngestReceipts(ctx context.Context, profileID int64, receipts []feed.ReceiptRecord) (*possync.Report, error)
}

// Checkpoints remembers the newest receipt date ingested per tenant.
type Checkpoints interface {
	Last(ctx context.Context, profileID int64) (time.Time, error)
	Advance(ctx context.Context, profileID int64, at time.Time) error
}

// ReceiptPullJob pulls receipts published since the tenant checkpoint.
type ReceiptPullJob struct {
	Service     ReceiptService
	Feeds       FeedFactory
	Checkpoints Checkpoints
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewReceiptPullJob constructs the job handler.
func NewReceiptPullJob(service ReceiptService, feeds FeedFactory, checkpoints Checkpoints, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReceiptPullJob {
	return &ReceiptPullJob{Service: service, Feeds: feeds, Checkpoints: checkpoints, Logger: logger, Metrics: metrics}
}

// Handle pulls and ingests receipts for the tenants named by the payload.
func (j *ReceiptPullJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil || j.Feeds == nil || j.Checkpoints == nil {
		return errors.New("receipt pull: dependencies not configured")
	}
	payload, err := decodeProfilePayload(task)
	if err != nil {
		return fmt.Errorf("receipt pull: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskReceiptPull)
	profiles, err := resolveProfiles(ctx, payload.Profile, profileIDs(j.Service.Profiles))
	if err != nil {
		j.log().Error("resolve profiles", slog.String("profile", payload.Profile), slog.Any("error", err))
		return tracker.End(err)
	}

	var errs []error
	for _, profileID := range profiles {
		if err := j.pullProfile(ctx, profileID); err != nil {
			j.log().Error("receipt pull failed", slog.Int64("profile_id", profileID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("profile %d: %w", profileID, err))
		}
	}
	return tracker.End(errors.Join(errs...))
}

func (j *ReceiptPullJob) pullProfile(ctx context.Context, profileID int64) error {
	since, err := j.Checkpoints.Last(ctx, profileID)
	if err != nil {
		return err
	}
	src, err := j.Feeds(profileID)
	if err != nil {
		return err
	}
	receipts, rejected, err := src.FetchReceipts(ctx, since)
	if err != nil {
		return err
	}
	for _, rerr := range rejected {
		j.log().Warn("receipt rejected", slog.Int64("profile_id", profileID), slog.Any("error", rerr))
	}
	j.metrics().AddOutcomes(TaskReceiptPull, map[string]int{"rejected": len(rejected)})
	hold := earliestRejected(rejected)
	if len(receipts) == 0 {
		return nil
	}
	possync.SortReceipts(receipts)

	report, err := j.Service.IngestReceipts(ctx, profileID, receipts)
	if report != nil {
		j.metrics().AddOutcomes(TaskReceiptPull, outcomeCounts(report))
	}
	if err != nil {
		return err
	}

	next := checkpointAfter(receipts, report)
	if !hold.IsZero() && next.After(hold) {
		next = hold
	}
	if next.IsZero() {
		return nil
	}
	j.log().Info("receipts pulled", slog.Int64("profile_id", profileID), slog.Int("receipts", len(receipts)), slog.Time("checkpoint", next))
	if err := j.Checkpoints.Advance(ctx, profileID, next); err != nil {
		return err
	}
	j.metrics().SetCheckpoint(profileID, next)
	return nil
}

// checkpointAfter returns the date of the newest receipt that precedes the
// first failed one, so failed receipts are fetched again on the next pull.
func checkpointAfter(sorted []feed.ReceiptRecord, report *possync.Report) time.Time {
	failed := make(map[string]struct{})
	for _, f := range report.Failures() {
		if f.Entity == possync.EntityReceipt {
			failed[f.RemoteID] = struct{}{}
		}
	}
	var next time.Time
	for _, rec := range sorted {
		if _, ok := failed[rec.ReceiptNumber]; ok {
			break
		}
		next = rec.ReceiptDate
	}
	return next
}

// earliestRejected returns the oldest date among rejected receipts whose
// date could be read. Receipts with an unreadable date only count as
// rejected.
func earliestRejected(rejected []error) time.Time {
	var at time.Time
	for _, rerr := range rejected {
		var invalid *feed.InvalidReceiptError
		if !errors.As(rerr, &invalid) {
			continue
		}
		if at.IsZero() || invalid.ReceiptDate.Before(at) {
			at = invalid.ReceiptDate
		}
	}
	return at
}

func (j *ReceiptPullJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReceiptPullJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReceiptPull))
	}
	return slog.Default().With(slog.String("job", TaskReceiptPull))
}
