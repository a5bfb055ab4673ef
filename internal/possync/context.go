package possync

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RunContext is the state of one reconciliation or ingestion run for one
// tenant. It is created per run and never shared between runs.
type RunContext struct {
	RunID     string
	ProfileID int64
	StartedAt time.Time
	Logger    *slog.Logger
	Report    *Report
}

// NewRunContext builds a RunContext for profileID.
func NewRunContext(profileID int64, logger *slog.Logger, now time.Time) *RunContext {
	if logger == nil {
		logger = slog.Default()
	}
	runID := uuid.NewString()
	return &RunContext{
		RunID:     runID,
		ProfileID: profileID,
		StartedAt: now,
		Logger:    logger.With(slog.Int64("profile_id", profileID), slog.String("run_id", runID)),
		Report:    &Report{},
	}
}

func (rc *RunContext) fail(entity, remoteID, msg string, err error) {
	rc.Logger.Error(msg, slog.String("entity", entity), slog.String("remote_id", remoteID), slog.Any("error", err))
	rc.Report.Record(entity, remoteID, OutcomeFailed, err)
}
