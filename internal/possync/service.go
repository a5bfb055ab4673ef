// Package possync reconciles a tenant's master data, catalog and stock with an
// external point-of-sale system and ingests its receipts exactly once.
package possync

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/odyssey-erp/possync/internal/feed"
)

// ServiceConfig groups engine settings.
type ServiceConfig struct {
	StockCutover         time.Time
	EmployeeRole         string
	SyntheticEmailDomain string
}

// Service runs sync cycles and receipt ingestion for one tenant at a time.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	master   *MasterDataReconciler
	catalog  *CatalogReconciler
	stock    *StockReconciler
	receipts *ReceiptPipeline
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		master: NewMasterDataReconciler(repo, MasterDataConfig{
			EmployeeRole:         cfg.EmployeeRole,
			SyntheticEmailDomain: cfg.SyntheticEmailDomain,
		}),
		catalog: NewCatalogReconciler(repo),
		stock:   NewStockReconciler(repo),
		receipts: NewReceiptPipeline(repo, ReceiptConfig{
			StockCutover:         cfg.StockCutover,
			SyntheticEmailDomain: cfg.SyntheticEmailDomain,
		}),
		now: time.Now,
	}
}

// Profiles returns the sync-enabled tenants.
func (s *Service) Profiles(ctx context.Context) ([]Profile, error) {
	profiles, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("possync: list profiles: %w", err)
	}
	out := profiles[:0]
	for _, p := range profiles {
		if p.SyncEnabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// RunCycle reconciles master data, then the catalog, then stock levels for
// profileID. Item-level failures end up in the report; the returned error is
// reserved for an invalid profile or a cancelled context.
func (s *Service) RunCycle(ctx context.Context, profileID int64, snap feed.Snapshot) (*Report, error) {
	if profileID <= 0 {
		return nil, ErrInvalidProfile
	}
	rc := NewRunContext(profileID, s.logger, s.now())
	for _, ferr := range snap.Errors {
		rc.fail(EntityFeed, "", "feed degraded", ferr)
	}

	s.master.Reconcile(ctx, rc, snap)
	if err := ctx.Err(); err != nil {
		return rc.Report, err
	}
	if err := s.catalog.Reconcile(ctx, rc, snap.Items); err != nil {
		rc.fail(EntityProduct, "", "catalog load failed", err)
	}
	if err := ctx.Err(); err != nil {
		return rc.Report, err
	}
	if err := s.stock.Reconcile(ctx, rc, snap.InventoryLevels); err != nil {
		rc.fail(EntityStockLevel, "", "stock load failed", err)
	}

	s.logDone(rc, "sync cycle finished")
	return rc.Report, ctx.Err()
}

// IngestReceipts ingests receipts for profileID in the order given.
func (s *Service) IngestReceipts(ctx context.Context, profileID int64, receipts []feed.ReceiptRecord) (*Report, error) {
	if profileID <= 0 {
		return nil, ErrInvalidProfile
	}
	rc := NewRunContext(profileID, s.logger, s.now())
	if err := s.receipts.Ingest(ctx, rc, receipts); err != nil {
		return rc.Report, fmt.Errorf("possync: ingest receipts: %w", err)
	}
	s.logDone(rc, "receipt ingestion finished")
	return rc.Report, nil
}

// SortReceipts orders receipts oldest first, keeping the feed order among
// receipts sharing a timestamp.
func SortReceipts(receipts []feed.ReceiptRecord) {
	sort.SliceStable(receipts, func(i, j int) bool {
		return receipts[i].ReceiptDate.Before(receipts[j].ReceiptDate)
	})
}

func (s *Service) logDone(rc *RunContext, msg string) {
	summary := rc.Report.Summary()
	rc.Logger.Info(msg,
		slog.Int("created", summary[OutcomeCreated]),
		slog.Int("updated", summary[OutcomeUpdated]),
		slog.Int("unchanged", summary[OutcomeUnchanged]),
		slog.Int("skipped", summary[OutcomeSkipped]),
		slog.Int("failed", summary[OutcomeFailed]),
		slog.Duration("elapsed", s.now().Sub(rc.StartedAt)),
	)
}
