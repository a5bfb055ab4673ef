package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/possync/cmd/possync/cli"
	"github.com/odyssey-erp/possync/internal/app"
	"github.com/odyssey-erp/possync/internal/feed"
	"github.com/odyssey-erp/possync/internal/observability"
	"github.com/odyssey-erp/possync/internal/platform/cache"
	"github.com/odyssey-erp/possync/internal/platform/db"
	"github.com/odyssey-erp/possync/internal/possync"
	"github.com/odyssey-erp/possync/jobs"
)

const usage = `usage: possync <command> [flags]

commands:
  serve                          run the webhook and metrics server
  sync   -profile N              fetch the POS snapshot and reconcile one tenant
  ingest -profile N -file PATH   ingest receipts from a JSON file ({"receipts":[...]})
  jobs   trigger|stats|cron|retry enqueue or inspect background jobs
`

type runtime struct {
	cfg    *app.Config
	logger *slog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
}

func (rt *runtime) close() {
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			rt.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

func (rt *runtime) service() *possync.Service {
	return possync.NewService(possync.NewRepository(rt.pool), rt.logger, rt.cfg.ServiceConfig())
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "serve":
		err = withRuntime(ctx, cfg, logger, func(rt *runtime) error { return serve(ctx, stop, rt) })
	case "sync":
		err = withRuntime(ctx, cfg, logger, func(rt *runtime) error { return syncOnce(ctx, rt, args) })
	case "ingest":
		err = withRuntime(ctx, cfg, logger, func(rt *runtime) error { return ingestFile(ctx, rt, args) })
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(cmd+" failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func withRuntime(ctx context.Context, cfg *app.Config, logger *slog.Logger, fn func(*runtime) error) error {
	pool, err := db.New(ctx, cfg.DBOptions())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, pool: pool}
	defer rt.close()

	if err := possync.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	rt.redis, err = cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	return fn(rt)
}

func serve(ctx context.Context, stop context.CancelFunc, rt *runtime) error {
	cfg, logger := rt.cfg, rt.logger
	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		WebhookHandler: possync.NewHandler(rt.service(), logger).WithObserver(metrics),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func syncOnce(ctx context.Context, rt *runtime, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	profileID := fs.Int64("profile", 0, "tenant id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	feeds := app.NewFeedFactory(rt.cfg, feed.NewTokenStore(rt.redis), rt.logger)
	src, err := feeds(*profileID)
	if err != nil {
		return err
	}
	report, err := rt.service().RunCycle(ctx, *profileID, src.FetchSnapshot(ctx))
	if err != nil {
		return err
	}
	return printReport(report)
}

func ingestFile(ctx context.Context, rt *runtime, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	profileID := fs.Int64("profile", 0, "tenant id")
	path := fs.String("file", "", "path of a JSON document with a receipts array")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" {
		return errors.New("ingest: -file is required")
	}

	body, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("ingest: read file: %w", err)
	}
	var doc struct {
		Receipts []json.RawMessage `json:"receipts"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("ingest: decode file: %w", err)
	}
	receipts, rejected := feed.UnpackAll(feed.KindReceipts.Name, doc.Receipts, feed.UnpackReceipt)
	for _, rerr := range rejected {
		rt.logger.Warn("receipt rejected", slog.Any("error", rerr))
	}

	report, err := rt.service().IngestReceipts(ctx, *profileID, receipts)
	if err != nil {
		return err
	}
	return printReport(report)
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("jobs: expected trigger, stats, cron or retry")
	}
	c, err := cli.NewJobsCLI(cfg.AsynqRedis())
	if err != nil {
		return err
	}
	defer c.Close()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		name := fs.String("task", jobs.TaskSyncCycle, "task type")
		profile := fs.String("profile", jobs.ProfileAll, "tenant id or all")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		info, err := c.Trigger(ctx, *name, *profile)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d paused=%t\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived, stats.Paused)
	case "cron":
		entries, err := c.CronEntries(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s %s spec=%q next=%s\n", e.ID, e.Task.Type(), e.Spec, e.Next.Format(time.RFC3339))
		}
	case "retry":
		tasks, err := c.ListRetry(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s %s retried=%d/%d next=%s err=%s\n", t.ID, t.Type, t.Retried, t.MaxRetry, t.NextProcessAt.Format(time.RFC3339), t.LastErr)
		}
	default:
		return fmt.Errorf("jobs: unknown subcommand %s", args[0])
	}
	return nil
}

func printReport(report *possync.Report) error {
	out := struct {
		Summary  map[possync.Outcome]int `json:"summary"`
		Failures []string                `json:"failures,omitempty"`
	}{Summary: report.Summary()}
	for _, f := range report.Failures() {
		out.Failures = append(out.Failures, fmt.Sprintf("%s %s: %v", f.Entity, f.RemoteID, f.Err))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
