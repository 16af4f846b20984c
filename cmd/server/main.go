package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/0xPuncker/export-mailer/internal/api"
	"github.com/0xPuncker/export-mailer/internal/config"
	"github.com/0xPuncker/export-mailer/internal/cron"
	"github.com/0xPuncker/export-mailer/internal/dispatch"
	"github.com/0xPuncker/export-mailer/internal/executor"
	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/0xPuncker/export-mailer/internal/notifications"
	"github.com/0xPuncker/export-mailer/internal/poller"
	"github.com/0xPuncker/export-mailer/internal/queue"
	"github.com/0xPuncker/export-mailer/internal/reconcile"
	"github.com/0xPuncker/export-mailer/internal/report"
	"github.com/0xPuncker/export-mailer/internal/schedule"
	"github.com/0xPuncker/export-mailer/internal/script"
	"github.com/dimiro1/banner"
	_ "github.com/lib/pq"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

const bannerText = `
{{ .Title "Export Mailer" "" 0 }}
{{ .AnsiBackground.BrightBlue }}{{ .AnsiColor.White }}
{{ .AnsiReset }}
`

const reconcileJobName = "reconcile_export_jobs"

func main() {
	banner.Init(colorable.NewColorableStdout(), true, true, strings.NewReader(bannerText))

	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05-07:00",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Invalid log level %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	source := jobs.NewSource(db, cfg.Database.JobTable, logger)

	store, err := newScheduleStore(ctx, cfg, db, logger)
	if err != nil {
		logger.Fatalf("Failed to set up schedule store: %v", err)
	}

	runner, err := newScriptRunner(cfg.Script, logger)
	if err != nil {
		logger.Fatalf("Failed to set up script runner: %v", err)
	}

	alerts := notifications.NewNotificationService(notifications.NewSlackService(cfg.Slack.WebhookURL, logger))
	if !alerts.Enabled() {
		logger.Warn("SLACK_WEBHOOK_URL not set, job alerts disabled")
	}

	mailer := notifications.NewMailer(notifications.NewSMTPSender(cfg.SMTP), cfg.SMTP.From, logger)
	pipeline := report.NewPipeline(db, cfg.Report.OutputDir, logger)

	exec := executor.New(
		source,
		pipeline,
		mailer,
		runner,
		executor.NewFiringLedger(cfg.Dedup.TTL),
		logger,
	).WithAlerts(alerts)

	// The broker needs the reconcile job and the reconcile job needs the
	// scheduler, which needs the dispatcher, which needs the broker.
	var reconcileJob *cron.ReconcileJob
	handle := func(ctx context.Context, req queue.Request) error {
		if req.Task == cron.ReconcileTask {
			_, err := reconcileJob.RunContext(ctx)
			return err
		}
		return exec.Handle(ctx, req)
	}

	broker := queue.NewBroker(logger, handle, laneConfigs(cfg.Queues))
	dispatcher := dispatch.NewDispatcher(broker, logger)
	scheduler := cron.NewScheduler(logger, store, dispatcher, 10)

	reconcileJob = cron.NewReconcileJob(source, reconcile.NewReconciler(store, logger), scheduler, logger).
		WithNotifier(alerts)

	scheduler.RegisterTask(cron.ReconcileTask, func() error {
		_, err := broker.Enqueue(ctx, cfg.Reconcile.Queue, queue.Request{Task: cron.ReconcileTask})
		return err
	})
	if err := scheduler.AddTask(reconcileJobName, cfg.Reconcile.Schedule, cron.ReconcileTask,
		"Sync export job definitions into schedule entries"); err != nil {
		logger.Fatalf("Failed to schedule reconcile: %v", err)
	}

	if err := broker.Start(ctx); err != nil {
		logger.Fatalf("Failed to start queue broker: %v", err)
	}
	if _, err := broker.Enqueue(ctx, cfg.Reconcile.Queue, queue.Request{Task: cron.ReconcileTask}); err != nil {
		logger.Warnf("Failed to queue startup reconcile: %v", err)
	}

	p := poller.New(scheduler, logger, cfg.Scheduler.SyncInterval)
	go p.Start(ctx)

	if err := scheduler.Start(); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}

	handler := api.NewHandler(api.Deps{
		Store:       store,
		Scheduler:   scheduler,
		Reconciler:  reconcileJob,
		Definitions: source,
		Dispatcher:  dispatcher,
		Queues:      broker,
	}, logger)

	if err := api.StartServer(ctx, handler, cfg.Server.Port); err != nil {
		logger.Errorf("Server stopped with error: %v", err)
	}

	logger.Info("Shutting down...")

	p.Stop()
	scheduler.Stop()
	broker.Stop()

	logger.Info("Server stopped")
}

func newScheduleStore(ctx context.Context, cfg *config.Config, db *sql.DB, logger *logrus.Logger) (schedule.Store, error) {
	if cfg.Scheduler.Store == "memory" {
		logger.Warn("Using in-memory schedule store, entries are lost on restart")
		return schedule.NewMemoryStore(), nil
	}

	store := schedule.NewPostgresStore(db)
	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return nil, err
	}
	return store, nil
}

func newScriptRunner(cfg config.ScriptConfig, logger *logrus.Logger) (script.Runner, error) {
	if cfg.Mode == "http" {
		logger.Infof("Scripts run in sandbox service at %s", cfg.URL)
		return script.NewSandboxClient(cfg.URL, cfg.Timeout, logger), nil
	}
	logger.Infof("Scripts run in child process: %s", cfg.Command)
	return script.NewProcessRunner(cfg.Command, cfg.Timeout, logger)
}

func laneConfigs(queues []config.QueueConfig) []queue.LaneConfig {
	lanes := make([]queue.LaneConfig, 0, len(queues))
	for _, q := range queues {
		lanes = append(lanes, queue.LaneConfig{
			Name:       q.Name,
			Workers:    q.Workers,
			Buffer:     q.Buffer,
			MaxRetries: q.MaxRetries,
		})
	}
	return lanes
}
