package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xPuncker/export-mailer/internal/config"
	"github.com/0xPuncker/export-mailer/internal/cron"
	"github.com/0xPuncker/export-mailer/internal/executor"
	"github.com/0xPuncker/export-mailer/internal/jobs"
	"github.com/0xPuncker/export-mailer/internal/notifications"
	"github.com/0xPuncker/export-mailer/internal/reconcile"
	"github.com/0xPuncker/export-mailer/internal/report"
	"github.com/0xPuncker/export-mailer/internal/schedule"
	"github.com/0xPuncker/export-mailer/internal/script"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// runjob executes a single export job in-process, or runs one reconcile
// pass, without going through the queues.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	jobID := flag.Int64("job", 0, "export job id to execute")
	doReconcile := flag.Bool("reconcile", false, "run one reconcile pass and exit")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *jobID <= 0 && !*doReconcile {
		fmt.Fprintln(os.Stderr, "usage: runjob -job <id> | -reconcile [-config path]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	source := jobs.NewSource(db, cfg.Database.JobTable, logger)

	if *doReconcile {
		store := schedule.NewPostgresStore(db)
		if err := store.Migrate(context.Background()); err != nil {
			logger.Fatalf("Failed to migrate schedule store: %v", err)
		}
		job := cron.NewReconcileJob(source, reconcile.NewReconciler(store, logger), nil, logger)
		if err := job.Run(); err != nil {
			logger.Fatalf("Reconcile failed: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runner script.Runner
	if cfg.Script.Mode == "http" {
		runner = script.NewSandboxClient(cfg.Script.URL, cfg.Script.Timeout, logger)
	} else {
		runner, err = script.NewProcessRunner(cfg.Script.Command, cfg.Script.Timeout, logger)
		if err != nil {
			logger.Fatalf("Failed to set up script runner: %v", err)
		}
	}

	exec := executor.New(
		source,
		report.NewPipeline(db, cfg.Report.OutputDir, logger),
		notifications.NewMailer(notifications.NewSMTPSender(cfg.SMTP), cfg.SMTP.From, logger),
		runner,
		nil,
		logger,
	)

	res := exec.Execute(ctx, *jobID)
	fmt.Println(res.Status)
	if res.IsError() {
		os.Exit(1)
	}
}
