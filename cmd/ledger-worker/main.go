package main

import (
	"time"

	"ledger/internal/amqp"
	"ledger/internal/cli"
	"ledger/internal/client"
	"ledger/internal/config"
	"ledger/internal/log"
	gsheet "ledger/internal/sheets/google"
	"ledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting ledger-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	mirror, err := gsheet.New(ctx, gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize Google Sheets client", err)
	}
	if err := mirror.EnsureHeader(ctx); err != nil {
		cli.Fatal(logger, "Failed to prepare spreadsheet", err, "spreadsheet_id", cfg.GoogleSpreadsheetID)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	var source worker.Source
	if cfg.MirrorReconcileInterval > 0 {
		api, err := client.New(cfg.LedgerAPIURL, cfg.LedgerAPITimeout, nil, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize ledger API client", err)
		}
		source = api
		logger.Info("Periodic reconciliation enabled",
			"interval", cfg.MirrorReconcileInterval.String(),
			"api_url", cfg.LedgerAPIURL)
	} else {
		logger.Info("Periodic reconciliation disabled")
	}

	events, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize AMQP client", err)
	}
	defer events.Close()

	w := worker.NewMirrorWorker(mirror, source, cfg.MirrorReconcileInterval, logger)
	if err := w.Run(ctx, events); err != nil {
		_ = events.Close()
		cli.Fatal(logger, "Mirror worker stopped", err)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
