// Command ledger is the terminal client of the ledger API.
//
//	ledger [flags] list|summary|breakdown [-month YYYY-MM]
//	ledger [flags] add -title T -amount A -type income|expense [-category C] [-date YYYY-MM-DD]
//	ledger [flags] update -title T -amount A -type T [-category C] [-date D] <id>
//	ledger [flags] delete <id>
//	ledger [flags] shell [-month YYYY-MM]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ledger/internal/cli"
	"ledger/internal/client"
	"ledger/internal/config"
	"ledger/internal/ledger"
	"ledger/internal/log"
)

func main() {
	cli.LoadEnvFile()
	cfg := config.Load()

	fs := flag.NewFlagSet("ledger", flag.ExitOnError)
	apiURL := fs.String("url", cfg.LedgerAPIURL, "ledger API base URL")
	timeout := fs.Duration("timeout", cfg.LedgerAPITimeout, "per request timeout")
	verbose := fs.Bool("v", false, "log API calls to stderr")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: ledger [flags] list|summary|breakdown|add|update|delete|shell [args]")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	cfg.LedgerAPIURL, cfg.LedgerAPITimeout = *apiURL, *timeout
	logCfg := log.DefaultConfig()
	logCfg.Output = os.Stderr
	logCfg.Component = log.ComponentCLI
	logCfg.Level = log.ParseLevel("warn")
	if *verbose {
		logCfg.Level = log.ParseLevel("debug")
	}
	logger := log.New(logCfg)

	if err := cfg.ValidateClient(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	remote, err := client.New(cfg.LedgerAPIURL, cfg.LedgerAPITimeout, nil, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		ledger: ledger.NewService(remote, ledger.WithLogger(logger)),
		logger: logger,
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
	code := a.run(ctx, fs.Args())
	stop()
	os.Exit(code)
}
