package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sandwichfarm/nocom/internal/communities"
	"github.com/sandwichfarm/nocom/internal/config"
	"github.com/sandwichfarm/nocom/internal/ops"
	"github.com/sandwichfarm/nocom/internal/relay"
	"github.com/sandwichfarm/nocom/internal/store"
	"github.com/sandwichfarm/nocom/internal/views"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		handleInit()
		return
	}

	var (
		showVersion = flag.Bool("version", false, "Show version information")
		configPath  = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("nocom %s (%s)\n", version, commit)
		os.Exit(0)
	}

	if *configPath == "" {
		fmt.Println("nocom - Nostr community sync engine")
		fmt.Println()
		fmt.Println("No configuration file specified. Use --config <path> to specify config.")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  nocom init              Generate example configuration")
		fmt.Println("  nocom --version         Show version information")
		fmt.Println("  nocom --config <path>   Start with configuration file")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit)

	identity, err := cfg.Identity.Pubkey()
	if err != nil {
		return err
	}

	// Publishing is optional: without NOCOM_NSEC the engine is read-only
	var signer communities.Signer
	if nsec := os.Getenv("NOCOM_NSEC"); nsec != "" {
		keySigner, err := relay.NewKeySigner(nsec)
		if err != nil {
			return fmt.Errorf("invalid NOCOM_NSEC: %w", err)
		}
		signer = keySigner
	}

	client := relay.New(ctx, &cfg.Relays)
	defer client.Close()

	st := store.New(identity, logger)
	svc := communities.New(cfg, st, client, signer, logger)
	defer svc.Close()

	if err := svc.Bootstrap(ctx); err != nil {
		// Transient: the engine still starts with whatever arrived
		logger.Warn("bootstrap incomplete", "error", err)
	}

	for _, address := range cfg.Communities.Addresses {
		if err := svc.StartCommunity(ctx, address); err != nil {
			logger.Warn("community subscription failed", "address", address, "error", err)
		}
	}

	svc.StartExpiry(ctx)

	// Demo shell: print a summary line whenever the projections change
	projections := views.New(st)
	dispose := projections.OnChange(func() {
		for _, c := range projections.Communities() {
			fmt.Printf("%s [%s] %s: %d channels\n",
				c.Info.Name, c.MembershipStatus, c.Address, len(c.Channels))
		}
	}, 250*time.Millisecond)
	defer dispose()

	fmt.Printf("nocom running with %d seed relays, %d communities\n",
		len(cfg.Relays.Seeds), len(cfg.Communities.Addresses))
	fmt.Println("Press Ctrl+C to shutdown gracefully...")

	diag := ops.NewDiagnostics(version, commit, st)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.LogDiagnostics(diag)
	logger.LogShutdown("signal")
	return nil
}

func handleInit() {
	exampleConfig, err := config.GetExampleConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading example config: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(string(exampleConfig))
}
