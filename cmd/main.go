package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/baderanaas/GoPass/pkg/config"
	"github.com/baderanaas/GoPass/pkg/libp2p"
	"github.com/baderanaas/GoPass/pkg/logging"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gopass: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("gopass", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "Path to a YAML config file")
	port := flags.IntP("port", "p", 0, "Listen port (random if not specified)")
	dataDir := flags.String("data-dir", "", "Data directory (default ~/.gopass)")
	name := flags.StringP("name", "n", "", "Username shown to nearby peers")
	connect := flags.StringSlice("connect", nil, "Peer multiaddrs to dial at startup")
	logLevel := flags.String("log-level", "", "Log level: debug, info, warn, error")
	dev := flags.Bool("dev", false, "Human readable console logs")
	metricsAddr := flags.String("metrics", "", "Serve Prometheus metrics on this address")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}

	// Flags override the file and the environment.
	if flags.Changed("port") {
		cfg.Node.Port = *port
	}
	if flags.Changed("data-dir") {
		cfg.Node.DataDir = *dataDir
	}
	if flags.Changed("name") {
		cfg.Profile.Username = *name
	}
	if flags.Changed("connect") {
		cfg.Node.ConnectPeers = append(cfg.Node.ConnectPeers, *connect...)
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = *logLevel
	}
	if flags.Changed("dev") {
		cfg.Logging.Development = *dev
	}
	if flags.Changed("metrics") {
		cfg.Metrics.ListenAddr = *metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named(logging.ComponentNode)

	logger.Info("Starting GoPass",
		zap.Int("port", cfg.Node.Port),
		zap.Int("max_peers", cfg.Discovery.MaxPeers),
		zap.Duration("broadcast_interval", cfg.Discovery.BroadcastInterval),
		zap.Duration("interaction_ttl", cfg.Discovery.InteractionTTL))

	return libp2p.Start(cfg, logger)
}
