package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/driftlock/turnbridge/internal/bridge"
	"github.com/driftlock/turnbridge/internal/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "version":
		fmt.Printf("turnbridge %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `turnbridge

Usage:
  turnbridge init [flags]
  turnbridge run [flags]
  turnbridge version

Commands:
  init        Write a config file for the given gateway and workspace.
  run         Run the bridge using the local config file.
  version     Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)

	url := fs.String("url", "", "Gateway websocket URL (e.g. wss://gateway.example.invalid/ws)")
	token := fs.String("token", "", "Gateway bearer token")
	workspaceID := fs.String("workspace-id", "", "Workspace ID")
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")

	canonicalEvents := fs.Bool("canonical-events", false, "Route notifications through the engine adapters")
	steer := fs.Bool("steer", false, "Allow sends to bypass the queue mid-turn")

	logFormat := fs.String("log-format", "", "Log format: json|text (default: by terminal)")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")

	_ = fs.Parse(args)

	if *url == "" || *workspaceID == "" {
		fs.Usage()
		os.Exit(2)
	}

	cfg := &config.Config{
		TransportURL:    *url,
		TransportToken:  *token,
		WorkspaceID:     *workspaceID,
		CanonicalEvents: *canonicalEvents,
		SteerEnabled:    *steer,
		LogFormat:       *logFormat,
		LogLevel:        *logLevel,
	}
	if err := config.Save(filepath.Clean(*cfgPath), cfg); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written: %s\n", filepath.Clean(*cfgPath))
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	_ = fs.Parse(args)

	cfg, err := config.Load(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	b, err := bridge.New(bridge.Options{
		Config:    cfg,
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init bridge: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "bridge exited with error: %v\n", err)
		os.Exit(1)
	}
}
