// Package main is the entry point for the bufstream daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dshills/bufstream/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}

	// Ensure cleanup on all exit paths
	defer application.Shutdown()

	cfg := application.Config().Server
	if !cfg.Stdio && cfg.Listen == "" && cfg.WebSocket == "" {
		fmt.Fprintln(os.Stderr, "Error: no transport configured (use -stdio, -listen or -ws)")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func parseFlags() app.Options {
	var opts app.Options
	var showVersion bool
	var showHelp bool

	flag.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file (TOML or YAML)")
	flag.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&opts.Stdio, "stdio", false, "Serve one RPC client on stdin/stdout")
	flag.StringVar(&opts.Listen, "listen", "", "Socket address to serve RPC clients on (unix:/path or host:port)")
	flag.StringVar(&opts.WebSocket, "ws", "", "HTTP address to serve websocket clients on")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")
	flag.BoolVar(&showHelp, "help", false, "Show help message")
	flag.BoolVar(&showHelp, "h", false, "Show help message (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "bufstreamd - buffer change broadcast daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: bufstreamd [options] [files...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bufstreamd -stdio file.go                   Serve one client over stdio\n")
		fmt.Fprintf(os.Stderr, "  bufstreamd -listen unix:/tmp/bs.sock *.go   Serve clients on a unix socket\n")
		fmt.Fprintf(os.Stderr, "  bufstreamd -ws :8080 -c bufstream.toml      Serve websocket clients\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment variables BUFSTREAM_<SECTION>_<KEY> override the config file.\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("bufstreamd %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	// Validate log level
	switch opts.LogLevel {
	case "", "debug", "info", "warn", "error":
		// Valid
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.LogLevel)
		os.Exit(1)
	}

	// Remaining arguments are files to open
	opts.Files = flag.Args()

	return opts
}
