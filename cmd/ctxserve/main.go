// Copyright 2025 The WordServe Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

/*
Package main implements the ctxserve completion server and its CLI [DBG]
console.

ctxserve answers "complete as you type" queries filtered and boosted by
context: categories such as the kind of place, and geo locations encoded as
geohash cells. Completions come from msgpack segment files, each loaded into
its own in-memory index and queried in parallel.

# Usage

Start the server with default settings:

	ctxserve

Use a custom data directory and config, and enable debug logs:

	ctxserve -data /path/to/segments -config ./config.toml -d

Run the interactive console:

	ctxserve -c -limit 5

Build segment files from a tab separated source:

	ctxserve -import places.tsv -data ./data

The data directory holds seg_0001.msgpack, seg_0002.msgpack and so on.

# Configuration

The TOML config is created with defaults when missing:

	[server]
	max_limit = 64
	min_prefix = 1
	max_prefix = 60

	[suggest]
	partition_timeout_ms = 100
	modes = ["prefix", "fuzzy", "regex"]

	[[contexts]]
	name = "category"
	type = "category"

	[[contexts]]
	name = "location"
	type = "geo"
	precision = 5
	neighbors = true

The order of [[contexts]] is part of the index layout.

# IPC Protocol

The server reads msgpack requests from stdin and writes responses to stdout.
See package server for the message types.

	{"id": "q1", "p": "pizz", "l": 5, "ctx": {"category": [{"v": "food", "b": 2}]}}

# Command Line Flags

	-data string
	    Directory containing segment files (default "data/")
	-config string
	    Path to config.toml
	-d  Enable debug mode with detailed logging
	-json
	    Log as JSON
	-c  Run the CLI console instead of the server
	-limit int
	    Number of suggestions to return in the console
	-import string
	    Convert a .tsv source into segment files in -data and exit
	-per-segment int
	    Records per segment for -import
	-metrics string
	    Address to serve prometheus metrics on, e.g. :9090
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bastiangx/ctxserve/internal/cli"
	"github.com/bastiangx/ctxserve/internal/logger"
	"github.com/bastiangx/ctxserve/internal/utils"
	"github.com/bastiangx/ctxserve/pkg/config"
	"github.com/bastiangx/ctxserve/pkg/dictionary"
	"github.com/bastiangx/ctxserve/pkg/metrics"
	"github.com/bastiangx/ctxserve/pkg/server"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Version = "0.1.0-beta"
	AppName = "ctxserve"
	gh      = "https://github.com/bastiangx/ctxserve"
)

var (
	_ server.Reloader       = (*dictionary.Runtime)(nil)
	_ server.SegmentLimiter = (*dictionary.Runtime)(nil)
)

// sigHandler cancels the returned context on interrupt. A second signal
// exits right away.
func sigHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		fmt.Fprintf(os.Stderr, "\nExiting...\n")
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}

// main only manages the flow; the packages hold the logic.
func main() {
	ctx := sigHandler()
	defaultConfig := config.DefaultConfig()

	showVersion := flag.Bool("version", false, "Show current version")
	dataDir := flag.String("data", "data/", "Directory containing the segment files")
	configPath := flag.String("config", "", "Path to a custom config.toml")
	debugMode := flag.Bool("d", false, "Toggle debug mode")
	jsonLogs := flag.Bool("json", false, "Log as JSON")
	cliMode := flag.Bool("c", false, "Run CLI -- useful for testing and debugging")
	limit := flag.Int("limit", 0, "Number of suggestions to return in the CLI (default from config)")
	importPath := flag.String("import", "", "Convert a .tsv source into segment files and exit")
	perSegment := flag.Int("per-segment", defaultConfig.Dict.MaxEntriesPerSegment, "Records per segment for -import")
	metricsAddr := flag.String("metrics", "", "Serve prometheus metrics on this address")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger.Setup(*debugMode, *jsonLogs)

	if *importPath != "" {
		if err := importSource(*importPath, *dataDir, *perSegment); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		return
	}

	cfg, activePath, err := config.LoadConfigWithPriority(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config %s: %v", config.GetActiveConfigPath(activePath), err)
	}
	log.Debugf("Using config file: (%s)", config.GetActiveConfigPath(activePath))

	set, _ := cfg.MappingSet()
	buildOpts, _ := cfg.BuildOptions()

	configDir, _ := config.GetConfigDir()
	resolvedDataDir, err := utils.ResolveDataDir(*dataDir, configDir)
	if err != nil {
		log.Fatalf("Failed to resolve data dir: %v", err)
	}
	log.Debugf("Using data dir at: %s", resolvedDataDir)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	suggestOpts := cfg.SuggesterOptions()
	suggestOpts.Metrics = metrics.NewMetrics(reg)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, reg)
	}

	loader := dictionary.NewLoader(resolvedDataDir, set, buildOpts, cfg.Dict.MaxEntriesPerSegment)
	rt, err := dictionary.NewRuntime(ctx, loader, suggestOpts)
	if err != nil {
		log.Fatalf("Failed to load segments: %v", err)
	}

	if *cliMode {
		size := *limit
		if size <= 0 {
			size = cfg.CLI.DefaultSize
		}
		log.Debug("Input info:", "minPrefix", cfg.Server.MinPrefix, "maxPrefix", cfg.Server.MaxPrefix, "limit", size)
		h := cli.NewInputHandler(rt, cfg.Server.MinPrefix, cfg.Server.MaxPrefix, size,
			cfg.FuzzyOptions(), cfg.CLI.ShowScores, os.Stderr)
		if err := h.Start(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("CLI error: %v", err)
		}
		return
	}

	srv := server.NewServer(rt, server.Options{
		MaxLimit:    cfg.Server.MaxLimit,
		MinPrefix:   cfg.Server.MinPrefix,
		MaxPrefix:   cfg.Server.MaxPrefix,
		DefaultSize: cfg.Suggest.DefaultSize,
		Fuzzy:       cfg.FuzzyOptions(),
	}, os.Stdin, os.Stdout)

	showStartupInfo(resolvedDataDir, rt.Stats())

	// unblock the pending read on shutdown
	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server stopped: %v", err)
	}
}

func importSource(path, dir string, perSegment int) error {
	format, err := dictionary.DetectFileFormat(path)
	if err != nil {
		return err
	}
	if format != dictionary.FormatText {
		return fmt.Errorf("%s is a %s, expected a text source", path, format)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	records, err := dictionary.ReadText(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	files, err := dictionary.WriteSegments(dir, records, perSegment)
	if err != nil {
		return err
	}
	log.Infof("Wrote %d records into %d segments in %s", len(records), len(files), dir)
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Infof("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Errorf("Metrics server: %v", err)
	}
}

func printVersion() {
	l := log.NewWithOptions(os.Stderr, log.Options{})
	styles := log.DefaultStyles()
	styles.Values["version"] = lipgloss.NewStyle().Bold(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	styles.Values["gh"] = lipgloss.NewStyle().Italic(true).
		Foreground(lipgloss.AdaptiveColor{Light: "#575279", Dark: "#e0def4"})
	l.SetStyles(styles)

	l.Print("")
	l.Print("[ ctxserve ] Context-aware completions, as you type")
	l.Print("", "version", Version)
	l.Print("")
	l.Print("use -h or --help to see available options")
	l.Print("Github Repo", "gh", gh)
}

// showStartupInfo prints basic info about the init process on stderr.
func showStartupInfo(dataDir string, stats map[string]int) {
	l := logger.New(AppName)
	banner := lipgloss.NewStyle().Bold(true).Padding(0, 1).
		Border(lipgloss.NormalBorder()).Render(" ctxserve ")
	fmt.Fprintln(os.Stderr, banner)
	l.Infof("Version: %s", Version)
	l.Infof("Process ID: [ %d ]", os.Getpid())
	l.Infof("data dir: ( %s )", dataDir)
	l.Infof("segments: %d, entries: %d", stats["partitions"], stats["entries"])
	l.Info("status: ready")
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to exit")
}
