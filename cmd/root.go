package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/worldping/internal/api"
	"github.com/worldping/internal/config"
	"github.com/worldping/internal/metrics"
	"github.com/worldping/internal/pipeline"
	"github.com/worldping/internal/probe"
	"github.com/worldping/internal/ranking"
	"github.com/worldping/internal/report"
	"github.com/worldping/internal/storage"
	"github.com/worldping/internal/worlds"
)

type options struct {
	configPath  string
	membersOnly bool
	ftpOnly     bool
	worlds      []string
	count       int
	verbose     bool
	concurrency int
	native      bool
	serve       string
	export      string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "worldping [flags]",
		Short: "Rank RuneScape worlds by ping latency",
		Long: `worldping pings every selected world three times and prints the worlds
with the lowest average round-trip time. The best world found so far is
shown on a single status line while probing.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				if !cmd.Flags().Changed("worlds") {
					return fmt.Errorf("unexpected arguments %v: world ids go after --worlds", args)
				}
				// "-w 1 2 3" leaves 2 and 3 as positional arguments
				opts.worlds = append(opts.worlds, args...)
			}
			return run(cmd.Context(), cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.membersOnly, "members-only", "m", false, "only probe members worlds")
	flags.BoolVarP(&opts.ftpOnly, "ftp-only", "f", false, "only probe free-to-play worlds")
	flags.StringSliceVarP(&opts.worlds, "worlds", "w", nil, "probe only these worlds (comma separated or repeated)")
	flags.IntVarP(&opts.count, "count", "c", 5, "number of worlds to print")
	flags.StringVar(&opts.configPath, "config", "", "config file (yaml, json or toml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.IntVar(&opts.concurrency, "concurrency", 1, "probes in flight")
	flags.BoolVar(&opts.native, "native", false, "send ICMP echoes in-process instead of running ping")
	flags.StringVar(&opts.serve, "serve", "", "serve the live ranking over HTTP on this address")
	flags.StringVar(&opts.export, "export", "", "write the final ranking to <file|sqlite|redis>:<path>")

	cmd.MarkFlagsMutuallyExclusive("members-only", "ftp-only", "worlds")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	cfg, err := config.Load(opts.configPath, cmd.Flags())
	if err != nil {
		return err
	}

	if opts.export != "" {
		cfg.Export, err = config.ParseExport(opts.export)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	}

	setupLogging(cfg.Logging, opts.verbose, cmd.ErrOrStderr())

	// Selection is validated and resolved before anything is probed
	sel, err := worlds.NewSelection(opts.membersOnly, opts.ftpOnly, opts.worlds)
	if err != nil {
		return err
	}
	targets, err := worlds.NewResolver().Resolve(sel)
	if err != nil {
		return err
	}
	log.WithField("mode", sel.Mode).Debugf("Resolved %d worlds", len(targets))

	prober, err := newProber(cfg.Probe)
	if err != nil {
		return err
	}

	// Open the export target up front so a bad path fails before probing
	var store storage.Storage
	if cfg.Export.Type != "" {
		store, err = storage.NewStorage(cfg.Export.Type, cfg.Export.Path)
		if err != nil {
			return fmt.Errorf("open export %s: %w", cfg.Export.Type, err)
		}
		defer store.Close()
	}

	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace)
	board := ranking.NewBoard()

	if cfg.API.Addr != "" {
		server := api.NewServer(cfg, board, metricsCollector)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("API server failed: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Errorf("API server shutdown error: %v", err)
			}
		}()
	}

	stdout := cmd.OutOrStdout()
	terminal := report.NewTerminal(stdout)

	p := pipeline.New(pipeline.Config{
		Domain:      cfg.Probe.Domain,
		Concurrency: cfg.Probe.Concurrency,
		Interval:    time.Duration(cfg.Probe.IntervalMs) * time.Millisecond,
	}, prober, board, terminal, metricsCollector)

	if err := p.Run(ctx, targets); err != nil {
		return err
	}

	if err := terminal.Finish(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := report.PrintResults(stdout, board.Ranked(), cfg.Report.Count); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if store != nil {
		if err := export(ctx, store, cfg.Export, board); err != nil {
			return err
		}
	}

	return nil
}

func newProber(cfg config.ProbeConfig) (probe.Prober, error) {
	if cfg.Native {
		log.Debugf("Using in-process ICMP prober (privileged=%t)", cfg.Privileged)
		return probe.NewICMPProber(cfg.Privileged), nil
	}

	if err := probe.CheckBinary(cfg.Binary); err != nil {
		return nil, err
	}
	return probe.NewCommandProber(cfg.Binary, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
}

func export(ctx context.Context, store storage.Storage, cfg config.ExportConfig, board *ranking.Board) error {
	snap := board.Snapshot()
	if err := store.Save(ctx, &snap); err != nil {
		return fmt.Errorf("export %s: %w", cfg.Type, err)
	}

	log.WithFields(log.Fields{
		"type":    cfg.Type,
		"path":    cfg.Path,
		"records": len(snap.Results),
	}).Info("Exported ranking")
	return nil
}

func setupLogging(cfg config.LoggingConfig, verbose bool, out io.Writer) {
	log.SetOutput(out)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	}

	log.SetLevel(log.InfoLevel)
	if level, err := log.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown log level %q, using info", cfg.Level)
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}
