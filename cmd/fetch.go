package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/capture"
	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/collections"
	"github.com/sliver-archive/sliver/internal/progress"
	"github.com/sliver-archive/sliver/internal/progress/sinks"
	"github.com/sliver-archive/sliver/internal/proxy"
	"github.com/sliver-archive/sliver/internal/sources"
	"github.com/sliver-archive/sliver/internal/stack"
)

var (
	fetchSource    string
	fetchTimestamp string
)

// newFetchCmd creates and configures the 'fetch' subcommand.
func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch URL_FILE",
		Short: "Screenshot a batch of URLs as of a target timestamp",
		Long: `Reads a plain text file with one URL per line (blank lines and lines
starting with "#" are skipped), starts a recording proxy pinned to the
target timestamp, and captures one screenshot per URL through it.
Pass "-" to read the URL list from stdin.

Content resolved from remote archives or the live web is recorded into
the local collection so later runs can answer from disk.`,
		Args: cobra.ExactArgs(1),
		RunE: runFetchCommand,
	}
	cmd.Flags().StringVarP(&fetchSource, "source", "s", "",
		fmt.Sprintf("source stack to resolve content through (one of: %s; default from config)", strings.Join(sources.FetchIDs(), ", ")))
	cmd.Flags().StringVarP(&fetchTimestamp, "timestamp", "t", "",
		"target timestamp, up to 14 digits 'YYYYMMDDHHMMSS' (default from config)")
	return cmd
}

func runFetchCommand(cmd *cobra.Command, args []string) error {
	lines, err := readURLFile(args[0])
	if err != nil {
		return err
	}

	sourceID := fetchSource
	if sourceID == "" {
		sourceID = cfg.Source
	}
	rawTS := fetchTimestamp
	if rawTS == "" {
		rawTS = cfg.Timestamp
	}

	ts, err := cdx.ParseTimestamp(rawTS)
	if err != nil {
		return fmt.Errorf("--timestamp: %w", err)
	}

	src, err := sources.ByID(sourceID)
	if err != nil {
		return fmt.Errorf("%w (fetch sources: %s)", err, strings.Join(sources.FetchIDs(), ", "))
	}

	layout := collections.NewLayout(cfg.Collections.Root)
	st, err := buildStack(src, layout)
	if err != nil {
		return fmt.Errorf("build source stack: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Warn("failed to close source stack", zap.Error(cerr))
		}
	}()

	session := proxy.NewSession(st, proxy.Config{
		Host:             cfg.Proxy.Host,
		Port:             cfg.Proxy.Port,
		DefaultTimestamp: ts,
		ReadyTimeout:     cfg.Proxy.ReadyTimeout(),
		ReadyInterval:    cfg.Proxy.ReadyInterval(),
		Logger:           logger,
	})

	// Batch progress flows through the hub. The Prometheus sink registers
	// on the default registry, which the proxy's /metrics endpoint serves
	// for the duration of the batch.
	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(logger, sinks.NewLogSink(logger), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("progress hub did not drain", zap.Error(cerr))
		}
	}()

	shooter, err := capture.NewChromeShooter(capture.ShooterConfig{
		Concurrency: cfg.Capture.Concurrency,
		NavTimeout:  cfg.Capture.NavTimeout(),
		UserAgent:   cfg.Capture.UserAgent,
	}, hub, logger)
	if err != nil {
		return fmt.Errorf("init shooter: %w", err)
	}

	orchestrator := capture.NewOrchestrator(layout, session, shooter, hub, logger)
	defaults := capture.JobDefaults{
		WaitMillis: cfg.Capture.WaitMillis,
		Width:      cfg.Capture.Width,
		Height:     cfg.Capture.Height,
		Padding:    cfg.Capture.Padding,
	}
	if err := orchestrator.Run(cmd.Context(), lines, ts, defaults); err != nil {
		return fmt.Errorf("fetch: %w", err)
	}

	logger.Info("fetch finished", zap.String("screenshots", layout.Screenshots()))
	return nil
}

// buildStack assembles the resolution stack for a source using the
// shared remote settings.
func buildStack(src sources.Source, layout collections.Layout) (*stack.Stack, error) {
	return stack.Build(src, stack.Options{
		Layout:       layout,
		HTTPClient:   &http.Client{Timeout: cfg.Remote.Timeout()},
		QPS:          cfg.Remote.QPS,
		MaxBodyBytes: cfg.Remote.MaxBodyBytes(),
		Logger:       logger,
	})
}

func readURLFile(path string) ([]string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return strings.Split(string(data), "\n"), nil
}
