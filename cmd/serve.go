package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/collections"
	"github.com/sliver-archive/sliver/internal/proxy"
	"github.com/sliver-archive/sliver/internal/sources"
)

var (
	serveSource    string
	serveTimestamp string
)

// newServeCmd creates and configures the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recording proxy until interrupted",
		Long: `Starts the recording proxy bound to a source stack and leaves it
running so any HTTP client or browser can be pointed at it. Requests
resolve at the session default timestamp unless they carry an
Accept-Datetime header. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: runServeCommand,
	}
	cmd.Flags().StringVarP(&serveSource, "source", "s", "",
		fmt.Sprintf("source stack to serve from (one of: %s; default from config)", strings.Join(sources.FetchIDs(), ", ")))
	cmd.Flags().StringVarP(&serveTimestamp, "timestamp", "t", "",
		"default timestamp, up to 14 digits 'YYYYMMDDHHMMSS' (default from config)")
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	sourceID := serveSource
	if sourceID == "" {
		sourceID = cfg.Source
	}
	rawTS := serveTimestamp
	if rawTS == "" {
		rawTS = cfg.Timestamp
	}

	ts, err := cdx.ParseTimestamp(rawTS)
	if err != nil {
		return fmt.Errorf("--timestamp: %w", err)
	}
	src, err := sources.ByID(sourceID)
	if err != nil {
		return fmt.Errorf("%w (servable sources: %s)", err, strings.Join(sources.FetchIDs(), ", "))
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start proxy session: %w", err)
	}
	logger.Info("proxy serving",
		zap.String("addr", session.Addr()),
		zap.String("source", src.ID),
		zap.String("timestamp", string(ts)),
	)

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := session.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop proxy session: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
