package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/harvest"
)

var (
	discoverDepth  int
	discoverPages  int
	discoverDelay  time.Duration
	discoverRobots bool
)

// newDiscoverCmd creates and configures the 'discover' subcommand.
func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover SEED_URL [SEED_URL...]",
		Short: "Discover capture candidates by walking same-host links",
		Long: `Crawls the seed pages, follows same-host links up to the requested
depth, and prints one discovered page URL per line on stdout. Save the
output to a file and hand it to "sliver fetch" to capture the lot.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDiscoverCommand,
	}
	cmd.Flags().IntVar(&discoverDepth, "depth", 1, "link hops to follow beyond each seed")
	cmd.Flags().IntVar(&discoverPages, "max-pages", 200, "stop after visiting this many pages")
	cmd.Flags().DurationVar(&discoverDelay, "delay", 0, "politeness pause between requests")
	cmd.Flags().BoolVar(&discoverRobots, "respect-robots", true, "honor robots.txt exclusions while crawling")
	return cmd
}

func runDiscoverCommand(cmd *cobra.Command, args []string) error {
	h := harvest.New(harvest.Config{
		MaxDepth:      discoverDepth,
		MaxPages:      discoverPages,
		Delay:         discoverDelay,
		UserAgent:     cfg.Capture.UserAgent,
		Timeout:       cfg.Remote.Timeout(),
		RespectRobots: discoverRobots,
		Logger:        logger,
	})

	res, err := h.Run(cmd.Context(), args)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	for _, u := range res.URLs {
		fmt.Fprintln(cmd.OutOrStdout(), u)
	}
	logger.Info("discovery finished",
		zap.Int("pages_visited", res.Visited),
		zap.Int("urls", len(res.URLs)),
		zap.Int("failures", res.Failures),
	)
	return nil
}
