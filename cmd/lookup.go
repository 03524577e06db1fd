package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sliver-archive/sliver/internal/cdx"
	"github.com/sliver-archive/sliver/internal/sources"
)

var (
	lookupSource    string
	lookupLimit     int
	lookupResumeKey string
)

// newLookupCmd creates and configures the 'lookup' subcommand.
func newLookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup URL_PREFIX",
		Short: "List known captures for a URL prefix",
		Long: `Queries an archival capture index for all known captures of URLs
sharing the given prefix and prints them in CDX format to stdout.

When the index truncates the result, a resume key is logged; pass it
back via --resume-key to continue where the previous page left off.`,
		Args: cobra.ExactArgs(1),
		RunE: runLookupCommand,
	}
	cmd.Flags().StringVarP(&lookupSource, "source", "s", "ia",
		fmt.Sprintf("capture index to query (one of: %s)", strings.Join(sources.LookupIDs(), ", ")))
	cmd.Flags().IntVar(&lookupLimit, "limit", cdx.DefaultPageLimit,
		"maximum records per page")
	cmd.Flags().StringVar(&lookupResumeKey, "resume-key", "",
		"continuation token from a previous truncated lookup")
	return cmd
}

func runLookupCommand(cmd *cobra.Command, args []string) error {
	src, err := sources.ByID(lookupSource)
	if err != nil {
		return fmt.Errorf("%w (lookup sources: %s)", err, strings.Join(sources.LookupIDs(), ", "))
	}

	query, err := src.LookupQuery(args[0])
	if err != nil {
		return err
	}
	if lookupLimit > 0 {
		query.Limit = lookupLimit
	}
	query.ResumeKey = lookupResumeKey
	if src.Lookup.Warning != "" {
		logger.Warn(src.Lookup.Warning, zap.String("source", src.ID))
	}
	logger.Info("lookup starting",
		zap.String("source", src.ID),
		zap.String("prefix", args[0]),
		zap.String("match", string(query.Match)),
	)

	client := cdx.NewClient(src.Lookup.Endpoint, &http.Client{Timeout: cfg.Remote.Timeout()}, logger)
	result, err := client.Query(cmd.Context(), query)
	if err != nil {
		return fmt.Errorf("lookup: %w", err)
	}
	defer result.Close()

	out := cmd.OutOrStdout()
	count := 0
	for result.Next() {
		fmt.Fprintln(out, result.Record().String())
		count++
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("lookup: %w", err)
	}

	if key, ok := result.ResumeKey(); ok {
		logger.Warn("results truncated, rerun with the resume key for the next page",
			zap.String("resume_key", key))
	}
	logger.Info("lookup finished", zap.Int("records", count))
	return nil
}
