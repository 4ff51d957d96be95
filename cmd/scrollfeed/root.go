package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/scrolltable/internal/config"
	"github.com/Sternrassler/scrolltable/pkg/logging"
)

const version = "0.1.0"

// newRootCmd creates the root command.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "scrollfeed",
		Short:         "Page through a remote endpoint the way an infinite-scroll list does",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("url", "", "endpoint URL")
	rootCmd.PersistentFlags().String("method", "", "GET or POST")
	rootCmd.PersistentFlags().String("data-type", "", "json, jsonp or text")
	rootCmd.PersistentFlags().Int("page-size", 0, "records per page")
	rootCmd.PersistentFlags().Duration("timeout", 0, "request timeout")
	rootCmd.PersistentFlags().Int("max-attempts", 0, "attempts per request")
	rootCmd.PersistentFlags().String("redis", "", "Redis address for the page cache and rate limit state")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn, error or disabled")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable logs")

	load := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return nil, err
		}
		logging.Setup(logging.Config{
			Level:  logging.LogLevel(cfg.Logger.Level),
			Pretty: cfg.Logger.Pretty,
			Output: cmd.ErrOrStderr(),
		})
		return cfg, nil
	}

	rootCmd.AddCommand(
		newScrollCommand(load),
		newDumpCommand(load),
		newPurgeCommand(load),
		newVersionCommand(),
	)

	return rootCmd
}

type loader func(cmd *cobra.Command) (*config.Config, error)

func newScrollCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scroll",
		Short: "Scroll a simulated viewport until the feed completes and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runScroll(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Float64("height", 0, "viewport height")
	cmd.Flags().Float64("row-height", 0, "height of one rendered line")
	cmd.Flags().Float64("step", 0, "scroll distance per step")
	cmd.Flags().Int("max-steps", 0, "stop after this many scroll steps")
	cmd.Flags().String("template", "", "record template (text/template)")
	cmd.Flags().String("metrics-addr", "", "serve /metrics, /health and /ready on this address")

	return cmd
}

func newDumpCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Fetch every page in parallel and print the records as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			return runDump(cmd.Context(), cfg, concurrency, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int("concurrency", 4, "parallel page requests")

	return cmd
}

func newPurgeCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop every cached page of the endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return runPurge(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "scrollfeed %s\n", version)
}
