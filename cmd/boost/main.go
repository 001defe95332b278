// Package main is the CLI entry point for boost, an OpenAI-compatible
// inference proxy that rewrites and orchestrates prompts through pluggable
// modules before they reach the upstream backend.
//
// Start the server:
//
//	boost serve
//
// List the registered modules with their documentation:
//
//	boost modules
//
// Configuration is environment-driven under the HARBOR_BOOST_ prefix; see
// internal/config. An optional YAML file can seed values:
//
//	boost serve --config boost.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harborai/boost/internal/config"
	"github.com/harborai/boost/internal/modules"
	"github.com/harborai/boost/internal/server"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "boost",
		Short: "boost - OpenAI-compatible inference proxy",
		Long: `boost sits between an OpenAI-compatible client and one or more inference
backends. It advertises synthetic models that pair a backend model with a
module (chain-of-thought loops, input rewrites, self-critique workflows) and
streams the boosted completion back through the standard chat API.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildModulesCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "boost %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// buildServeCmd creates the "serve" command that runs the proxy.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the boost proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			}))
			slog.SetDefault(logger)

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Modules are compiled in; filesystem module folders from the
			// original deployment contract have no effect here.
			if folders := os.Getenv(config.EnvPrefix + "MODULE_FOLDERS"); folders != "" {
				logger.Warn("module folders are not supported, modules are compiled in",
					"ignored", folders)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.New(cfg, logger).Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (optional; env vars win)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}

// buildModulesCmd creates the "modules" command that renders the
// documentation of every registered module.
func buildModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List registered modules with their documentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "# Boost modules")
			for _, m := range modules.All() {
				fmt.Fprintln(out)
				fmt.Fprintln(out, m.Doc)
			}
			return nil
		},
	}
}
