// Package cli implements the statflow command-line interface. Commands build
// the components in-process from environment configuration, overlaid with the
// active profile of ~/.statflow/config.yaml and command-line flags.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"statflow/internal/app"
	"statflow/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	return run(os.Args[1:], os.Stdout, os.Stderr, nil)
}

// run executes the command tree against args. A non-nil transport replaces
// the warehouse HTTP transport.
func run(args []string, stdout, stderr io.Writer, transport http.RoundTripper) int {
	rootCmd := newRootCmd(transport)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == formatJSON {
			_ = PrintJSON(stdout, map[string]any{"error": err.Error()})
		} else {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// settings are the resolved global options.
type settings struct {
	baseURL   string
	snapshot  string
	output    string
	logLevel  string
	profile   string
	envFile   string
	transport http.RoundTripper
}

func newRootCmd(transport http.RoundTripper) *cobra.Command {
	s := &settings{transport: transport}

	rootCmd := &cobra.Command{
		Use:           "statflow",
		Short:         "Statistical warehouse client",
		Long:          "Resolve indicator codes to dataflows and fetch, filter and reshape observations from an SDMX warehouse.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadUserConfigOrEmpty()
			if err != nil {
				return err
			}
			p, err := cfg.ActiveProfile(s.profile)
			if err != nil {
				return err
			}

			// Precedence: flag > env > profile > default
			resolve := func(flag string, dst *string, envKey, fromProfile string) {
				if cmd.Flags().Changed(flag) {
					return
				}
				if v := os.Getenv(envKey); v != "" {
					*dst = v
				} else if fromProfile != "" {
					*dst = fromProfile
				}
			}
			resolve("base-url", &s.baseURL, "STATFLOW_BASE_URL", p.BaseURL)
			resolve("snapshot", &s.snapshot, "STATFLOW_SNAPSHOT", p.Snapshot)
			resolve("output", &s.output, "STATFLOW_OUTPUT", p.Output)
			resolve("log-level", &s.logLevel, "STATFLOW_LOG_LEVEL", p.LogLevel)

			return validateOutputFormat(s.output)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&s.baseURL, "base-url", "", "Warehouse REST root (overrides SDMX_BASE_URL)")
	pf.StringVar(&s.snapshot, "snapshot", "", "Metadata snapshot file (overrides SNAPSHOT_PATH)")
	pf.StringVarP(&s.output, "output", "o", "", "Output format (table, csv, json); default is table on a terminal, csv otherwise")
	pf.StringVar(&s.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.StringVarP(&s.profile, "profile", "p", "", "Config profile to use")
	pf.StringVar(&s.envFile, "env-file", ".env", "Dotenv file read before the environment")

	rootCmd.AddCommand(newSyncCmd(s))
	rootCmd.AddCommand(newSnapshotCmd(s))
	rootCmd.AddCommand(newIndicatorsCmd(s))
	rootCmd.AddCommand(newResolveCmd(s))
	rootCmd.AddCommand(newQueryCmd(s))
	rootCmd.AddCommand(newServeCmd(s))
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// loadConfig reads the environment and applies the resolved global options.
func (s *settings) loadConfig() (*config.Config, error) {
	if s.envFile != "" {
		if err := config.LoadDotEnv(s.envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if s.baseURL != "" {
		cfg.SDMX.BaseURL = s.baseURL
	}
	if s.snapshot != "" {
		cfg.SnapshotPath = s.snapshot
	}
	if s.logLevel != "" {
		cfg.LogLevel = s.logLevel
	}
	return cfg, nil
}

// newApp builds the application, logging to the command's stderr.
func (s *settings) newApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}
	return app.New(app.Deps{Cfg: cfg, Logger: logger, Transport: s.transport})
}

// newLoadedApp builds the application and installs metadata, syncing only
// when no snapshot has been persisted.
func (s *settings) newLoadedApp(cmd *cobra.Command) (*app.App, error) {
	a, err := s.newApp(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := a.Syncer.LoadOrSync(cmd.Context()); err != nil {
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return a, nil
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
