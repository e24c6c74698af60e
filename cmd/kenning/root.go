package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/kenning/internal/config"
	"github.com/HendryAvila/kenning/internal/engine"
	"github.com/HendryAvila/kenning/internal/logging"
	"github.com/HendryAvila/kenning/internal/server"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dataDir    string
	logLevel   string
	backend    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "kenning",
		Short: "Context and knowledge engine for multi-agent work",
		Long: `Kenning keeps the knowledge earlier tasks produced and hands each new task
only the slice of it that task needs. Run "kenning serve" to expose it to an
AI tool over MCP, or use the commands below directly.`,
		Version:      server.Version,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate("kenning v{{.Version}}\n")

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "config file (default ./"+config.FileName+" when present)")
	f.StringVar(&opts.dataDir, "data-dir", "", "data directory (overrides config and KENNING_DATA_DIR)")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	f.StringVar(&opts.backend, "backend", "", "knowledge backend: json or sqlite")

	cmd.AddCommand(
		newServeCmd(opts),
		newContextCmd(opts),
		newPromptCmd(opts),
		newIngestCmd(opts),
		newWatchCmd(opts),
		newFeedbackCmd(opts),
		newRulesCmd(opts),
		newConsolidateCmd(opts),
		newExportCmd(opts),
		newImportCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load resolves the configuration: file and environment first, flags last.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.dataDir != "" {
		cfg.SetDataDir(o.dataDir)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	return cfg, cfg.Validate()
}

// withEngine opens the engine, runs fn and closes the engine again.
func (o *rootOptions) withEngine(cmd *cobra.Command, fn func(e *engine.Engine, log *zap.Logger) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	e, err := engine.Open(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	runErr := fn(e, log)
	if err := e.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("closing engine: %w", err)
	}
	return runErr
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kenning v%s\n", server.Version)
		},
	}
}
