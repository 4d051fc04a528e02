package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Alnajaar/nilelink-sub003/internal/app"
	"github.com/Alnajaar/nilelink-sub003/internal/config"
	"github.com/Alnajaar/nilelink-sub003/internal/logging"
)

type serveOptions struct {
	configPath string
	envFile    string
	logLevel   string
	tui        string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event bus",
		Long: `Run the event bus with every component enabled in the configuration.

Configuration is layered: built-in defaults, then --config (TOML), then
--env-file (dotenv), then NILEBUS_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a TOML configuration file")
	f.StringVar(&opts.envFile, "env-file", ".env", "Path to a dotenv file (ignored when missing)")
	f.StringVar(&opts.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	f.StringVar(&opts.tui, "tui", "off", "Draw the terminal monitor (on, off, auto)")
	f.Lookup("tui").NoOptDefVal = "auto"
	return cmd
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	monitor, err := wantMonitor(opts.tui, term.IsTerminal(int(os.Stdout.Fd())))
	if err != nil {
		return err
	}
	if opts.logLevel != "" && !logging.ValidLevel(opts.logLevel) {
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", opts.logLevel)
	}

	cfg, err := config.Load(config.LoadOptions{Path: opts.configPath, EnvFile: opts.envFile})
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	application, err := app.New(cfg, app.Options{Monitor: monitor, Version: version})
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return application.Run(cmd.Context())
}

// wantMonitor resolves the --tui value. "auto" draws the monitor only
// when stdout is a terminal.
func wantMonitor(mode string, interactive bool) (bool, error) {
	switch mode {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0", "":
		return false, nil
	case "auto":
		return interactive, nil
	}
	return false, fmt.Errorf("invalid --tui value %q (must be on, off, or auto)", mode)
}
