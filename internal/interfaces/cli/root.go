// Package cli implements the mapsync command line: the service itself, an
// offline simulator, journal tooling and a reader for the Redis state mirror.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/mapsync/internal/config"
	"github.com/turtacn/mapsync/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/mapsync/pkg/errors"
)

// Set with -ldflags "-X github.com/turtacn/mapsync/internal/interfaces/cli.Version=...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// configSearchPath lists the files tried, in order, when --config is unset.
func configSearchPath() []string {
	paths := []string{"./mapsync.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".mapsync", "config.yaml"))
	}
	return append(paths, "/etc/mapsync/config.yaml")
}

type globalFlags struct {
	configPath string
	logLevel   string
	output     string
	verbose    bool
}

// CLIContext is what every subcommand receives after the root pre-run: the
// loaded config and the process logger.
type CLIContext struct {
	Config       *config.Config
	ConfigPath   string
	Logger       logging.Logger
	OutputFormat string
	Verbose      bool
}

type cliContextKey struct{}

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "mapsync",
		Short: "Keep several map panes on one viewport across providers",
		Long: `mapsync synchronizes the viewport of map panes rendered by different providers,
arbitrating which pane the user is driving and coordinating panorama and
measurement modes.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := flags.bootstrap()
			if err != nil {
				return err
			}
			logging.SetDefault(cliCtx.Logger)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file path (default: ./mapsync.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVarP(&flags.output, "output", "o", formatText, "output format (text, json, table)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(NewServeCmd(), NewSimulateCmd(), NewJournalCmd(), NewMirrorCmd(), NewVersionCmd())
	return root
}

// bootstrap validates the global flags, then loads config and builds the
// logger.  Flags win over the config file.
func (f globalFlags) bootstrap() (*CLIContext, error) {
	format := strings.ToLower(f.output)
	if !validFormat(format) {
		return nil, errors.InvalidParam("unsupported output format").WithDetail(f.output)
	}

	path := f.configPath
	if path == "" {
		for _, candidate := range configSearchPath() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	var loadOpts []config.LoadOption
	if path != "" {
		loadOpts = append(loadOpts, config.WithConfigPath(path))
	}
	cfg, err := config.Load(loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("config initialization failed: %w", err)
	}

	logCfg := cfg.Log
	switch {
	case f.verbose:
		logCfg.Level = logging.LevelDebug
	case f.logLevel != "":
		logCfg.Level = strings.ToLower(f.logLevel)
	}
	if len(logCfg.OutputPaths) == 0 {
		// stdout belongs to command output.
		logCfg.OutputPaths = []string{"stderr"}
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("logger initialization failed: %w", err)
	}

	return &CLIContext{
		Config:       cfg,
		ConfigPath:   path,
		Logger:       logger,
		OutputFormat: format,
		Verbose:      f.verbose,
	}, nil
}

// GetCLIContext returns the context installed by the root pre-run.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	if ctx := cmd.Context(); ctx != nil {
		if cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext); ok && cliCtx != nil {
			return cliCtx, nil
		}
	}
	return nil, errors.New(errors.ErrCodeValidation, "command was not initialised by the root command")
}

// ExecuteContext runs the command tree under ctx and reports a failure on
// stderr.
func ExecuteContext(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}
