// Package cli implements the gasketvision command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/gasketvision/internal/config"
	"github.com/ayusman/gasketvision/internal/logging"
	"github.com/ayusman/gasketvision/internal/store"
	"github.com/ayusman/gasketvision/internal/telemetry"
)

// ErrRejected is returned by analyze when the part fails inspection.
var ErrRejected = errors.New("inspection rejected")

// env is the state shared by the subcommands once the root pre-run has
// loaded the configuration.
type env struct {
	version    string
	configPath string
	logLevel   string

	provider *config.FileProvider
	settings *config.Settings
	logger   *logging.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	e := &env{version: version}

	root := &cobra.Command{
		Use:           "gasketvision",
		Short:         "Vision-guided gasket inspection",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.setup(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			e.teardown()
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "config file (default: gasketvision.yaml in ., the user config dir or /etc/gasketvision)")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override log.level")

	root.AddCommand(
		newServeCommand(e),
		newAnalyzeCommand(e),
		newTemplatesCommand(e),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, version string, args []string) int {
	root := NewRootCommand(version)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrRejected):
		return 2
	default:
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return 1
	}
}

func (e *env) setup(cmd *cobra.Command) error {
	p, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	s, err := p.Snapshot()
	if err != nil {
		return err
	}
	if e.logLevel != "" {
		s.Log.Level = e.logLevel
	}
	if s.Debug && e.logLevel == "" {
		s.Log.Level = "debug"
	}

	logger, err := logging.New(s.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if _, err := telemetry.Init(s.Sentry, e.version, nil); err != nil {
		logger.Warn("telemetry disabled", "error", err)
	}

	e.provider, e.settings, e.logger = p, s, logger
	if f := p.ConfigFile(); f != "" {
		logger.Debug("configuration loaded", "file", f)
	}
	return nil
}

func (e *env) teardown() {
	telemetry.Flush(2 * time.Second)
	if e.logger != nil {
		_ = e.logger.Close()
	}
}

func (e *env) openStore() (*store.Store, error) {
	path := e.settings.Store.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	return store.New(path)
}
