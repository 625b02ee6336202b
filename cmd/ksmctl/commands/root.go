// Package commands holds the ksmctl subcommands.
package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/animalet/sargantana-ksm/pkg/config"
	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/animalet/sargantana-ksm/pkg/logging"
	"github.com/animalet/sargantana-ksm/pkg/starter"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitRestart means the one-time token was redeemed and the process must restart without it.
	ExitRestart = 3
)

// ExitCode maps the error returned by a command to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case ksmerr.IsTokenConsumed(err):
		return ExitRestart
	default:
		return ExitFailure
	}
}

// Globals holds the persistent flags and the state shared by every command.
type Globals struct {
	ConfigFile string
	EnvFile    string
	Connector  string
	Debug      bool

	logs *logging.Registry
}

// Close releases the log sinks.
func (g *Globals) Close() error {
	if g.logs == nil {
		return nil
	}
	return g.logs.Close()
}

// load reads the .env file, the configuration and sets up logging.
func (g *Globals) load(cmd *cobra.Command) (*config.Source, error) {
	if g.EnvFile != "" {
		if _, err := os.Stat(g.EnvFile); err == nil {
			if err = godotenv.Load(g.EnvFile); err != nil {
				return nil, errors.Wrapf(err, "failed to load environment file %q", g.EnvFile)
			}
		}
	}
	if g.ConfigFile == "" {
		return nil, errors.New("--config is required")
	}
	src, err := config.ReadConfig(g.ConfigFile)
	if err != nil {
		return nil, err
	}

	logCfg, err := config.GetOrDefault[logging.Config](src, "logging")
	if err != nil {
		return nil, err
	}
	if g.Debug {
		logCfg.Level = "debug"
	}
	if g.logs, err = logging.Configure(*logCfg, cmd.ErrOrStderr()); err != nil {
		return nil, err
	}
	return src, nil
}

func (g *Globals) starter(ctx context.Context, src *config.Source, connect bool) (*starter.Starter, error) {
	var sm ksm.SecretsManager
	if connect {
		var err error
		if sm, err = ksm.Open(ctx, g.Connector); err != nil {
			return nil, err
		}
	}
	return starter.New(src, sm, starter.WithLogging(g.logs)), nil
}

// NewRootCommand builds the ksmctl command tree.
func NewRootCommand(g *Globals, version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "ksmctl",
		Short: "Bootstrap and inspect the Keeper Secrets Manager integration",
		Long: `ksmctl runs the KSM startup sequence outside of the application: it redeems a
one-time token, validates IL5 compliance and shows the projected record properties.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&g.ConfigFile, "config", "c", "", "Configuration file (.yaml, .yml or .toml)")
	root.PersistentFlags().StringVar(&g.EnvFile, "env-file", ".env", "Environment file loaded before placeholders are expanded")
	root.PersistentFlags().StringVar(&g.Connector, "connector", "keeper", "Registered KSM connector")
	root.PersistentFlags().BoolVar(&g.Debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		NewRunCommand(g),
		NewCheckCommand(g),
		NewPropertiesCommand(g),
		NewKeystoreTypeCommand(g),
		NewVersionCommand(version),
	)
	return root
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
