package commands

import (
	"runtime"

	"github.com/animalet/sargantana-ksm/pkg/keystore"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printf(cmd, "ksmctl %s (%s, crypto: %s)\n", version, runtime.Version(), keystore.Runtime().Name())
		},
	}
}
