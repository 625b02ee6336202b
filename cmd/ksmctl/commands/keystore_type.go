package commands

import (
	"github.com/animalet/sargantana-ksm/pkg/compliance"
	"github.com/animalet/sargantana-ksm/pkg/keystore"
	"github.com/spf13/cobra"
)

// NewKeystoreTypeCommand creates the keystore-type command.
func NewKeystoreTypeCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "keystore-type [provider]",
		Short: "Show the keystore format used for a provider type",
		Long: `Keystore-type prints the keystore format and default file name for the given
provider type, or for keeper.ksm.container_type when no provider is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var provider compliance.ProviderType
			var err error
			if len(args) == 1 {
				provider, err = compliance.ParseProviderType(args[0])
			} else {
				provider, err = configuredProvider(cmd, g)
			}
			if err != nil {
				return err
			}

			format, err := keystore.Resolve(provider, keystore.Runtime())
			if err != nil {
				return err
			}
			if format.FileBased() {
				printf(cmd, "%s\t%s\n", format, keystore.DefaultFilename(format))
			} else {
				printf(cmd, "%s\n", format)
			}
			return nil
		},
	}
}

func configuredProvider(cmd *cobra.Command, g *Globals) (compliance.ProviderType, error) {
	src, err := g.load(cmd)
	if err != nil {
		return "", err
	}
	s, err := g.starter(cmd.Context(), src, false)
	if err != nil {
		return "", err
	}
	props, _, err := s.Check()
	if err != nil {
		return "", err
	}
	return props.Provider()
}
