package commands

import (
	"github.com/spf13/cobra"
)

const redacted = "********"

// NewPropertiesCommand creates the properties command. Values are redacted unless --reveal is given.
func NewPropertiesCommand(g *Globals) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "properties",
		Short: "List the properties projected from the configured records",
		Long: `Properties runs the startup sequence and lists every projected key. Values are
redacted unless --reveal is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := g.load(cmd)
			if err != nil {
				return err
			}
			s, err := g.starter(cmd.Context(), src, true)
			if err != nil {
				return err
			}
			published, err := s.Start(cmd.Context())
			if err != nil {
				return err
			}
			if published.Records == nil {
				printf(cmd, "No records configured under keeper.ksm.records\n")
				return nil
			}
			values := published.Records.Map()
			for _, key := range published.Records.Keys() {
				value := redacted
				if reveal {
					value = values[key]
				}
				printf(cmd, "%s=%s\n", key, value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print secret values")
	return cmd
}
