package commands

import (
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command, which performs a full KSM startup.
func NewRunCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the KSM startup sequence",
		Long: `Run binds keeper.ksm, validates compliance, then either redeems the configured
one-time token (exit code 3: restart without the token) or loads the stored credentials
and projects the configured records.`,
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
			count := 0
			if published.Records != nil {
				count = published.Records.Len()
			}
			printf(cmd, "KSM ready: credentials from %s, %d record properties\n", published.Target, count)
			return nil
		},
	}
}
