package commands

import (
	"github.com/spf13/cobra"
)

// NewCheckCommand creates the check command, which runs the IL5 checks without touching KSM.
func NewCheckCommand(g *Globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate IL5 compliance without touching credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src, err := g.load(cmd)
			if err != nil {
				return err
			}
			s, err := g.starter(cmd.Context(), src, false)
			if err != nil {
				return err
			}
			props, result, err := s.Check()
			if err != nil {
				return err
			}
			provider, _ := props.Provider()
			switch {
			case !result.Checked:
				printf(cmd, "IL5 enforcement is disabled for %s\n", provider)
			case len(result.Warnings) == 0:
				printf(cmd, "%s passes every IL5 check\n", provider)
			default:
				printf(cmd, "%s accepted with %d warning(s):\n", provider, len(result.Warnings))
				for _, w := range result.Warnings {
					printf(cmd, "  - %s\n", w)
				}
			}
			return nil
		},
	}
}
