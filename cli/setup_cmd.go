package cli

import (
	"github.com/spf13/cobra"
)

func newSetupCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the schema and table and load the initial snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := o.load(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			a, err := newApp(config, NewPrompter(cmd.InOrStdin(), out, config.AssumeYes), out)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.setup(cmd.Context())
		},
	}
}
