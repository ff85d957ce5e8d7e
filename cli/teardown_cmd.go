package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTeardownCmd(o *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Drop the simulated table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := o.load(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			prompter := NewPrompter(cmd.InOrStdin(), out, config.AssumeYes)
			a, err := newApp(config, prompter, out)
			if err != nil {
				return err
			}
			defer a.Close()

			table := config.Table.String()
			if !force && !prompter.Confirm(fmt.Sprintf("Drop table '%s'?", table), false) {
				fmt.Fprintln(out, "Table kept")
				return nil
			}
			outcome, err := a.driver.DropTable(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Table '%s' %s\n", table, outcome)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Drop without asking")
	return cmd
}
