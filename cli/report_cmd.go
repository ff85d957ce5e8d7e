package cli

import (
	"github.com/spf13/cobra"
)

func newReportCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report [runID]",
		Short: "Show a saved simulation report",
		Long:  "Show the report saved under runID, or the most recent one when runID is omitted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := o.load(cmd)
			if err != nil {
				return err
			}

			runID := latestReport
			if len(args) == 1 {
				runID = args[0]
			}
			report, err := loadReport(cmd.Context(), &config.Report.Store, runID)
			if err != nil {
				return err
			}
			return report.Write(cmd.OutOrStdout(), config.Report.Format)
		},
	}
}
