package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hatlonely/cdcgen/simulation"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Set up the table and run the simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := o.load(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			prompter := NewPrompter(cmd.InOrStdin(), out, config.AssumeYes)
			a, err := newApp(config, prompter, out)
			if err != nil {
				return err
			}
			defer a.Close()

			if config.SkipSetup {
				if err := a.driver.Sync(ctx); err != nil {
					return errors.WithMessage(err, "take over table failed")
				}
			} else {
				if err := a.setup(ctx); err != nil {
					return err
				}
				if !prompter.Confirm("Start CDC simulation now?", true) {
					fmt.Fprintln(out, "Exiting without running simulation")
					return nil
				}
			}

			return a.run(ctx)
		},
	}
}

// run 执行模拟，结束或中断后输出并保存报告
func (a *app) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.metrics.Serve(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return a.driver.Run(gctx)
	})
	runErr := g.Wait()

	// 中断后仍需要输出报告和清理
	cleanupCtx := context.WithoutCancel(ctx)
	report := a.driver.Report()
	if err := report.Write(a.out, a.config.Report.Format); err != nil {
		return err
	}
	if err := a.saveReport(cleanupCtx, report); err != nil {
		a.logger.Warn("save report failed", "error", err)
	}
	if err := a.metrics.Push(cleanupCtx); err != nil {
		a.logger.Warn("push metrics failed", "error", err)
	}

	if a.driver.State() != simulation.StateInterrupted {
		return runErr
	}

	if a.prompter.Confirm(fmt.Sprintf("Drop table '%s'?", a.config.Table.String()), false) {
		if _, err := a.driver.DropTable(cleanupCtx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Table dropped")
	}

	// 用户中断不算失败
	if ctx.Err() != nil && errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}
