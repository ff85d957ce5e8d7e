// Package cli cdcgen 命令行：run, setup, teardown, report
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configFile string
	sets       []string
	assumeYes  bool
	format     string
	environ    func() []string
}

// load 读取配置，命令行标志优先于配置项
func (o *rootOptions) load(cmd *cobra.Command) (*Config, error) {
	config, err := LoadConfig(o.configFile, o.sets, o.environ)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("yes") {
		config.AssumeYes = o.assumeYes
	}
	if cmd.Flags().Changed("output") {
		config.Report.Format = o.format
	}
	return config, nil
}

// Execute 执行命令，返回进程退出码
func Execute() int {
	rootCmd := newRootCmd(os.Environ)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(environ func() []string) *cobra.Command {
	o := &rootOptions{environ: environ}

	rootCmd := &cobra.Command{
		Use:           "cdcgen",
		Short:         "Synthetic CDC workload generator",
		Long:          "cdcgen creates a table, keeps inserting, updating and deleting rows, and adds or drops columns along the way so that CDC consumers see an evolving schema.",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&o.configFile, "config", "c", "", "Config file (.yaml, .toml, .ini, .json, .env)")
	rootCmd.PersistentFlags().StringArrayVar(&o.sets, "set", nil, "Override a config key, e.g. --set simulation.batchSize=1000")
	rootCmd.PersistentFlags().BoolVarP(&o.assumeYes, "yes", "y", false, "Answer yes to every prompt that defaults to yes")
	rootCmd.PersistentFlags().StringVarP(&o.format, "output", "o", "text", "Report format (text, json)")

	rootCmd.AddCommand(newRunCmd(o))
	rootCmd.AddCommand(newSetupCmd(o))
	rootCmd.AddCommand(newTeardownCmd(o))
	rootCmd.AddCommand(newReportCmd(o))

	return rootCmd
}
