package main

import (
	"os"

	"github.com/doughall/notifier/internal/config"
	"github.com/doughall/notifier/internal/version"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "notifier",
		Short:         "Cron-scheduled desktop notifications",
		Long:          "notifier shows notifications on 7-field cron schedules ({sec} {min} {hour} {day of month} {month} {day of week} {year}).",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetVersionTemplate(version.Info() + "\n")
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(), "path to configuration file")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(),
		newNextCmd(opts),
		newListCmd(opts),
		newAddCmd(opts),
		newRemoveCmd(opts),
		newHistoryCmd(opts),
		newInstallCmd(opts),
		newUninstallCmd(opts),
		newStatusCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version.Info())
		},
	}
}
