package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/doughall/notifier/internal/autostart"
	"github.com/doughall/notifier/internal/instance"
	"github.com/spf13/cobra"
)

func newInstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Start the notifier automatically with your session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := filepath.Abs(opts.configPath)
			if err != nil {
				return err
			}
			mgr, err := autostart.NewManager(path)
			if err != nil {
				return err
			}
			if err := mgr.Install(); err != nil {
				return err
			}
			cmd.Printf("Installed %s service (%s)\n", autostart.ServiceName, mgr.Platform())
			return nil
		},
	}
}

func newUninstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the auto-start service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := autostart.NewManager(opts.configPath)
			if err != nil {
				return err
			}
			if err := mgr.Uninstall(); err != nil {
				return err
			}
			cmd.Printf("Uninstalled %s service\n", autostart.ServiceName)
			return nil
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the notifier is installed and running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			state := autostart.StateUnknown
			if mgr, err := autostart.NewManager(opts.configPath); err == nil {
				if st, err := mgr.Status(); err == nil {
					state = st
				}
			}
			cmd.Printf("service: %s\n", state)

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			pid, running, err := instance.Running(ctx, cfg.PIDPath())
			if err != nil {
				return err
			}
			if running {
				cmd.Printf("daemon:  running (pid %d)\n", pid)
			} else {
				cmd.Println("daemon:  not running")
			}
			if cfg.Status.Listen != "" {
				cmd.Printf("status:  http://%s/api/status\n", cfg.Status.Listen)
			}
			return nil
		},
	}
}
