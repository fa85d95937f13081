package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/doughall/notifier/internal/cronexpr"
	"github.com/doughall/notifier/internal/notifications"
	"github.com/doughall/notifier/internal/scheduler"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List notifications with their next fire time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			list, err := notifications.Load(cfg.NotificationsPath)
			if errors.Is(err, notifications.ErrNotFound) {
				cmd.Printf("'%s' doesn't exist\n", cfg.NotificationsPath)
				return nil
			}
			if err != nil {
				return err
			}
			if len(list) == 0 {
				cmd.Println("No notifications.")
				return nil
			}

			parser := cronexpr.NewParser(loc)
			now := time.Now()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tLABEL\tLEVEL\tCRON\tNEXT")
			for i, n := range list {
				next := ""
				if err := n.Validate(); err != nil {
					next = "invalid: " + err.Error()
				} else if sched, err := parser.Parse(n.Cron); err != nil {
					next = "invalid: " + err.Error()
				} else {
					next = nextLabel(sched, now)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i, n.Label, scheduler.ParseLevel(n.Level), n.Cron, next)
			}
			return w.Flush()
		},
	}
}

func newAddCmd(opts *rootOptions) *cobra.Command {
	var n notifications.Notification

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a notification",
		Long:  "Add a notification. Missing fields are asked for interactively when stdin is a terminal.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if (n.Label == "" || n.Cron == "") && isTerminal(os.Stdin) {
				if err := promptNotification(&n); err != nil {
					return err
				}
			}
			if err := notifications.Append(cfg.NotificationsPath, n); err != nil {
				return err
			}
			cmd.Printf("Added %q (%s) to %s\n", n.Label, n.Cron, cfg.NotificationsPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&n.Label, "label", "l", "", "notification text")
	cmd.Flags().StringVar(&n.Cron, "cron", "", "7-field cron expression: "+cronexpr.Template)
	cmd.Flags().StringVar(&n.Level, "level", string(scheduler.LevelInfo), "Info, Warning or Critical")
	return cmd
}

func promptNotification(n *notifications.Notification) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Label").
				Value(&n.Label).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return notifications.ErrLabelRequired
					}
					return nil
				}),
			huh.NewInput().
				Title("Cron").
				Description(cronexpr.Template).
				Value(&n.Cron).
				Validate(cronexpr.Check),
			huh.NewSelect[string]().
				Title("Level").
				Options(huh.NewOptions(
					string(scheduler.LevelInfo),
					string(scheduler.LevelWarning),
					string(scheduler.LevelCritical),
				)...).
				Value(&n.Level),
		),
	)
	return form.Run()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <index>",
		Short: "Remove a notification by its index in `list`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid index %q", args[0])
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			removed, err := notifications.RemoveAt(cfg.NotificationsPath, index)
			if err != nil {
				return err
			}
			cmd.Printf("Removed %q\n", removed.Label)
			return nil
		},
	}
}
