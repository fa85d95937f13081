package main

import (
	"fmt"
	"time"

	"github.com/doughall/notifier/internal/cronexpr"
	"github.com/spf13/cobra"
)

const timeLayout = "Mon 2006-01-02 15:04:05 MST"

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <cron>",
		Short: "Check a 7-field cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cronexpr.Check(args[0]); err != nil {
				cmd.PrintErrf("invalid: %v\nexpected: %s\n", err, cronexpr.Template)
				return &exitError{err: err}
			}
			cmd.Println("valid")
			return nil
		},
	}
}

func newNextCmd(opts *rootOptions) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "next <cron>",
		Short: "Preview the next fire times of a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			sched, err := cronexpr.ParseInLocation(args[0], loc)
			if err != nil {
				cmd.PrintErrf("invalid: %v\nexpected: %s\n", err, cronexpr.Template)
				return &exitError{err: err}
			}

			times := cronexpr.Take(sched.Upcoming(time.Now()), count)
			if len(times) == 0 {
				cmd.Println("never fires")
				return nil
			}
			for _, t := range times {
				cmd.Println(t.Format(timeLayout))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of fire times to show")
	return cmd
}

func nextLabel(sched *cronexpr.Schedule, after time.Time) string {
	next := sched.Next(after)
	if next.IsZero() {
		return "never"
	}
	return fmt.Sprintf("%s (in %s)", next.Format(timeLayout), next.Sub(after).Round(time.Second))
}
