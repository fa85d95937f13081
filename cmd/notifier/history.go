package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/doughall/notifier/internal/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently fired notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("%w (is the daemon running? the history is locked while it runs; try the status API)", err)
			}
			defer store.Close()

			records, err := store.Recent(limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				cmd.Println("No notifications fired yet.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCHEDULED\tLABEL\tLEVEL\tDELIVERED\tERRORS")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.ScheduledAt.Local().Format(timeLayout),
					r.Label,
					r.Level,
					strings.Join(r.Delivered, ","),
					formatErrors(r.Errors),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "count", "n", 20, "number of records to show")
	return cmd
}

func formatErrors(errs map[string]string) string {
	if len(errs) == 0 {
		return "-"
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + errs[name]
	}
	return strings.Join(parts, "; ")
}
