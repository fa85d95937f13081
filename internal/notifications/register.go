package notifications

import (
	"errors"
	"fmt"

	"github.com/doughall/notifier/internal/cronexpr"
	"github.com/doughall/notifier/internal/scheduler"
)

// Registrar is the part of the scheduler a reload needs.
type Registrar interface {
	Replace(entries []scheduler.Entry) []scheduler.JobID
}

// Registered pairs a notification with the job created for it.
type Registered struct {
	Index        int
	Notification Notification
	JobID        scheduler.JobID
}

// Rejected is a notification that was not scheduled, with the reason.
type Rejected struct {
	Index        int
	Notification Notification
	Err          error
}

// Report describes the outcome of Register.
type Report struct {
	Registered []Registered
	Rejected   []Rejected
}

// Err joins the rejection reasons, or returns nil if every notification was scheduled.
func (r Report) Err() error {
	errs := make([]error, 0, len(r.Rejected))
	for _, rej := range r.Rejected {
		errs = append(errs, fmt.Errorf("notification %d (%q): %w", rej.Index, rej.Notification.Label, rej.Err))
	}
	return errors.Join(errs...)
}

// Register replaces everything registered in reg with the valid entries of
// list. Invalid entries are reported and skipped: a notification is either
// fully scheduled or not scheduled at all.
func Register(reg Registrar, parser *cronexpr.Parser, list []Notification) Report {
	var report Report
	entries := make([]scheduler.Entry, 0, len(list))
	accepted := make([]int, 0, len(list))

	for i, n := range list {
		if err := n.Validate(); err != nil {
			report.Rejected = append(report.Rejected, Rejected{Index: i, Notification: n, Err: err})
			continue
		}
		sched, err := parser.Parse(n.Cron)
		if err != nil {
			report.Rejected = append(report.Rejected, Rejected{Index: i, Notification: n, Err: err})
			continue
		}
		entries = append(entries, scheduler.Entry{Schedule: sched, Payload: n.Payload(i)})
		accepted = append(accepted, i)
	}

	ids := reg.Replace(entries)
	for k, id := range ids {
		i := accepted[k]
		report.Registered = append(report.Registered, Registered{Index: i, Notification: list[i], JobID: id})
	}
	return report
}
