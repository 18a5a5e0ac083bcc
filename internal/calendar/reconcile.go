package calendar

import (
	"context"
	"strings"

	"devicecal/internal/model"
	"devicecal/internal/provider"
)

// Reconciler keeps an event's attendees and reminders in line with an
// incoming event. Attendees are diffed by email address; reminders are
// replaced wholesale.
type Reconciler struct {
	p provider.Provider
}

func NewReconciler(p provider.Provider) *Reconciler {
	return &Reconciler{p: p}
}

// AttendeeDiff lists the attendee writes needed to move from the persisted
// set to the incoming one.
type AttendeeDiff struct {
	Delete []model.Attendee
	Insert []model.Attendee
}

// Empty reports whether no writes are needed.
func (d AttendeeDiff) Empty() bool {
	return len(d.Delete) == 0 && len(d.Insert) == 0
}

func sameEmail(a, b model.Attendee) bool {
	return strings.EqualFold(strings.TrimSpace(a.EmailAddress), strings.TrimSpace(b.EmailAddress))
}

func containsEmail(set []model.Attendee, a model.Attendee) bool {
	for _, x := range set {
		if sameEmail(x, a) {
			return true
		}
	}
	return false
}

// DiffAttendees compares persisted and incoming attendees by email address.
// Attendees present on both sides are left out of the diff, even if their
// role or status changed.
func DiffAttendees(persisted, incoming []model.Attendee) AttendeeDiff {
	var d AttendeeDiff
	for _, a := range persisted {
		if !containsEmail(incoming, a) {
			d.Delete = append(d.Delete, a)
		}
	}
	for _, a := range incoming {
		if !containsEmail(persisted, a) {
			d.Insert = append(d.Insert, a)
		}
	}
	return d
}

// Attendees reads the attendees stored for eventID.
func (r *Reconciler) Attendees(ctx context.Context, eventID int64) ([]model.Attendee, error) {
	rows, err := r.p.Query(ctx, provider.Attendees, attendeeProjection,
		provider.Where(provider.Eq(provider.ColEventID, eventID)), provider.Asc(provider.ColID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Attendee
	for rows.Next() {
		_, a, err := decodeAttendee(rows.Row())
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Reminders reads the reminders stored for eventID.
func (r *Reconciler) Reminders(ctx context.Context, eventID int64) ([]model.Reminder, error) {
	rows, err := r.p.Query(ctx, provider.Reminders, reminderProjection,
		provider.Where(provider.Eq(provider.ColEventID, eventID)), provider.Asc(provider.ColID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reminder
	for rows.Next() {
		_, rem, err := decodeReminder(rows.Row())
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// ReconcileAttendees applies the diff between the stored attendees and
// incoming. All deletions complete before any insertion.
func (r *Reconciler) ReconcileAttendees(ctx context.Context, eventID int64, incoming []model.Attendee) (AttendeeDiff, error) {
	persisted, err := r.Attendees(ctx, eventID)
	if err != nil {
		return AttendeeDiff{}, err
	}
	d := DiffAttendees(persisted, incoming)

	for _, a := range d.Delete {
		_, err := r.p.Delete(ctx, provider.Attendees, provider.Where(
			provider.Eq(provider.ColEventID, eventID),
			provider.Eq(provider.ColAttendeeEmail, a.EmailAddress),
		))
		if err != nil {
			return d, err
		}
	}
	if len(d.Insert) == 0 {
		return d, nil
	}
	values := make([]provider.Values, 0, len(d.Insert))
	for _, a := range d.Insert {
		values = append(values, encodeAttendee(eventID, a))
	}
	if _, err := r.p.BulkInsert(ctx, provider.Attendees, values); err != nil {
		return d, err
	}
	return d, nil
}

// ReplaceReminders deletes every reminder of eventID and inserts reminders.
func (r *Reconciler) ReplaceReminders(ctx context.Context, eventID int64, reminders []model.Reminder) error {
	if _, err := r.p.Delete(ctx, provider.Reminders, provider.Where(provider.Eq(provider.ColEventID, eventID))); err != nil {
		return err
	}
	if len(reminders) == 0 {
		return nil
	}
	values := make([]provider.Values, 0, len(reminders))
	for _, rem := range reminders {
		values = append(values, encodeReminder(eventID, rem))
	}
	_, err := r.p.BulkInsert(ctx, provider.Reminders, values)
	return err
}
