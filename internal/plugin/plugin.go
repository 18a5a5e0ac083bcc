// Package plugin is the operation surface: it authorizes each call through
// the gate, runs it on the pipeline against the calendar store and completes
// the caller's reply exactly once.
package plugin

import (
	"context"

	"devicecal/internal/apperr"
	"devicecal/internal/calendar"
	"devicecal/internal/gate"
	appLog "devicecal/internal/log"
	"devicecal/internal/method"
	"devicecal/internal/permission"
	"devicecal/internal/pipeline"
)

type Handler struct {
	store *calendar.Store
	auth  permission.Authorizer
	pipe  *pipeline.Pipeline
	gate  *gate.Gate
}

func New(store *calendar.Store, auth permission.Authorizer, pipe *pipeline.Pipeline) *Handler {
	h := &Handler{store: store, auth: auth, pipe: pipe}
	h.gate = gate.New(auth, h.dispatch, gate.WithDenied(h.deny))
	return h
}

// Call handles op. reply receives exactly one outcome, possibly after a
// permission prompt has been answered through OnPermissionResult.
func (h *Handler) Call(ctx context.Context, op method.Operation, reply method.Reply) {
	reply = method.Once(reply)
	if _, ok := op.(method.HasPermissions); ok {
		reply.Success(h.gate.Granted())
		return
	}
	h.gate.CheckAndRun(ctx, op, reply)
}

// OnPermissionResult delivers the outcome of a permission prompt. It
// returns false when token does not belong to a pending call.
func (h *Handler) OnPermissionResult(ctx context.Context, token int64, granted []bool) bool {
	if rec, ok := h.auth.(permission.Recorder); ok {
		rec.Record(permission.Required, granted)
	}
	return h.gate.OnAuthorizationResult(ctx, token, permission.AllGranted(granted))
}

// Pending returns the number of calls waiting for a permission result.
func (h *Handler) Pending() int {
	return h.gate.Pending()
}

func (h *Handler) dispatch(_ context.Context, op method.Operation, reply method.Reply) {
	h.submit(op, reply, func(ctx context.Context) (any, error) {
		return h.Execute(ctx, op)
	})
}

// deny routes a refused call through the pipeline so its reply is ordered
// with every other completion.
func (h *Handler) deny(_ context.Context, op method.Operation, reply method.Reply) {
	h.submit(op, reply, func(context.Context) (any, error) {
		return gate.Denied(op)
	})
}

func (h *Handler) submit(op method.Operation, reply method.Reply, run func(ctx context.Context) (any, error)) {
	err := h.pipe.Submit(pipeline.Job{
		Run: run,
		Done: func(result any, err error) {
			if err != nil {
				method.Fail(reply, err)
				return
			}
			reply.Success(result)
		},
	})
	if err != nil {
		appLog.Error("plugin: submit failed", err, "kind", string(op.Kind()))
		method.Fail(reply, apperr.Generic(err))
	}
}

// Execute runs an authorized op against the store.
func (h *Handler) Execute(ctx context.Context, op method.Operation) (any, error) {
	switch o := op.(type) {
	case method.ListCalendars:
		return h.store.ListCalendars(ctx)
	case method.GetCalendar:
		return h.store.GetCalendar(ctx, o.CalendarID)
	case method.CreateCalendar:
		return h.store.CreateCalendar(ctx, o.Name, o.Color, o.AccountName)
	case method.UpdateCalendar:
		return h.store.UpdateCalendar(ctx, o.CalendarID, o.Visible)
	case method.DeleteCalendar:
		return h.store.DeleteCalendar(ctx, o.CalendarID)
	case method.QueryEvents:
		return h.store.QueryEvents(ctx, o.CalendarID, o.Start, o.End, o.EventIDs)
	case method.UpsertEvent:
		return h.store.UpsertEvent(ctx, o.CalendarID, o.Event)
	case method.DeleteEvent:
		return h.store.DeleteEvent(ctx, o.CalendarID, o.EventID, o.Start, o.End, o.FollowingInstances)
	case method.HasPermissions:
		return h.gate.Granted(), nil
	case method.RequestPermissions:
		return true, nil
	}
	return nil, apperr.InvalidArgument("unsupported operation %T", op)
}
