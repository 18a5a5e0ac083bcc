package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"devicecal/internal/apperr"
	"devicecal/internal/calendar"
	"devicecal/internal/config"
	appLog "devicecal/internal/log"
	"devicecal/internal/method"
	"devicecal/internal/permission"
	"devicecal/internal/pipeline"
	"devicecal/internal/plugin"
	"devicecal/internal/provider"
	"devicecal/internal/provider/memstore"
	"devicecal/internal/provider/sqlstore"
)

// app is one wired instance of the calendar mediator.
type app struct {
	cfg     *config.Config
	mode    permission.Mode
	mem     *memstore.Store
	sql     *sqlstore.Store
	store   *calendar.Store
	table   *permission.Table
	pipe    *pipeline.Pipeline
	handler *plugin.Handler
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, _ := cfg.Location()
	color, _ := cfg.CalendarColor()
	mode, _ := permission.ParseMode(cfg.Permissions.Mode)
	expand := provider.ExpandConfig{MaxOccurrences: cfg.MaxOccurrences, DefaultLocation: loc}

	a := &app{cfg: cfg, mode: mode}

	var p provider.Provider
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		s, err := sqlstore.Open(ctx, cfg.Store.DSN, sqlstore.WithExpandConfig(expand))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		a.sql, p = s, s
	default:
		m := memstore.New(memstore.WithExpandConfig(expand))
		if path := cfg.Store.SnapshotPath; path != "" {
			if err := m.LoadFile(path); err != nil {
				return nil, fmt.Errorf("load snapshot: %w", err)
			}
			appLog.Info("snapshot loaded", "path", path, "calendars", m.Len(provider.Calendars), "events", m.Len(provider.Events))
		}
		a.mem, p = m, m
	}
	a.store = calendar.New(p, calendar.WithLocation(loc), calendar.WithDefaultColor(color))

	var auth permission.Authorizer
	switch mode {
	case permission.ModeUnsupported:
		auth = permission.Unsupported{}
	case permission.ModeGranted:
		a.table = permission.NewTable(permission.Required...)
		auth = a.table
	default:
		a.table = permission.NewTable()
		auth = a.table
	}

	pipe, err := pipeline.New(ctx, cfg.Workers)
	if err != nil {
		a.closeProvider()
		return nil, err
	}
	a.pipe = pipe
	a.handler = plugin.New(a.store, auth, pipe)

	if mode == permission.ModeDenied {
		a.table.SetRequester(func(_ []permission.Capability, token int64) {
			a.handler.OnPermissionResult(ctx, token, nil)
		})
	}

	appLog.Info("devicecal ready",
		"driver", cfg.Store.Driver,
		"permissions", string(mode),
		"workers", cfg.Workers,
		"timezone", loc.String(),
	)
	return a, nil
}

// usePrompt makes permission requests ask on out and read the answer from
// in. It only applies in prompt mode.
func (a *app) usePrompt(ctx context.Context, in io.Reader, out io.Writer) {
	if a.mode != permission.ModePrompt {
		return
	}
	r := bufio.NewReader(in)
	a.table.SetRequester(func(caps []permission.Capability, token int64) {
		go func() {
			fmt.Fprintf(out, "Allow access to %s? [y/N] ", joinCaps(caps))
			line, err := r.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				appLog.Error("permission prompt read failed", err)
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			ok := answer == "y" || answer == "yes"
			granted := make([]bool, len(caps))
			for i := range granted {
				granted[i] = ok
			}
			a.handler.OnPermissionResult(ctx, token, granted)
		}()
	})
}

func joinCaps(caps []permission.Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}

// call runs op through the handler and waits for its reply.
func (a *app) call(ctx context.Context, op method.Operation) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	a.handler.Call(ctx, op, method.ReplyFuncs{
		OnSuccess: func(result any) { done <- outcome{result: result} },
		OnError: func(code apperr.Code, message string) {
			done <- outcome{err: &apperr.Error{Code: code, Message: message}}
		},
	})
	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ensureAccess asks for calendar access once, the way requestPermissions
// does, and fails with NotAuthorized when it is refused.
func (a *app) ensureAccess(ctx context.Context) error {
	res, err := a.call(ctx, method.RequestPermissions{})
	if err != nil {
		return err
	}
	if ok, _ := res.(bool); !ok {
		return apperr.NotAuthorized()
	}
	return nil
}

// flush writes the memory store snapshot when one is configured.
func (a *app) flush() error {
	if a.mem == nil || a.cfg.Store.SnapshotPath == "" {
		return nil
	}
	if err := a.mem.SaveFile(a.cfg.Store.SnapshotPath); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	appLog.Debug("snapshot saved", "path", a.cfg.Store.SnapshotPath)
	return nil
}

// close drains the pipeline, then persists and releases the provider.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.handler != nil {
		if n := a.handler.Pending(); n > 0 {
			appLog.Warn("closing with unanswered permission requests", "pending", n)
		}
	}
	if a.pipe != nil {
		if err := a.pipe.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.flush(); err != nil {
		errs = append(errs, err)
	}
	if err := a.closeProvider(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) closeProvider() error {
	if a.sql != nil {
		return a.sql.Close()
	}
	return nil
}
