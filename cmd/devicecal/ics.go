package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"devicecal/internal/ics"
	appLog "devicecal/internal/log"
	"devicecal/internal/method"
	"devicecal/internal/model"
)

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <calendarId>",
		Short: "Write a calendar as iCalendar (RFC 5545)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.usePrompt(ctx, cmd.InOrStdin(), cmd.ErrOrStderr())
				text, err := exportCalendar(ctx, a, args[0], time.Now())
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = io.WriteString(cmd.OutOrStdout(), text)
					return err
				}
				return os.WriteFile(output, []byte(text), 0o600)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func exportCalendar(ctx context.Context, a *app, calendarID string, stamp time.Time) (string, error) {
	if err := a.ensureAccess(ctx); err != nil {
		return "", err
	}
	res, err := a.call(ctx, method.GetCalendar{CalendarID: calendarID})
	if err != nil {
		return "", err
	}
	cal := res.(*model.Calendar)
	series, err := a.store.ListSeries(ctx, calendarID)
	if err != nil {
		return "", err
	}
	appLog.Info("exporting calendar", "calendar_id", calendarID, "events", len(series))
	return ics.Export(*cal, series, stamp), nil
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <calendarId> <file|url>",
		Short: "Add the events of an iCalendar file or feed to a calendar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.usePrompt(ctx, cmd.InOrStdin(), cmd.ErrOrStderr())
				body, fromCache, err := readSource(ctx, a, args[1])
				if err != nil {
					return err
				}
				sum, err := importCalendar(ctx, a, args[0], body)
				if err != nil {
					return err
				}
				sum.FromCache = fromCache
				return printJSON(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func readSource(ctx context.Context, a *app, src string) ([]byte, bool, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		body, err := os.ReadFile(src)
		return body, false, err
	}
	res, err := ics.NewFetcher(cacheDir(a), nil).Fetch(ctx, src)
	if err != nil {
		return nil, false, err
	}
	return res.Body, res.FromCache, nil
}

func cacheDir(a *app) string {
	if a.cfg.ICSCacheDir != "" {
		return a.cfg.ICSCacheDir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "devicecal", "ics")
	}
	return filepath.Join(".devicecal", "ics")
}

type importSummary struct {
	EventIDs  []string `json:"eventIds"`
	Canceled  int      `json:"canceledInstances"`
	FromCache bool     `json:"fromCache,omitempty"`
}

// importCalendar upserts every event of body as a new event and then
// cancels its EXDATE occurrences one by one.
func importCalendar(ctx context.Context, a *app, calendarID string, body []byte) (importSummary, error) {
	sum := importSummary{EventIDs: []string{}}
	loc, _ := a.cfg.Location()
	items, err := ics.Import(body, loc)
	if err != nil {
		return sum, err
	}
	if err := a.ensureAccess(ctx); err != nil {
		return sum, err
	}

	following := false
	for _, im := range items {
		ev := im.Event
		res, err := a.call(ctx, method.UpsertEvent{CalendarID: calendarID, Event: &ev})
		if err != nil {
			return sum, fmt.Errorf("import %s: %w", im.UID, err)
		}
		id := res.(string)
		sum.EventIDs = append(sum.EventIDs, id)

		for _, ex := range im.ExDates {
			start, end := ex, ex.Add(time.Second)
			res, err := a.call(ctx, method.DeleteEvent{
				CalendarID:         calendarID,
				EventID:            id,
				Start:              &start,
				End:                &end,
				FollowingInstances: &following,
			})
			if err != nil {
				return sum, fmt.Errorf("import %s: cancel %s: %w", im.UID, ex.Format(time.RFC3339), err)
			}
			if ok, _ := res.(bool); ok {
				sum.Canceled++
			}
		}
	}
	appLog.Info("import finished", "calendar_id", calendarID, "events", len(sum.EventIDs), "canceled", sum.Canceled)
	return sum, nil
}
