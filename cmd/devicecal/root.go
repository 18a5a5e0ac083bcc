package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"devicecal/internal/config"
	appLog "devicecal/internal/log"
	"devicecal/internal/method"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgPath string
	conf    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "devicecal",
	Short: "Permission-gated access to the device calendar store",
	Long: `devicecal mediates calendar reads and writes against the device calendar
store. Every call is checked against the calendar permissions, runs on a
worker pool and gets exactly one reply.

Run a single method as a subcommand, or use "serve" to speak the
line-oriented JSON method protocol on stdin/stdout.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "config file")

	for _, k := range methodKinds {
		rootCmd.AddCommand(newMethodCmd(k))
	}
	rootCmd.AddCommand(newServeCmd(), newExportCmd(), newImportCmd())
}

func loadConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	appLog.SetLevel(appLog.ParseLevel(c.LogLevel))
	appLog.SetOutput(os.Stderr, c.LogFormat == "json")
	appLog.Debug("config loaded", "path", cfgPath)
	conf = c
	return nil
}

var methodKinds = []method.Kind{
	method.KindListCalendars,
	method.KindGetCalendar,
	method.KindCreateCalendar,
	method.KindUpdateCalendar,
	method.KindDeleteCalendar,
	method.KindQueryEvents,
	method.KindUpsertEvent,
	method.KindDeleteEvent,
	method.KindHasPermissions,
	method.KindRequestPermissions,
}

// newMethodCmd runs one method with its arguments given as a JSON object,
// e.g. devicecal getCalendar '{"calendarId":"1"}'.
func newMethodCmd(kind method.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   string(kind) + " [json-args]",
		Short: "Call " + string(kind),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := json.RawMessage(`{}`)
			if len(args) == 1 {
				raw = json.RawMessage(args[0])
			}
			op, err := method.Decode(string(kind), raw)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				a.usePrompt(ctx, cmd.InOrStdin(), cmd.ErrOrStderr())
				res, err := a.call(ctx, op)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

// withApp opens the app for one command and always closes it, even when
// the command context was canceled.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, conf)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := a.close(closeCtx); cerr != nil {
			appLog.Error("shutdown failed", cerr)
			if err == nil {
				err = cerr
			}
		}
	}()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
