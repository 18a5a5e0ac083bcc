package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"devicecal/internal/apperr"
	appLog "devicecal/internal/log"
	"devicecal/internal/method"
	"devicecal/internal/permission"
	"devicecal/internal/plugin"
)

const maxLineSize = 4 << 20

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-lines method calls on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				srv := newServer(a.handler, cmd.OutOrStdout())
				if a.mode == permission.ModePrompt {
					a.table.SetRequester(srv.requestPermission)
				}

				if a.mem != nil && a.cfg.Store.SnapshotPath != "" {
					c := cron.New()
					if _, err := c.AddFunc(a.cfg.Store.SnapshotCron, func() {
						if err := a.flush(); err != nil {
							appLog.Error("snapshot flush failed", err)
						}
					}); err != nil {
						return err
					}
					c.Start()
					defer func() { <-c.Stop().Done() }()
					appLog.Info("snapshot flush scheduled", "cron", a.cfg.Store.SnapshotCron)
				}

				appLog.Info("serving", "in", "stdin", "out", "stdout")
				return srv.serve(ctx, cmd.InOrStdin())
			})
		},
	}
}

// inbound is one request line. Exactly one of Method or PermissionResult
// is set.
type inbound struct {
	ID               json.RawMessage   `json:"id,omitempty"`
	Method           string            `json:"method,omitempty"`
	Args             json.RawMessage   `json:"args,omitempty"`
	PermissionResult *permissionResult `json:"permission_result,omitempty"`
}

type permissionResult struct {
	Token   int64  `json:"token"`
	Granted []bool `json:"granted"`
}

type resultLine struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
}

type wireError struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

type errorLine struct {
	ID    json.RawMessage `json:"id"`
	Error wireError       `json:"error"`
}

type permissionRequest struct {
	Token        int64                   `json:"token"`
	Capabilities []permission.Capability `json:"capabilities"`
}

type permissionRequestLine struct {
	PermissionRequest permissionRequest `json:"permission_request"`
}

// server speaks the line protocol: one JSON request per input line, one
// JSON reply per output line, in completion order.
type server struct {
	h *plugin.Handler

	mu  sync.Mutex
	enc *json.Encoder
}

func newServer(h *plugin.Handler, out io.Writer) *server {
	return &server{h: h, enc: json.NewEncoder(out)}
}

func (s *server) send(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		appLog.Error("serve: write failed", err)
	}
}

func (s *server) requestPermission(caps []permission.Capability, token int64) {
	s.send(permissionRequestLine{PermissionRequest: permissionRequest{Token: token, Capabilities: caps}})
}

// serve reads requests until in is exhausted or ctx is canceled. Replies
// still in flight are delivered by the pipeline when the app is closed.
func (s *server) serve(ctx context.Context, in io.Reader) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			appLog.Info("serve: canceled")
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			s.handle(ctx, line)
		}
	}
}

func (s *server) handle(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}
	var req inbound
	if err := json.Unmarshal(line, &req); err != nil {
		s.fail(nil, apperr.InvalidArgument("malformed request: %v", err))
		return
	}

	if pr := req.PermissionResult; pr != nil {
		if !s.h.OnPermissionResult(ctx, pr.Token, pr.Granted) {
			appLog.Warn("serve: permission result for unknown token", "token", pr.Token)
		}
		return
	}

	args := req.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	op, err := method.Decode(req.Method, args)
	if err != nil {
		s.fail(req.ID, err)
		return
	}
	id := req.ID
	s.h.Call(ctx, op, method.ReplyFuncs{
		OnSuccess: func(result any) { s.send(resultLine{ID: id, Result: result}) },
		OnError: func(code apperr.Code, message string) {
			s.send(errorLine{ID: id, Error: wireError{Code: code, Message: message}})
		},
	})
}

func (s *server) fail(id json.RawMessage, err error) {
	code, msg := apperr.Reply(err)
	s.send(errorLine{ID: id, Error: wireError{Code: code, Message: msg}})
}
