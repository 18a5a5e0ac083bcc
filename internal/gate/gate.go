// Package gate runs operations only once both calendar capabilities are
// granted, parking them under a correlation token until the permission
// result arrives.
package gate

import (
	"context"

	"devicecal/internal/apperr"
	appLog "devicecal/internal/log"
	"devicecal/internal/method"
	"devicecal/internal/permission"
)

// Runner executes an authorized operation and completes reply.
type Runner func(ctx context.Context, op method.Operation, reply method.Reply)

type Gate struct {
	auth     permission.Authorizer
	registry *Registry
	run      Runner
	deny     Runner
}

type Option func(*Gate)

// WithDenied replaces the runner that completes calls whose permission was
// refused. The default is Deny.
func WithDenied(deny Runner) Option {
	return func(g *Gate) {
		if deny != nil {
			g.deny = deny
		}
	}
}

func New(auth permission.Authorizer, run Runner, opts ...Option) *Gate {
	g := &Gate{auth: auth, registry: NewRegistry(), run: run, deny: Deny}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Denied is the outcome of op when permission is refused: requestPermissions
// resolves to false, everything else fails as not authorized.
func Denied(op method.Operation) (any, error) {
	if _, ok := op.(method.RequestPermissions); ok {
		return false, nil
	}
	return nil, apperr.NotAuthorized()
}

// Deny completes reply with Denied(op).
func Deny(_ context.Context, op method.Operation, reply method.Reply) {
	result, err := Denied(op)
	if err != nil {
		method.Fail(reply, err)
		return
	}
	reply.Success(result)
}

// Granted reports whether every required capability is granted.
func (g *Gate) Granted() bool {
	for _, c := range permission.Required {
		if !g.auth.IsGranted(c) {
			return false
		}
	}
	return true
}

// Pending returns the number of operations waiting for a permission result.
func (g *Gate) Pending() int {
	return g.registry.Len()
}

// CheckAndRun runs op at once when permitted. Otherwise op is parked and a
// single permission prompt is requested; the returned token identifies it
// and deferred is true.
func (g *Gate) CheckAndRun(ctx context.Context, op method.Operation, reply method.Reply) (token int64, deferred bool) {
	if g.Granted() {
		g.run(ctx, op, reply)
		return 0, false
	}
	token = g.registry.Add(op, reply)
	appLog.Debug("gate: deferring operation", "kind", string(op.Kind()), "token", token)
	g.auth.RequestGrant(permission.Required, token)
	return token, true
}

// OnAuthorizationResult resumes the operation parked under token. It returns
// false, leaving the registry untouched, when token is not one of ours.
func (g *Gate) OnAuthorizationResult(ctx context.Context, token int64, granted bool) bool {
	p, ok := g.registry.Take(token)
	if !ok {
		return false
	}
	appLog.Debug("gate: resuming operation", "kind", string(p.op.Kind()), "token", token, "granted", granted)
	if granted {
		g.run(ctx, p.op, p.reply)
	} else {
		g.deny(ctx, p.op, p.reply)
	}
	return true
}
