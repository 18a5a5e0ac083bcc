package method

import (
	"sync/atomic"

	"devicecal/internal/apperr"
	appLog "devicecal/internal/log"
)

// Reply receives the outcome of one call.
type Reply interface {
	Success(result any)
	Error(code apperr.Code, message string)
}

// ReplyFuncs adapts a pair of functions to Reply.
type ReplyFuncs struct {
	OnSuccess func(result any)
	OnError   func(code apperr.Code, message string)
}

func (r ReplyFuncs) Success(result any) {
	if r.OnSuccess != nil {
		r.OnSuccess(result)
	}
}

func (r ReplyFuncs) Error(code apperr.Code, message string) {
	if r.OnError != nil {
		r.OnError(code, message)
	}
}

type once struct {
	done  atomic.Bool
	reply Reply
}

// Once wraps r so that only the first outcome is delivered. Later outcomes
// are dropped and logged.
func Once(r Reply) Reply {
	if o, ok := r.(*once); ok {
		return o
	}
	return &once{reply: r}
}

func (o *once) Success(result any) {
	if !o.done.CompareAndSwap(false, true) {
		appLog.Warn("method: dropping duplicate success reply")
		return
	}
	o.reply.Success(result)
}

func (o *once) Error(code apperr.Code, message string) {
	if !o.done.CompareAndSwap(false, true) {
		appLog.Warn("method: dropping duplicate error reply", "code", string(code), "message", message)
		return
	}
	o.reply.Error(code, message)
}

// Fail completes r with the taxonomy code and message of err.
func Fail(r Reply, err error) {
	code, msg := apperr.Reply(err)
	r.Error(code, msg)
}
