package gate

import (
	"sync"

	"devicecal/internal/method"
)

// pending is an operation waiting for a permission result.
type pending struct {
	op    method.Operation
	reply method.Reply
}

// Registry maps correlation tokens to pending operations. Tokens come from a
// monotonic counter and are never reused.
type Registry struct {
	mu      sync.Mutex
	next    int64
	entries map[int64]pending
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]pending)}
}

// Add stores op and reply and returns the token that resumes them.
func (r *Registry) Add(op method.Operation, reply method.Reply) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries[r.next] = pending{op: op, reply: reply}
	return r.next
}

// Take removes and returns the entry for token. Only one caller can take a
// given token.
func (r *Registry) Take(token int64) (pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[token]
	if ok {
		delete(r.entries, token)
	}
	return p, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
