// Package permission models the platform's calendar capabilities and the
// collaborator that grants them.
package permission

import (
	"fmt"
	"strings"
	"sync"
)

type Capability string

const (
	ReadCalendar  Capability = "calendar.read"
	WriteCalendar Capability = "calendar.write"
)

// Required lists the capabilities every calendar operation needs.
var Required = []Capability{ReadCalendar, WriteCalendar}

// Authorizer is the platform permission collaborator.
type Authorizer interface {
	IsGranted(c Capability) bool
	// RequestGrant starts a prompt for caps and returns at once. The outcome
	// is delivered later, out of band, together with token.
	RequestGrant(caps []Capability, token int64)
}

// Recorder is implemented by authorizers that learn grants from results
// delivered out of band.
type Recorder interface {
	Record(caps []Capability, granted []bool)
}

// AllGranted reports whether granted is non-empty and every entry is true.
func AllGranted(granted []bool) bool {
	if len(granted) == 0 {
		return false
	}
	for _, g := range granted {
		if !g {
			return false
		}
	}
	return true
}

// Unsupported is the authorizer for platforms without runtime permission
// requests: everything is granted.
type Unsupported struct{}

func (Unsupported) IsGranted(Capability) bool         { return true }
func (Unsupported) RequestGrant([]Capability, int64) {}

// RequestFunc shows a permission prompt for caps.
type RequestFunc func(caps []Capability, token int64)

// Table is an Authorizer backed by an in-memory grant table. Prompts are
// forwarded to a RequestFunc; results come back through Record.
type Table struct {
	mu      sync.RWMutex
	granted map[Capability]bool
	request RequestFunc
}

var (
	_ Authorizer = (*Table)(nil)
	_ Recorder   = (*Table)(nil)
)

func NewTable(granted ...Capability) *Table {
	t := &Table{granted: make(map[Capability]bool)}
	for _, c := range granted {
		t.granted[c] = true
	}
	return t
}

// SetRequester installs the prompt used by RequestGrant.
func (t *Table) SetRequester(fn RequestFunc) {
	t.mu.Lock()
	t.request = fn
	t.mu.Unlock()
}

func (t *Table) IsGranted(c Capability) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.granted[c]
}

// RequestGrant must not be called with t's lock held; the requester may
// resolve synchronously.
func (t *Table) RequestGrant(caps []Capability, token int64) {
	t.mu.RLock()
	fn := t.request
	t.mu.RUnlock()
	if fn != nil {
		fn(caps, token)
	}
}

// Record stores the outcome for caps. Missing entries count as denied.
func (t *Table) Record(caps []Capability, granted []bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, c := range caps {
		t.granted[c] = i < len(granted) && granted[i]
	}
}

// Mode selects how permissions behave in the command line tool.
type Mode string

const (
	// ModeGranted starts with every capability granted.
	ModeGranted Mode = "granted"
	// ModePrompt asks the user on first use.
	ModePrompt Mode = "prompt"
	// ModeDenied refuses every request.
	ModeDenied Mode = "denied"
	// ModeUnsupported behaves like a platform without runtime permissions.
	ModeUnsupported Mode = "unsupported"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeGranted, ModePrompt, ModeDenied, ModeUnsupported:
		return m, nil
	case "":
		return ModeGranted, nil
	}
	return "", fmt.Errorf("unknown permission mode %q", s)
}
