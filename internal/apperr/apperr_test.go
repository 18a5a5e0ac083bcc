package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReply(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code Code
		msg  string
	}{
		{"invalid", InvalidArgument("Calendar ID %q is invalid", "x"), CodeInvalidArgument, `Calendar ID "x" is invalid`},
		{"wrapped not found", fmt.Errorf("get: %w", NotFound("Calendar 7 not found")), CodeNotFound, "Calendar 7 not found"},
		{"not authorized", NotAuthorized(), CodeNotAuthorized, NotAuthorizedMessage},
		{"generic", Generic(errors.New("db closed")), CodeGeneric, "db closed"},
		{"plain", errors.New("boom"), CodeGeneric, "boom"},
		{"sentinel", ErrNotAllowed, CodeNotAllowed, "NotAllowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, msg := Reply(tc.err)
			assert.Equal(t, tc.code, code)
			assert.Equal(t, tc.msg, msg)
			assert.Equal(t, tc.code, CodeOf(tc.err))
		})
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("op: %w", NotAllowed("Calendar is read-only"))
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	cause := errors.New("cursor closed")
	wrapped := Wrap(cause)
	assert.ErrorIs(t, wrapped, ErrGeneric)
	assert.ErrorIs(t, wrapped, cause)

	coded := NotFound("missing")
	assert.Same(t, coded, Wrap(coded))
}
