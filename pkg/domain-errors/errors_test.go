package dErrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("finds code on direct error", func(t *testing.T) {
		err := New(CodeConflict, "duplicate contribution")
		assert.True(t, HasCode(err, CodeConflict))
		assert.False(t, HasCode(err, CodeNotFound))
	})

	t.Run("finds code through wrapping", func(t *testing.T) {
		inner := New(CodeInvariantViolation, "sum exceeds 100")
		outer := Wrap(inner, CodeConflict, "commit rejected")
		assert.True(t, HasCode(outer, CodeConflict))
		assert.True(t, HasCode(outer, CodeInvariantViolation))
	})

	t.Run("finds code through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeInvalidState, "not approved"))
		assert.True(t, HasCode(err, CodeInvalidState))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
	})
}

func TestNewConflict(t *testing.T) {
	err := NewConflict("percentage exceeds remaining", 40)
	assert.True(t, HasCode(err, CodeConflict))

	remaining, ok := RemainingOf(err)
	require.True(t, ok)
	assert.Equal(t, 40, remaining)
}

func TestRemainingOf_ThroughChain(t *testing.T) {
	inner := NewConflict("quantity exceeds available", 200)
	outer := Wrap(inner, CodeConflict, "allocation rejected")

	remaining, ok := RemainingOf(outer)
	require.True(t, ok)
	assert.Equal(t, 200, remaining)

	_, ok = RemainingOf(New(CodeConflict, "no capacity attached"))
	assert.False(t, ok)
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:         http.StatusBadRequest,
		CodeConflict:           http.StatusConflict,
		CodeInvalidState:       http.StatusConflict,
		CodeForbidden:          http.StatusForbidden,
		CodeUnauthorized:       http.StatusUnauthorized,
		CodeNotFound:           http.StatusNotFound,
		CodeTimeout:            http.StatusServiceUnavailable,
		CodeInternal:           http.StatusInternalServerError,
		Code("something-else"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
