package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := New(BackendUnavailable, "cache.Get", errors.New("dial tcp: refused"), "")

	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.NotErrorIs(t, err, ErrMalformedInput)
	assert.Contains(t, err.Error(), "cache.Get: backend_unavailable")
	assert.Contains(t, err.Error(), "dial tcp: refused")
}

func TestError_UnwrapReachesCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(Internal, "Structure", cause, "recovered")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrInternal)
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(MalformedInput, "op", nil, ""))

	inner := New(UnrepresentableInput, "Structure", nil, "no regions")
	outer := fmt.Errorf("process: %w", inner)
	assert.Same(t, outer, Wrap(MalformedInput, "other", outer, ""))

	wrapped := Wrap(MalformedInput, "ValidateJSON", errors.New("bad json"), "")
	assert.Equal(t, MalformedInput, KindOf(wrapped))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, UnrepresentableInput, KindOf(fmt.Errorf("x: %w", New(UnrepresentableInput, "op", nil, ""))))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "malformed_input", MalformedInput.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
