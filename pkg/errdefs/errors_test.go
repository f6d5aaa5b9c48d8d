package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	assert.Equal(t, "not_found: viking://resources/x", NotFound("viking://resources/x").Error())
	assert.Equal(t, "transient_backend: connection reset", Transient(fmt.Errorf("connection reset")).Error())
	assert.Equal(t, "invalid_input: viking://bad: no scope",
		InvalidInput("viking://bad", fmt.Errorf("no scope")).Error())
}

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("viking://resources/x"))

	assert.True(t, errors.Is(err, NotFound("viking://resources/x")))
	// An empty-URI target matches any URI of the same kind.
	assert.True(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindConflict}))
	assert.False(t, errors.Is(err, NotFound("viking://resources/other")))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("x")))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("wrap: %w", NotFound("x"))))
	// Foreign errors are treated as fatal.
	assert.Equal(t, KindFatalBackend, KindOf(fmt.Errorf("plain")))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("x")))
	assert.True(t, IsConflict(Conflict("x", nil)))
	assert.True(t, IsInvalidInput(InvalidInput("x", nil)))
	assert.True(t, IsTransient(Transient(nil)))
	assert.True(t, IsDrift(Drift("x", nil)))
	assert.False(t, IsTransient(Fatal(nil)))
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	assert.ErrorIs(t, Transient(cause), cause)
}
