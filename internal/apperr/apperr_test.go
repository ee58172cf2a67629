package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeConflict, CodeOf(New(CodeConflict, "busy")))
	assert.Equal(t, CodeNotFound, CodeOf(NotFound("kanban request", "r1")))
	assert.Equal(t, CodeValidation, CodeOf(InvalidInput("quantity", "must be positive")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestCodeOf_Wrapped(t *testing.T) {
	inner := New(CodeConflict, "version is stale")
	outer := fmt.Errorf("apply decision: %w", inner)
	assert.Equal(t, CodeConflict, CodeOf(outer))
	assert.True(t, HasCode(outer, CodeConflict))
	assert.False(t, HasCode(nil, CodeConflict))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeInternal, "failed to query")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "INTERNAL")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestMessages(t *testing.T) {
	assert.Equal(t, `NOT_FOUND: department "NOPE" not found`, NotFound("department", "NOPE").Error())
	assert.Equal(t, "VALIDATION: invalid reason: rejection reason is required",
		InvalidInput("reason", "rejection reason is required").Error())
}
