package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientErrorUnwraps(t *testing.T) {
	err := NewClientError("stale_version", "survey changed", ErrStaleVersion)
	wrapped := fmt.Errorf("configure flow: %w", err)

	assert.True(t, IsClientError(wrapped))
	assert.False(t, IsInternalError(wrapped))
	assert.True(t, errors.Is(wrapped, ErrStaleVersion))

	f, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "stale_version", f.Code)
	assert.Equal(t, "[ClientError] survey changed: stale survey version", f.Error())
}

func TestInternalError(t *testing.T) {
	err := NewInternalError("load survey", errors.New("disk"))
	assert.True(t, IsInternalError(err))
	assert.Equal(t, "[InternalError] load survey: disk", err.Error())

	assert.False(t, IsClientError(errors.New("plain")))
	_, ok := As(nil)
	assert.False(t, ok)
}

func TestClientf(t *testing.T) {
	err := Clientf("constraint_failed", "answer to question %d rejected", 4)
	assert.Equal(t, "[ClientError] answer to question 4 rejected", err.Error())
}
