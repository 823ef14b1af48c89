package lifecycle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := CreateFailed("s3.Bucket.assets", cause)

	assert.Equal(t, KindCreateFailed, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "s3.Bucket.assets")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", UpdateFailed("x", errors.New("boom")))
	assert.Equal(t, KindUpdateFailed, KindOf(err))
}

func TestKindOf_ForeignError(t *testing.T) {
	assert.Equal(t, "", KindOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(CreateFailed("a", errors.New("x"))))
	assert.True(t, Retryable(UpdateFailed("a", errors.New("x"))))
	assert.True(t, Retryable(DeleteFailed("a", errors.New("x"))))
	assert.True(t, Retryable(ConcurrentModification("id-1")))

	assert.False(t, Retryable(Validationf("bad input")))
	assert.False(t, Retryable(UnknownResourceType("ghost.Type")))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestValidTransition(t *testing.T) {
	valid := [][2]Phase{
		{Absent, Creating},
		{Creating, Present},
		{Creating, Creating}, // resumed retry on tainted resource
		{Creating, Absent},   // failed create, nothing referenceable
		{Present, Updating},
		{Updating, Present},
		{Present, Replacing},
		{Replacing, Creating},
		{Replacing, Deleting},
		{Present, Deleting},
		{Deleting, Deleting}, // resumed retry
		{Deleting, Absent},
	}
	for _, tr := range valid {
		assert.True(t, ValidTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	invalid := [][2]Phase{
		{Absent, Present},
		{Absent, Deleting},
		{Present, Absent},
		{Updating, Deleting},
		{Deleting, Present},
	}
	for _, tr := range invalid {
		assert.False(t, ValidTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestUnknownResourceType_Message(t *testing.T) {
	err := UnknownResourceType("ghost.Type")
	require.Contains(t, err.Error(), `ghost.Type`)
	assert.Nil(t, errors.Unwrap(err))
}
