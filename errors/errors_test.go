package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New("test error")
	require.NotNil(t, err)
	assert.Equal(t, "test error", err.Error())
}

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
}

func TestWithDetail(t *testing.T) {
	err := New("base")
	err = WithDetail(err, "Job ID: jb_123")
	err = WithDetail(err, fmt.Sprintf("Attempt: %d", 3))

	details := GetAllDetails(err)
	require.Len(t, details, 2)
	assert.Contains(t, details, "Job ID: jb_123")
	assert.Contains(t, details, "Attempt: 3")
}

func TestCombineErrors(t *testing.T) {
	primary := New("post-processing failed")
	secondary := New("compensation failed")

	combined := CombineErrors(primary, secondary)
	require.NotNil(t, combined)
	assert.True(t, Is(combined, primary))
}
