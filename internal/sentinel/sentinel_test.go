package sentinel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineError_Unwrap(t *testing.T) {
	err := fmt.Errorf("import: %w", Conflict("c-1", 3, "coordinates (5, 5) already exist", nil))

	assert.ErrorIs(t, err, ErrConflict)

	var pe *PipelineError
	if assert.ErrorAs(t, err, &pe) {
		assert.Equal(t, KindConflict, pe.Kind)
		assert.Equal(t, 3, pe.Row)
		assert.Contains(t, pe.Error(), "correlation_id=c-1")
	}
}

func TestInvalidBatch(t *testing.T) {
	err := InvalidBatch("c-2", "batch carries 2 validation errors")
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.Equal(t, -1, err.Row)
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestTransportError(t *testing.T) {
	err := fmt.Errorf("submit: %w", &TransportError{Op: "publish", Err: ErrUnavailable})
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, IsTransport(ErrUnavailable))
}
