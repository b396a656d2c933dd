package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodeClass(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want ErrorClass
	}{
		{ErrCodeIncompatibleDomain, ClassInputIntegrity},
		{ErrCodeInsufficientCoverage, ClassInputIntegrity},
		{ErrCodeMissingFactor, ClassInputIntegrity},
		{ErrCodeNoVelocityData, ClassInputIntegrity},
		{ErrCodeEmptyActivityWindow, ClassInputIntegrity},
		{ErrCodeInvalidCapacity, ClassParameterValidity},
		{ErrCodeInfeasibleBudget, ClassParameterValidity},
		{ErrCodeInvalidWeights, ClassParameterValidity},
		{ErrCodeRunCanceled, ClassRunLifecycle},
		{ErrCodeInternalUnexpected, ClassInternal},
		{ErrorCode("something_else"), ClassInternal},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.code.Class())
		})
	}
}

func TestPipelineErrorWrapping(t *testing.T) {
	cause := errors.New("file truncated")
	err := NewError(ErrCodeMalformedLayer, "chunk shorter than manifest shape", cause)

	assert.Equal(t, "input_malformed_layer: chunk shorter than manifest shape", err.Error())
	assert.True(t, errors.Is(err, cause))

	var perr *PipelineError
	require.True(t, errors.As(error(err), &perr))
	assert.Equal(t, ErrCodeMalformedLayer, perr.Code)
	assert.Equal(t, ClassInputIntegrity, perr.Class())
}

func TestPipelineErrorWithDetails(t *testing.T) {
	base := NewErrorWithDetails(ErrCodeIncompatibleDomain, "raster bbox outside grid", nil,
		map[string]any{"layer": "sst"})

	merged := base.WithDetails(map[string]any{"lat_min": 50.0})

	// Original untouched.
	assert.Len(t, base.Details, 1)
	assert.Equal(t, "sst", merged.Details["layer"])
	assert.Equal(t, 50.0, merged.Details["lat_min"])
}
