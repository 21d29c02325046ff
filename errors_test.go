package tramite

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{ErrProcessNotFound, ErrorKindDefinitional},
		{ErrMalformedProcess, ErrorKindDefinitional},
		{ErrElementNotFound, ErrorKindDefinitional},
		{ErrInconsistentState, ErrorKindConsistency},
		{ErrCannotMove, ErrorKindConsistency},
		{ErrMisconfiguredProvider, ErrorKindConfiguration},
		{fmt.Errorf("step: %w: pointer gone", ErrInconsistentState), ErrorKindConsistency},
		{fmt.Errorf("no provider: %w", ErrMisconfiguredProvider), ErrorKindConfiguration},
		{errors.New("store timeout"), ErrorKindConsistency},
	}
	for _, tt := range tests {
		rerr := Classify(tt.err)
		require.Equal(t, tt.kind, rerr.Kind, "error %v", tt.err)
		require.ErrorIs(t, rerr, tt.err)
	}
}

func TestClassifyPassesThroughRuntimeErrors(t *testing.T) {
	orig := newRuntimeError(ErrorKindValidation, nil, "bad input %q", "days")
	rerr := Classify(fmt.Errorf("wrapped: %w", orig))
	require.Same(t, orig, rerr)
	require.Equal(t, `validation: bad input "days"`, rerr.Error())
}

func TestValidationErrors(t *testing.T) {
	verr := &ValidationErrors{Errors: []InputError{
		{Ref: "vacation.days", Code: "required", Message: "days is required"},
	}}
	require.Equal(t, "validation failed for 1 input(s)", verr.Error())
	require.Equal(t, "vacation.days: days is required", verr.Errors[0].Error())
}
