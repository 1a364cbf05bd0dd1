package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind_Recoverable(t *testing.T) {
	assert.False(t, ErrorAuth.Recoverable())
	assert.False(t, ErrorBadRequest.Recoverable())
	assert.True(t, ErrorTransient.Recoverable())
	assert.True(t, ErrorFormat.Recoverable())
	assert.True(t, ErrorLogic.Recoverable())
	assert.True(t, ErrorResource.Recoverable())
}

func TestError_MessageWithCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	e := NewError(ErrorTransient, "asr connect failed", cause)
	assert.Equal(t, "Transient: asr connect failed: dial tcp: connection refused", e.Error())
}

func TestError_MessageWithoutCause(t *testing.T) {
	e := NewError(ErrorLogic, "unexpected state", nil)
	assert.Equal(t, "Logic: unexpected state", e.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := NewError(ErrorResource, "wrapped", cause)
	assert.Same(t, cause, errors.Unwrap(e))
	assert.ErrorIs(t, e, cause)
}
