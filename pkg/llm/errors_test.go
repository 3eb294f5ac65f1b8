package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error_RedactsEndpointToHost(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
		Model:      "gpt-4o",
		Endpoint:   "https://api.openai.com/v1",
	}

	result := err.Error()
	assert.Contains(t, result, "HTTP 503")
	assert.Contains(t, result, "model=gpt-4o")
	assert.Contains(t, result, "endpoint=api.openai.com")
	assert.NotContains(t, result, "/v1")
	assert.Contains(t, result, "server error")
}

func TestError_UnwrapAndRetryable(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrorTypeEndpoint, "connection failed", true, cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsRetryable())
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsRetryable(cause))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
		status    int
	}{
		{"unauthorized", errors.New("error, status code: 401, message: invalid api key"), ErrorTypeAuth, false, 401},
		{"model missing", errors.New("the model `foo` does not exist"), ErrorTypeModel, false, 0},
		{"not found", errors.New("status code: 404"), ErrorTypeEndpoint, false, 404},
		{"refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true, 0},
		{"timeout", errors.New("context deadline exceeded"), ErrorTypeEndpoint, true, 0},
		{"canceled", errors.New("context canceled"), ErrorTypeEndpoint, false, 0},
		{"rate limited", errors.New("status code: 429"), ErrorTypeUnknown, true, 429},
		{"server", errors.New("status code: 502 bad gateway"), ErrorTypeEndpoint, true, 502},
		{"other", errors.New("weird"), ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.status, got.StatusCode)
		})
	}
}

func TestClassifyError_PassesThroughClassified(t *testing.T) {
	original := NewError(ErrorTypeModel, "model not found", false, nil)
	assert.Same(t, original, ClassifyError(fmt.Errorf("wrap: %w", original)))
	assert.Nil(t, ClassifyError(nil))
}
