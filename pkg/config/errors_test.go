package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Error(t *testing.T) {
	err := NewValidationError("mcp_server", "web-fetch", "transport.command", ErrMissingRequiredField)
	assert.Contains(t, err.Error(), "mcp_server 'web-fetch'")
	assert.Contains(t, err.Error(), "transport.command")

	noField := NewValidationError("engine", "engine", "", ErrInvalidValue)
	assert.Contains(t, noField.Error(), "engine 'engine'")
	assert.NotContains(t, noField.Error(), "field")
}

func TestValidationError_Unwrap(t *testing.T) {
	err := NewValidationError("llm", "gateway", "endpoint", ErrMissingRequiredField)
	assert.True(t, errors.Is(err, ErrMissingRequiredField))
}

func TestLoadError_Unwrap(t *testing.T) {
	inner := errors.New("permission denied")
	err := NewLoadError("orchestrator.yaml", inner)

	assert.Contains(t, err.Error(), "orchestrator.yaml")
	assert.True(t, errors.Is(err, inner))
}
