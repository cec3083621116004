package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv_BracedSyntax(t *testing.T) {
	t.Setenv("LLM_GATEWAY_ENDPOINT", "llm-sidecar:50051")

	input := []byte("endpoint: ${LLM_GATEWAY_ENDPOINT}")
	result := ExpandEnv(input)

	assert.Equal(t, "endpoint: llm-sidecar:50051", string(result))
}

func TestExpandEnv_BareSyntax(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/orchestrator")

	input := []byte("dsn: $DATABASE_URL")
	result := ExpandEnv(input)

	assert.Equal(t, "dsn: postgres://localhost/orchestrator", string(result))
}

func TestExpandEnv_MultipleVariables(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5432")

	input := []byte("addr: ${DB_HOST}:${DB_PORT}")
	result := ExpandEnv(input)

	assert.Equal(t, "addr: db.internal:5432", string(result))
}

func TestExpandEnv_MissingVariableExpandsToEmpty(t *testing.T) {
	input := []byte("token: ${DEFINITELY_NOT_SET_ANYWHERE_12345}")
	result := ExpandEnv(input)

	assert.Equal(t, "token: ", string(result))
}

func TestExpandEnv_NoVariables(t *testing.T) {
	input := []byte("endpoint: localhost:50051\nmodel: default")
	result := ExpandEnv(input)

	assert.Equal(t, string(input), string(result))
}
