package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportType_IsValid(t *testing.T) {
	tests := []struct {
		transport TransportType
		valid     bool
	}{
		{TransportTypeStdio, true},
		{TransportTypeHTTP, true},
		{TransportTypeSSE, true},
		{TransportType("grpc"), false},
		{TransportType(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.transport), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.transport.IsValid())
		})
	}
}

func TestUIPriority_IsValid(t *testing.T) {
	for _, p := range []UIPriority{UIPriorityLow, UIPriorityMedium, UIPriorityHigh, UIPriorityUrgent} {
		assert.True(t, p.IsValid(), "priority %q should be valid", p)
	}
	assert.False(t, UIPriority("normal").IsValid())
	assert.False(t, UIPriority("").IsValid())
}

func TestUITemplateKind_IsValid(t *testing.T) {
	valid := []UITemplateKind{
		UITemplateKindForm, UITemplateKindConfirmation, UITemplateKindSelection,
		UITemplateKindUpload, UITemplateKindProgress, UITemplateKindError,
		UITemplateKindSuccess, UITemplateKindWaiting,
	}
	for _, k := range valid {
		assert.True(t, k.IsValid(), "kind %q should be valid", k)
	}
	assert.False(t, UITemplateKind("modal").IsValid())
	assert.False(t, UITemplateKind("").IsValid())
}
