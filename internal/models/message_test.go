package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRecord_Validate(t *testing.T) {
	tests := []struct {
		name     string
		record   MessageRecord
		expected error
	}{
		{
			name:     "valid record",
			record:   MessageRecord{Sender: "Alice", Body: "hi", SourceApp: "com.whatsapp"},
			expected: nil,
		},
		{
			name:     "blank sender",
			record:   MessageRecord{Sender: "  ", Body: "hi", SourceApp: "com.whatsapp"},
			expected: ErrEmptySender,
		},
		{
			name:     "empty body",
			record:   MessageRecord{Sender: "Alice", SourceApp: "com.whatsapp"},
			expected: ErrEmptyBody,
		},
		{
			name:     "missing source app",
			record:   MessageRecord{Sender: "Alice", Body: "hi"},
			expected: ErrEmptySourceApp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.record.Validate())
		})
	}
}

func TestNewMessageRecord_KeyHandling(t *testing.T) {
	withKey := NewMessageRecord("Bob", "hey", "com.whatsapp", "0|com.whatsapp|1|k1|10001")
	require.NotNil(t, withKey.NotificationKey)
	assert.Equal(t, "0|com.whatsapp|1|k1|10001", withKey.Key())
	assert.False(t, withKey.IsDeleted)

	withoutKey := NewMessageRecord("Bob", "hey", "com.whatsapp", "")
	assert.Nil(t, withoutKey.NotificationKey)
	assert.Equal(t, "", withoutKey.Key())
}

func TestPendingEntry_Lines(t *testing.T) {
	entry := PendingEntry{Body: JoinLines([]string{"first", "second line", "third"})}
	assert.Equal(t, []string{"first", "second line", "third"}, entry.Lines())

	empty := PendingEntry{}
	assert.Nil(t, empty.Lines())
}

func TestEventKind_Valid(t *testing.T) {
	assert.True(t, EventKindNew.Valid())
	assert.True(t, EventKindDelete.Valid())
	assert.False(t, EventKindIgnore.Valid())
	assert.False(t, EventKind("").Valid())
}

func TestConfigError_Error(t *testing.T) {
	err := ConfigError{Message: "test error"}
	assert.Equal(t, "test error", err.Error())
}
