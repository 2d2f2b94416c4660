package service

import (
	"testing"

	"statushub/internal/models"
	"statushub/pkg/notification"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		sender   string
		line     string
		expected models.EventKind
	}{
		{"plain message", "Bob", "hey", models.EventKindNew},
		{"summary", "Bob", "3 new messages", models.EventKindIgnore},
		{"summary singular", "Bob", "1 new message", models.EventKindIgnore},
		{"summary uppercase", "Bob", "12 NEW MESSAGES", models.EventKindIgnore},
		{"summary inside sentence is content", "Bob", "I got 3 new messages today", models.EventKindNew},
		{"checking placeholder", "Bob", "Checking for new messages", models.EventKindIgnore},
		{"sender echo", "Bob", "Bob", models.EventKindIgnore},
		{"sender echo case", "Bob", " bob ", models.EventKindIgnore},
		{"self", "Bob", "You", models.EventKindIgnore},
		{"self lowercase", "Bob", "you", models.EventKindIgnore},
		{"blank", "Bob", "   ", models.EventKindIgnore},
		{"deleted", "Bob", "This message was deleted", models.EventKindDelete},
		{"deleted with glyph", "Bob", "⚠ This message was deleted", models.EventKindDelete},
		{"deleted lowercase", "Bob", "this message was deleted", models.EventKindDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.sender, tt.line))
		})
	}
}

func TestClassifyLines_UsesEntrySender(t *testing.T) {
	n := &notification.Notification{
		Sender: "Family",
		Lines: []notification.Line{
			{Sender: "Carol", Text: "dinner at 8"},
			{Sender: "Carol", Text: "Carol"},
			{Sender: "Family", Text: "Family"},
			{Sender: "Dave", Text: "This message was deleted"},
		},
	}

	got := ClassifyLines(n)
	assert.Equal(t, []ClassifiedLine{
		{Text: "dinner at 8", Kind: models.EventKindNew},
		{Text: "Carol", Kind: models.EventKindIgnore},
		{Text: "Family", Kind: models.EventKindIgnore},
		{Text: "This message was deleted", Kind: models.EventKindDelete},
	}, got)
}
