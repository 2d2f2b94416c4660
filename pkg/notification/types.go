package notification

import (
	"encoding/json"
	"fmt"
)

// Extras bundle keys as delivered by the platform listener glue
const (
	ExtraTitle     = "android.title"
	ExtraText      = "android.text"
	ExtraTextLines = "android.textLines"
	ExtraMessages  = "android.messages"
)

// RawEvent is a posted OS notification as forwarded by the platform glue.
// Extras is left undecoded because its shape depends on OS and app version.
type RawEvent struct {
	PackageName string                     `json:"packageName"`
	Key         string                     `json:"key"`
	PostTime    int64                      `json:"postTime,omitempty"`
	Extras      map[string]json.RawMessage `json:"extras"`
}

// MessageEntry is one element of the structured message list shape.
type MessageEntry struct {
	Text   string  `json:"text"`
	Sender *string `json:"sender,omitempty"`
	Time   int64   `json:"time,omitempty"`
}

// Line is one candidate message line with the sender it is attributed to.
type Line struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Notification is the canonical form every payload shape decodes into.
type Notification struct {
	SourceApp string    `json:"sourceApp"`
	Key       string    `json:"key"`
	Sender    string    `json:"sender"`
	Lines     []Line    `json:"lines"`
	Shape     ShapeKind `json:"shape"`
}

// ParseEvent decodes a JSON encoded RawEvent.
func ParseEvent(data []byte) (*RawEvent, error) {
	var ev RawEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode notification event: %w", err)
	}
	return &ev, nil
}
