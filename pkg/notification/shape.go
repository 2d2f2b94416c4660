package notification

import (
	"encoding/json"
	"errors"
	"strings"
)

// ShapeKind identifies which known payload layout an extras bundle uses.
type ShapeKind string

const (
	ShapeUnknown     ShapeKind = "unknown"
	ShapeFlatText    ShapeKind = "flat_text"
	ShapeMessageList ShapeKind = "message_list"
)

var ErrUnrecognizedShape = errors.New("unrecognized notification payload shape")

// Payload is the decoded extras bundle. Exactly one of the concrete
// variants below implements it.
type Payload interface {
	Shape() ShapeKind
	Title() string
}

// FlatText is the title + text lines (or single text) layout.
type FlatText struct {
	TitleText string
	TextLines []string
	Text      string
}

func (p FlatText) Shape() ShapeKind { return ShapeFlatText }
func (p FlatText) Title() string    { return p.TitleText }

// Candidates returns the multi-line field when present, else the single text field.
func (p FlatText) Candidates() []string {
	lines := make([]string, 0, len(p.TextLines))
	for _, l := range p.TextLines {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 && strings.TrimSpace(p.Text) != "" {
		lines = append(lines, p.Text)
	}
	return lines
}

// MessageList is the structured per-message layout; the last entry is the newest.
type MessageList struct {
	TitleText string
	Messages  []MessageEntry
}

func (p MessageList) Shape() ShapeKind { return ShapeMessageList }
func (p MessageList) Title() string    { return p.TitleText }

// DecodePayload picks the decoder for the extras bundle. The structured
// list wins when both layouts are present since it carries per-message senders.
func DecodePayload(extras map[string]json.RawMessage) (Payload, error) {
	if len(extras) == 0 {
		return nil, ErrUnrecognizedShape
	}
	if p, ok := decodeMessageList(extras); ok {
		return p, nil
	}
	if p, ok := decodeFlatText(extras); ok {
		return p, nil
	}
	return nil, ErrUnrecognizedShape
}

func decodeMessageList(extras map[string]json.RawMessage) (MessageList, bool) {
	raw, exists := extras[ExtraMessages]
	if !exists {
		return MessageList{}, false
	}
	var entries []*MessageEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return MessageList{}, false
	}
	p := MessageList{TitleText: decodeString(extras[ExtraTitle])}
	for _, e := range entries {
		if e == nil || strings.TrimSpace(e.Text) == "" {
			continue
		}
		p.Messages = append(p.Messages, *e)
	}
	if len(p.Messages) == 0 {
		return MessageList{}, false
	}
	return p, true
}

func decodeFlatText(extras map[string]json.RawMessage) (FlatText, bool) {
	p := FlatText{
		TitleText: decodeString(extras[ExtraTitle]),
		Text:      decodeString(extras[ExtraText]),
	}
	if raw, exists := extras[ExtraTextLines]; exists {
		var lines []*string
		if err := json.Unmarshal(raw, &lines); err == nil {
			for _, l := range lines {
				if l != nil {
					p.TextLines = append(p.TextLines, *l)
				}
			}
		}
	}
	if len(p.Candidates()) == 0 {
		return FlatText{}, false
	}
	return p, true
}

// decodeString accepts a JSON string and returns "" for null, absent or non-string values.
func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
