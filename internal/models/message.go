package models

import (
	"errors"
	"strings"
)

// MessageRecord is one captured message row in the durable store.
type MessageRecord struct {
	ID              int64   `json:"id"`
	Sender          string  `json:"sender"`
	Body            string  `json:"body"`
	SourceApp       string  `json:"sourceApp"`
	Timestamp       int64   `json:"timestamp"` // epoch millis, assigned at commit time
	NotificationKey *string `json:"notificationKey,omitempty"`
	IsDeleted       bool    `json:"isDeleted"`
}

var (
	ErrEmptySender    = errors.New("sender is required")
	ErrEmptyBody      = errors.New("body is required")
	ErrEmptySourceApp = errors.New("source app is required")
)

// Validate checks the required fields before a record reaches the store.
func (m *MessageRecord) Validate() error {
	if strings.TrimSpace(m.Sender) == "" {
		return ErrEmptySender
	}
	if m.Body == "" {
		return ErrEmptyBody
	}
	if strings.TrimSpace(m.SourceApp) == "" {
		return ErrEmptySourceApp
	}
	return nil
}

// Key returns the notification key or "" when none is set.
func (m *MessageRecord) Key() string {
	if m.NotificationKey == nil {
		return ""
	}
	return *m.NotificationKey
}

// NewMessageRecord builds a record ready for insertion. An empty key is stored as NULL.
func NewMessageRecord(sender, body, sourceApp, notificationKey string) *MessageRecord {
	rec := &MessageRecord{
		Sender:    sender,
		Body:      body,
		SourceApp: sourceApp,
	}
	if notificationKey != "" {
		key := notificationKey
		rec.NotificationKey = &key
	}
	return rec
}
