package models

import (
	"strings"
	"time"

	"statushub/internal/constants"
)

// EventKind classifies one candidate line of a notification.
type EventKind string

const (
	EventKindNew    EventKind = "new"
	EventKindDelete EventKind = "delete"
	EventKindIgnore EventKind = "ignore"
)

// Valid reports whether the kind can be staged.
func (k EventKind) Valid() bool {
	return k == EventKindNew || k == EventKindDelete
}

// PendingEntry is an observed event that has been staged but not yet
// committed to the durable store.
type PendingEntry struct {
	StagingKey      string    `json:"stagingKey"`
	NotificationKey string    `json:"notificationKey"`
	Sender          string    `json:"sender"`
	Body            string    `json:"body"` // lines joined with constants.StagingLineSeparator
	SourceApp       string    `json:"sourceApp"`
	Kind            EventKind `json:"kind"`
	StagedAt        time.Time `json:"stagedAt"`
}

// Lines splits the staged body back into its message lines.
func (p *PendingEntry) Lines() []string {
	if p.Body == "" {
		return nil
	}
	return strings.Split(p.Body, constants.StagingLineSeparator)
}

// JoinLines joins message lines into a staged body.
func JoinLines(lines []string) string {
	return strings.Join(lines, constants.StagingLineSeparator)
}
