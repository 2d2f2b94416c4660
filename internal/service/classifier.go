package service

import (
	"regexp"
	"strings"

	"statushub/internal/models"
	"statushub/pkg/notification"
)

var summaryPattern = regexp.MustCompile(`(?i)^\d+\s+new\s+messages?$`)

const (
	checkingPlaceholder = "checking for new messages"
	deletedMarker       = "this message was deleted"
	selfSender          = "you"
)

// ClassifiedLine is one candidate line with its classification.
type ClassifiedLine struct {
	Text string
	Kind models.EventKind
}

// Classify decides whether a single line is a new message, a deletion
// marker or noise. sender is the conversation the line belongs to.
func Classify(sender, line string) models.EventKind {
	text := lowerTrim(line)
	switch {
	case text == "":
		return models.EventKindIgnore
	case summaryPattern.MatchString(text):
		return models.EventKindIgnore
	case strings.Contains(text, checkingPlaceholder):
		return models.EventKindIgnore
	case text == lowerTrim(sender):
		return models.EventKindIgnore
	case text == selfSender:
		return models.EventKindIgnore
	case strings.Contains(text, deletedMarker):
		return models.EventKindDelete
	default:
		return models.EventKindNew
	}
}

// ClassifyLines classifies every candidate line of n in order. A line is
// noise when it echoes either the conversation name or its own entry sender.
func ClassifyLines(n *notification.Notification) []ClassifiedLine {
	out := make([]ClassifiedLine, 0, len(n.Lines))
	for _, line := range n.Lines {
		kind := Classify(n.Sender, line.Text)
		if kind != models.EventKindIgnore && line.Sender != n.Sender {
			if Classify(line.Sender, line.Text) == models.EventKindIgnore {
				kind = models.EventKindIgnore
			}
		}
		out = append(out, ClassifiedLine{Text: line.Text, Kind: kind})
	}
	return out
}
