package notification

import (
	"errors"
	"strings"
)

// Filter reasons. These are not failures: the event is simply not captured.
var (
	ErrNilEvent           = errors.New("nil notification event")
	ErrSourceNotAllowed   = errors.New("source application not allowed")
	ErrMissingKey         = errors.New("notification key missing")
	ErrMissingSender      = errors.New("sender could not be determined")
	ErrSystemNotification = errors.New("notification posted by the app itself")
)

// IsFiltered reports whether err means the event was intentionally dropped.
func IsFiltered(err error) bool {
	return errors.Is(err, ErrNilEvent) ||
		errors.Is(err, ErrSourceNotAllowed) ||
		errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrMissingSender) ||
		errors.Is(err, ErrSystemNotification) ||
		errors.Is(err, ErrUnrecognizedShape)
}

// Normalizer turns raw platform events from allow-listed applications into
// canonical Notifications.
type Normalizer struct {
	allowed map[string]struct{}
}

// NewNormalizer creates a normalizer accepting only the given source applications.
func NewNormalizer(allowedApps []string) *Normalizer {
	allowed := make(map[string]struct{}, len(allowedApps))
	for _, app := range allowedApps {
		if app = strings.TrimSpace(app); app != "" {
			allowed[app] = struct{}{}
		}
	}
	return &Normalizer{allowed: allowed}
}

// Allowed reports whether events from app are captured.
func (n *Normalizer) Allowed(app string) bool {
	_, ok := n.allowed[app]
	return ok
}

// Normalize decodes ev. A non-nil error for which IsFiltered is true means
// the event must be silently ignored.
func (n *Normalizer) Normalize(ev *RawEvent) (*Notification, error) {
	if ev == nil {
		return nil, ErrNilEvent
	}
	if !n.Allowed(ev.PackageName) {
		return nil, ErrSourceNotAllowed
	}
	if strings.TrimSpace(ev.Key) == "" {
		return nil, ErrMissingKey
	}

	payload, err := DecodePayload(ev.Extras)
	if err != nil {
		return nil, err
	}

	out := &Notification{
		SourceApp: ev.PackageName,
		Key:       ev.Key,
		Sender:    strings.TrimSpace(payload.Title()),
		Shape:     payload.Shape(),
	}

	switch p := payload.(type) {
	case FlatText:
		if out.Sender == "" {
			return nil, ErrMissingSender
		}
		for _, text := range p.Candidates() {
			out.Lines = append(out.Lines, Line{Sender: out.Sender, Text: text})
		}
	case MessageList:
		if out.Sender == "" {
			// Without a conversation title the newest entry's sender names the chat.
			if last := p.Messages[len(p.Messages)-1]; last.Sender != nil {
				out.Sender = strings.TrimSpace(*last.Sender)
			}
		}
		if out.Sender == "" {
			return nil, ErrMissingSender
		}
		for _, m := range p.Messages {
			sender := out.Sender
			if m.Sender != nil && strings.TrimSpace(*m.Sender) != "" {
				sender = strings.TrimSpace(*m.Sender)
			}
			out.Lines = append(out.Lines, Line{Sender: sender, Text: m.Text})
		}
	default:
		return nil, ErrUnrecognizedShape
	}

	if isSystemSender(out.Sender) {
		return nil, ErrSystemNotification
	}
	return out, nil
}

// isSystemSender matches titles the messaging app uses for its own
// summary notifications and for echoes of the device owner's messages.
func isSystemSender(sender string) bool {
	return strings.Contains(strings.ToLower(sender), "whatsapp") ||
		strings.EqualFold(sender, "You")
}
