package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"statushub/internal/constants"
)

// MaskSender keeps the first characters of a display name.
// Example: "Alice Smith" -> "Al*********"
func MaskSender(sender string) string {
	if sender == "" {
		return ""
	}

	runes := []rune(sender)
	keep := constants.DefaultSenderMaskLength
	if len(runes) <= keep {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[:keep]) + strings.Repeat("*", len(runes)-keep)
}

// MaskBody hides message text entirely, keeping only its length.
// Example: "see you at 5" -> "[hidden:12]"
func MaskBody(body string) string {
	if body == "" {
		return ""
	}
	return fmt.Sprintf("[hidden:%d]", utf8.RuneCountInString(body))
}

// MaskNotificationKey masks an OS notification key, showing the last characters.
// Example: "12345678abcd" -> "****5678abcd"
func MaskNotificationKey(key string) string {
	return maskString(key, constants.DefaultKeyMaskLength)
}

// MaskStagingKey keeps the staging namespace, kind and entry id and masks
// the notification key.
// Example: "pending.new.12345678abcd#e1" -> "pending.new.****5678abcd#e1"
func MaskStagingKey(key string) string {
	for _, prefix := range []string{constants.StagingNewKeyPrefix, constants.StagingDeleteKeyPrefix} {
		if strings.HasPrefix(key, prefix) {
			rest := strings.TrimPrefix(key, prefix)
			if i := strings.LastIndex(rest, constants.StagingEntrySeparator); i >= 0 {
				return prefix + MaskNotificationKey(rest[:i]) + rest[i:]
			}
			return prefix + MaskNotificationKey(rest)
		}
	}
	return MaskNotificationKey(key)
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= keepLast {
		return strings.Repeat("*", len(runes))
	}

	return strings.Repeat("*", len(runes)-keepLast) + string(runes[len(runes)-keepLast:])
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}

		switch k {
		case "sender", "title":
			masked[k] = MaskSender(s)
		case "body", "text", "line", "value":
			masked[k] = MaskBody(s)
		case "notification_key", "key":
			masked[k] = MaskNotificationKey(s)
		case "staging_key":
			masked[k] = MaskStagingKey(s)
		default:
			masked[k] = v
		}
	}

	return masked
}
