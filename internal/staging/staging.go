// Package staging keeps observed notification events durable between the
// moment they are seen and the moment the deferred committer writes them
// to the message store.
package staging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"statushub/internal/constants"
	"statushub/internal/database"
	apperrors "statushub/internal/errors"
	"statushub/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// valueFields is the number of fields in an encoded staged value:
// kind, source app, sender, body.
const valueFields = 4

// Store is the durable key-value area the staging codec writes through.
type Store interface {
	PutPending(ctx context.Context, key, value string, stagedAt time.Time) error
	ListPending(ctx context.Context, prefix string, limit int) ([]database.PendingRow, error)
	DeletePending(ctx context.Context, key string) (bool, error)
	CommitPending(ctx context.Context, stagingKey string, apply func(w database.MessageWriter) error) error
}

// Malformed is a staged row that could not be decoded.
type Malformed struct {
	StagingKey string
	Err        error
}

type Staging struct {
	store  Store
	logger *logrus.Logger
	now    func() time.Time
	newID  func() string
}

func New(store Store, logger *logrus.Logger) *Staging {
	return &Staging{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// KeyFor returns the staging key of one staged entry of a notification.
// The messaging apps reuse a notification key for a whole conversation, so
// every entry carries its own id and never overwrites an earlier one.
func KeyFor(kind models.EventKind, notificationKey, id string) string {
	prefix := constants.StagingNewKeyPrefix
	if kind == models.EventKindDelete {
		prefix = constants.StagingDeleteKeyPrefix
	}
	return prefix + notificationKey + constants.StagingEntrySeparator + id
}

// Stage durably records an observed event as a new entry. Entries are
// drained in the order they were staged.
func (s *Staging) Stage(ctx context.Context, notificationKey, sender string, lines []string, sourceApp string, kind models.EventKind) (*models.PendingEntry, error) {
	entry := &models.PendingEntry{
		StagingKey:      KeyFor(kind, notificationKey, s.newID()),
		NotificationKey: notificationKey,
		Sender:          sender,
		Body:            models.JoinLines(lines),
		SourceApp:       sourceApp,
		Kind:            kind,
		StagedAt:        s.now(),
	}

	if err := validate(entry, lines); err != nil {
		return nil, err
	}

	if err := s.store.PutPending(ctx, entry.StagingKey, encodeValue(entry), entry.StagedAt); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"staging_key": entry.StagingKey,
		"kind":        entry.Kind,
		"line_count":  len(lines),
	}).Debug("Staged pending write")

	return entry, nil
}

// Pending returns staged entries in staging order, at most limit of them.
// Rows that fail to decode are reported separately so one bad value never
// hides the rest of the batch.
func (s *Staging) Pending(ctx context.Context, limit int) ([]*models.PendingEntry, []Malformed, error) {
	rows, err := s.store.ListPending(ctx, constants.StagingKeyPrefix, limit)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]*models.PendingEntry, 0, len(rows))
	var malformed []Malformed
	for _, row := range rows {
		entry, err := decodeRow(row)
		if err != nil {
			malformed = append(malformed, Malformed{StagingKey: row.Key, Err: err})
			continue
		}
		entries = append(entries, entry)
	}

	return entries, malformed, nil
}

// Commit applies the store mutations of entry and removes it from the
// staging area in one step. On error the entry stays staged.
func (s *Staging) Commit(ctx context.Context, entry *models.PendingEntry, apply func(w database.MessageWriter) error) error {
	return s.store.CommitPending(ctx, entry.StagingKey, apply)
}

// Remove deletes a staged entry. Removing an absent key is not an error.
func (s *Staging) Remove(ctx context.Context, stagingKey string) error {
	removed, err := s.store.DeletePending(ctx, stagingKey)
	if err != nil {
		return err
	}
	if !removed {
		s.logger.WithField("staging_key", stagingKey).Debug("Staged entry already removed")
	}
	return nil
}

func validate(entry *models.PendingEntry, lines []string) error {
	if !entry.Kind.Valid() {
		return apperrors.NewValidationError("kind", string(entry.Kind), "only new and delete events can be staged")
	}
	if entry.NotificationKey == "" {
		return apperrors.NewValidationError("notification_key", "", "must not be empty")
	}
	if entry.Sender == "" {
		return apperrors.NewValidationError("sender", "", "must not be empty")
	}
	if entry.SourceApp == "" {
		return apperrors.NewValidationError("source_app", "", "must not be empty")
	}
	if entry.Kind == models.EventKindNew && len(lines) == 0 {
		return apperrors.NewValidationError("body", "", "new message entries need at least one line")
	}

	for name, field := range map[string]string{
		"notification_key": entry.NotificationKey,
		"sender":           entry.Sender,
		"source_app":       entry.SourceApp,
	} {
		if strings.Contains(field, constants.StagingFieldSeparator) || strings.Contains(field, constants.StagingLineSeparator) {
			return apperrors.NewValidationError(name, "", "contains a reserved separator")
		}
	}
	for _, line := range lines {
		if strings.Contains(line, constants.StagingFieldSeparator) || strings.Contains(line, constants.StagingLineSeparator) {
			return apperrors.NewValidationError("body", "", "contains a reserved separator")
		}
	}
	return nil
}

func encodeValue(entry *models.PendingEntry) string {
	return strings.Join([]string{
		string(entry.Kind),
		entry.SourceApp,
		entry.Sender,
		entry.Body,
	}, constants.StagingFieldSeparator)
}

func decodeRow(row database.PendingRow) (*models.PendingEntry, error) {
	fields := strings.Split(row.Value, constants.StagingFieldSeparator)
	if len(fields) != valueFields {
		return nil, apperrors.New(apperrors.ErrCodeStagingDecode,
			fmt.Sprintf("expected %d fields, got %d", valueFields, len(fields)))
	}

	kind := models.EventKind(fields[0])
	if !kind.Valid() {
		return nil, apperrors.New(apperrors.ErrCodeStagingDecode, fmt.Sprintf("unknown kind %q", fields[0]))
	}

	var rest string
	switch {
	case strings.HasPrefix(row.Key, constants.StagingNewKeyPrefix) && kind == models.EventKindNew:
		rest = strings.TrimPrefix(row.Key, constants.StagingNewKeyPrefix)
	case strings.HasPrefix(row.Key, constants.StagingDeleteKeyPrefix) && kind == models.EventKindDelete:
		rest = strings.TrimPrefix(row.Key, constants.StagingDeleteKeyPrefix)
	default:
		return nil, apperrors.New(apperrors.ErrCodeStagingDecode, "staging key does not match entry kind")
	}
	notificationKey := notificationKeyOf(rest)

	entry := &models.PendingEntry{
		StagingKey:      row.Key,
		NotificationKey: notificationKey,
		Kind:            kind,
		SourceApp:       fields[1],
		Sender:          fields[2],
		Body:            fields[3],
		StagedAt:        row.StagedAt,
	}
	if entry.Sender == "" || entry.SourceApp == "" || notificationKey == "" {
		return nil, apperrors.New(apperrors.ErrCodeStagingDecode, "staged entry is missing required fields")
	}
	return entry, nil
}

// notificationKeyOf strips the entry id. Keys written without an id by
// older builds are the bare notification key.
func notificationKeyOf(rest string) string {
	if i := strings.LastIndex(rest, constants.StagingEntrySeparator); i >= 0 {
		return rest[:i]
	}
	return rest
}
