package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"statushub/internal/constants"
	apperrors "statushub/internal/errors"
	"statushub/internal/migrations"
	"statushub/internal/models"
	"statushub/internal/security"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database is the durable message store and the pending-write table.
// A single connection serializes writers inside the process; WAL lets
// readers in other processes proceed while a write is in flight.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	logger    *logrus.Logger
	path      string
	now       func() time.Time
}

// PendingRow is a raw entry of the pending_writes table.
type PendingRow struct {
	Seq      int64
	Key      string
	Value    string
	StagedAt time.Time
}

func buildDSN(path string, busyTimeoutMs int) string {
	if busyTimeoutMs <= 0 {
		busyTimeoutMs = constants.DefaultDatabaseBusyTimeoutMs
	}
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate&_synchronous=NORMAL",
		path, busyTimeoutMs)
}

func New(ctx context.Context, cfg models.DatabaseConfig, logger *logrus.Logger) (*Database, error) {
	dbPath := cfg.Path
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "invalid database path")
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseConnection, "failed to create database directory")
		}
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseConnection, "failed to create database file")
	}
	if err := file.Close(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseConnection, "failed to close database file")
	}

	db, err := sql.Open("sqlite3", buildDSN(dbPath, cfg.BusyTimeoutMs))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDatabaseConnection, "failed to open database")
	}
	db.SetMaxOpenConns(1)

	closeWith := func(cause error) (*Database, error) {
		if closeErr := db.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close database after setup error")
		}
		return nil, cause
	}

	if err := db.PingContext(ctx); err != nil {
		return closeWith(apperrors.WrapRetryable(err, apperrors.ErrCodeDatabaseConnection, "failed to ping database"))
	}

	if err := migrations.Migrate(ctx, db, logger, cfg.AllowDestructiveMigration); err != nil {
		return closeWith(err)
	}

	enc, err := NewEncryptor()
	if err != nil {
		return closeWith(apperrors.Wrap(err, apperrors.ErrCodeInvalidConfig, "failed to initialize encryptor"))
	}

	return &Database{
		db:        db,
		encryptor: enc,
		logger:    logger,
		path:      dbPath,
		now:       time.Now,
	}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the database file location.
func (d *Database) Path() string {
	return d.path
}

// Ping checks that the store is reachable.
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// MessageWriter is the mutation surface of the message store, available
// both directly on Database and inside CommitPending.
type MessageWriter interface {
	InsertIfAbsent(ctx context.Context, record *models.MessageRecord) (bool, error)
	MarkDeleted(ctx context.Context, sender, sourceApp string) (int64, error)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// InsertIfAbsent stores record unless a live row with the same
// (sender, body, source app) exists. The timestamp is assigned here, at
// commit time. On insert, record.ID and record.Timestamp are filled in.
func (d *Database) InsertIfAbsent(ctx context.Context, record *models.MessageRecord) (bool, error) {
	if err := record.Validate(); err != nil {
		return false, apperrors.NewValidationError("message", record.SourceApp, err.Error())
	}

	inserted, err := retryableDBOperation(ctx, func() (bool, error) {
		return d.insertIfAbsent(ctx, d.db, record)
	}, "insert message")
	if err != nil {
		return false, apperrors.NewDatabaseError("insert message", err)
	}
	return inserted, nil
}

// MarkDeleted soft-deletes the most recent live row of the (sender, source
// app) conversation and returns the number of rows changed. Zero means no
// live row existed.
func (d *Database) MarkDeleted(ctx context.Context, sender, sourceApp string) (int64, error) {
	affected, err := retryableDBOperation(ctx, func() (int64, error) {
		return d.markDeleted(ctx, d.db, sender, sourceApp)
	}, "mark deleted")
	if err != nil {
		return 0, apperrors.NewDatabaseError("mark deleted", err)
	}
	return affected, nil
}

// CommitPending runs apply and removes the staged entry stagingKey in one
// transaction. The entry disappears only if every mutation in apply
// succeeded, so a failed or interrupted commit leaves it for the next drain.
func (d *Database) CommitPending(ctx context.Context, stagingKey string, apply func(w MessageWriter) error) error {
	err := retryableDBOperationNoReturn(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if err := apply(&txWriter{d: d, tx: tx}); err != nil {
			d.rollback(tx)
			return err
		}

		if _, err := tx.ExecContext(ctx, DeletePendingQuery, stagingKey); err != nil {
			d.rollback(tx)
			return err
		}

		return tx.Commit()
	}, "commit pending")
	if err != nil {
		return apperrors.NewStagingError("commit", stagingKey, err)
	}
	return nil
}

func (d *Database) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		d.logger.WithError(err).Warn("Failed to roll back transaction")
	}
}

func (d *Database) insertIfAbsent(ctx context.Context, ex execer, record *models.MessageRecord) (bool, error) {
	sender, err := d.encryptor.EncryptForLookup(record.Sender)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt sender: %w", err)
	}
	body, err := d.encryptor.EncryptForLookup(record.Body)
	if err != nil {
		return false, fmt.Errorf("failed to encrypt body: %w", err)
	}
	var key *string
	if record.NotificationKey != nil {
		encrypted, err := d.encryptor.Encrypt(*record.NotificationKey)
		if err != nil {
			return false, fmt.Errorf("failed to encrypt notification key: %w", err)
		}
		key = &encrypted
	}

	timestamp := d.now().UnixMilli()
	result, err := ex.ExecContext(ctx, InsertMessageIfAbsentQuery, sender, body, record.SourceApp, timestamp, key)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, err
	}
	record.ID = id
	record.Timestamp = timestamp
	return true, nil
}

func (d *Database) markDeleted(ctx context.Context, ex execer, sender, sourceApp string) (int64, error) {
	encryptedSender, err := d.encryptor.EncryptForLookup(sender)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt sender: %w", err)
	}

	result, err := ex.ExecContext(ctx, MarkLatestDeletedQuery, encryptedSender, sourceApp)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	if affected > 1 {
		d.logger.WithFields(logrus.Fields{
			"source_app": sourceApp,
			"count":      affected,
		}).Warn("Deletion changed more than one row")
	}
	return affected, nil
}

// txWriter applies message mutations inside a CommitPending transaction.
type txWriter struct {
	d  *Database
	tx *sql.Tx
}

func (w *txWriter) InsertIfAbsent(ctx context.Context, record *models.MessageRecord) (bool, error) {
	if err := record.Validate(); err != nil {
		return false, apperrors.NewValidationError("message", record.SourceApp, err.Error())
	}
	return w.d.insertIfAbsent(ctx, w.tx, record)
}

func (w *txWriter) MarkDeleted(ctx context.Context, sender, sourceApp string) (int64, error) {
	return w.d.markDeleted(ctx, w.tx, sender, sourceApp)
}

// GetMessage returns a single row by id.
func (d *Database) GetMessage(ctx context.Context, id int64) (*models.MessageRecord, error) {
	row := d.db.QueryRowContext(ctx, SelectMessageByIDQuery, id)
	record, err := d.scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("message", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get message", err)
	}
	return record, nil
}

// ListMessages returns up to limit rows with id greater than afterID in
// ascending id order. Deleted rows are included only when includeDeleted is set.
func (d *Database) ListMessages(ctx context.Context, afterID int64, limit int, includeDeleted bool) ([]*models.MessageRecord, error) {
	if limit <= 0 {
		limit = constants.DefaultListPageSize
	}
	if limit > constants.MaxListPageSize {
		limit = constants.MaxListPageSize
	}

	rows, err := d.db.QueryContext(ctx, SelectMessagesAfterQuery, afterID, includeDeleted, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list messages", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			d.logger.WithError(closeErr).Warn("Failed to close rows")
		}
	}()

	var records []*models.MessageRecord
	for rows.Next() {
		record, err := d.scanMessage(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan message", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list messages", err)
	}

	return records, nil
}

// CountMessages counts live rows, or all rows when includeDeleted is set.
func (d *Database) CountMessages(ctx context.Context, includeDeleted bool) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, CountMessagesQuery, includeDeleted).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError("count messages", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(row rowScanner) (*models.MessageRecord, error) {
	var (
		record    models.MessageRecord
		key       sql.NullString
		isDeleted int
	)
	if err := row.Scan(&record.ID, &record.Sender, &record.Body, &record.SourceApp,
		&record.Timestamp, &key, &isDeleted); err != nil {
		return nil, err
	}

	var err error
	if record.Sender, err = d.encryptor.Decrypt(record.Sender); err != nil {
		return nil, fmt.Errorf("failed to decrypt sender: %w", err)
	}
	if record.Body, err = d.encryptor.Decrypt(record.Body); err != nil {
		return nil, fmt.Errorf("failed to decrypt body: %w", err)
	}
	if key.Valid {
		decrypted, err := d.encryptor.Decrypt(key.String)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt notification key: %w", err)
		}
		record.NotificationKey = &decrypted
	}
	record.IsDeleted = isDeleted != 0

	return &record, nil
}

// PutPending durably stores value under a new key. An existing key is
// never overwritten: staging it again fails and the staged value stays.
func (d *Database) PutPending(ctx context.Context, key, value string, stagedAt time.Time) error {
	encrypted, err := d.encryptor.Encrypt(value)
	if err != nil {
		return apperrors.NewStagingError("encrypt", key, err)
	}

	err = retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, InsertPendingQuery, key, encrypted, stagedAt.UnixMilli())
		return err
	}, "put pending")
	if err != nil {
		return apperrors.NewStagingError("put", key, err)
	}
	return nil
}

// ListPending returns up to limit entries whose key starts with prefix,
// oldest first.
func (d *Database) ListPending(ctx context.Context, prefix string, limit int) ([]PendingRow, error) {
	if limit <= 0 {
		limit = constants.DefaultDrainBatchSize
	}

	rows, err := d.db.QueryContext(ctx, SelectPendingByPrefixQuery, prefix, prefix, limit)
	if err != nil {
		return nil, apperrors.NewStagingError("list", prefix, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			d.logger.WithError(closeErr).Warn("Failed to close rows")
		}
	}()

	var pending []PendingRow
	for rows.Next() {
		var (
			row      PendingRow
			stagedAt int64
		)
		if err := rows.Scan(&row.Seq, &row.Key, &row.Value, &stagedAt); err != nil {
			return nil, apperrors.NewStagingError("scan", prefix, err)
		}
		if row.Value, err = d.encryptor.Decrypt(row.Value); err != nil {
			return nil, apperrors.NewStagingError("decrypt", row.Key, err)
		}
		row.StagedAt = time.UnixMilli(stagedAt)
		pending = append(pending, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStagingError("list", prefix, err)
	}

	return pending, nil
}

// DeletePending removes key and reports whether it existed.
func (d *Database) DeletePending(ctx context.Context, key string) (bool, error) {
	affected, err := retryableDBOperation(ctx, func() (int64, error) {
		result, err := d.db.ExecContext(ctx, DeletePendingQuery, key)
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	}, "delete pending")
	if err != nil {
		return false, apperrors.NewStagingError("delete", key, err)
	}
	return affected > 0, nil
}

// CountPending returns the number of staged entries.
func (d *Database) CountPending(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, CountPendingQuery).Scan(&count); err != nil {
		return 0, apperrors.NewStagingError("count", "", err)
	}
	return count, nil
}
