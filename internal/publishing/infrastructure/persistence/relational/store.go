// Package relational implements domain.PendingStore and
// domain.AutomationStateStore over the shared database.Connection
// abstraction, so the same queries run against either SQLite or
// PostgreSQL depending on which driver the connection was opened with.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/cynacedia/pubkeeper/internal/shared/infrastructure/database"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pending_events (
	id TEXT PRIMARY KEY,
	slot_key TEXT NOT NULL UNIQUE,
	target_id TEXT NOT NULL,
	profile_key TEXT NOT NULL,
	event_starts_at TEXT NOT NULL,
	scheduled_publish_time TEXT,
	manual_overrides TEXT,
	status TEXT NOT NULL,
	missed_at TEXT,
	queued_at TEXT,
	deleted_at TEXT,
	event_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_events_target ON pending_events(target_id, status);

CREATE TABLE IF NOT EXISTS pending_deleted_events (
	id TEXT PRIMARY KEY,
	slot_key TEXT NOT NULL,
	target_id TEXT NOT NULL,
	profile_key TEXT NOT NULL,
	event_starts_at TEXT NOT NULL,
	scheduled_publish_time TEXT,
	manual_overrides TEXT,
	status TEXT NOT NULL,
	missed_at TEXT,
	queued_at TEXT,
	deleted_at TEXT,
	event_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_deleted_events_target ON pending_deleted_events(target_id);

CREATE TABLE IF NOT EXISTS automation_states (
	target_id TEXT NOT NULL,
	profile_key TEXT NOT NULL,
	events_created INTEGER NOT NULL DEFAULT 0,
	activation_starts_at TEXT,
	last_success TEXT,
	last_event_id TEXT,
	published_event_times TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (target_id, profile_key)
);

CREATE TABLE IF NOT EXISTS engine_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS pending_events (
	id TEXT PRIMARY KEY,
	slot_key TEXT NOT NULL UNIQUE,
	target_id TEXT NOT NULL,
	profile_key TEXT NOT NULL,
	event_starts_at TIMESTAMPTZ NOT NULL,
	scheduled_publish_time TIMESTAMPTZ,
	manual_overrides JSONB,
	status TEXT NOT NULL,
	missed_at TIMESTAMPTZ,
	queued_at TIMESTAMPTZ,
	deleted_at TIMESTAMPTZ,
	event_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_events_target ON pending_events(target_id, status);

CREATE TABLE IF NOT EXISTS pending_deleted_events (
	id TEXT PRIMARY KEY,
	slot_key TEXT NOT NULL,
	target_id TEXT NOT NULL,
	profile_key TEXT NOT NULL,
	event_starts_at TIMESTAMPTZ NOT NULL,
	scheduled_publish_time TIMESTAMPTZ,
	manual_overrides JSONB,
	status TEXT NOT NULL,
	missed_at TIMESTAMPTZ,
	queued_at TIMESTAMPTZ,
	deleted_at TIMESTAMPTZ,
	event_id TEXT
);
CREATE INDEX IF NOT EXISTS idx_pending_deleted_events_target ON pending_deleted_events(target_id);

CREATE TABLE IF NOT EXISTS automation_states (
	target_id TEXT NOT NULL,
	profile_key TEXT NOT NULL,
	events_created INTEGER NOT NULL DEFAULT 0,
	activation_starts_at TIMESTAMPTZ,
	last_success TIMESTAMPTZ,
	last_event_id TEXT,
	published_event_times JSONB NOT NULL DEFAULT '[]',
	PRIMARY KEY (target_id, profile_key)
);

CREATE TABLE IF NOT EXISTS engine_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Migrate creates the engine's tables if they do not already exist, using
// the schema appropriate for conn's driver.
func Migrate(ctx context.Context, conn database.Connection) error {
	schema := sqliteSchema
	if conn.Driver() == database.DriverPostgres {
		schema = postgresSchema
	}
	if _, err := conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate relational schema: %w", err)
	}
	return nil
}

// placeholder returns the n-th bind placeholder for conn's driver: "?" for
// SQLite, "$n" for PostgreSQL.
func placeholder(conn database.Connection, n int) string {
	if conn.Driver() == database.DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// PendingStore implements domain.PendingStore over database.Connection.
type PendingStore struct {
	conn  database.Connection
	limit int
}

// NewPendingStore returns a PendingStore. Call Migrate first.
func NewPendingStore(conn database.Connection) *PendingStore {
	return &PendingStore{conn: conn}
}

// Load reads the persisted display_limit setting into the store. Records
// are not loaded up front: rows are read live on every query.
func (s *PendingStore) Load(ctx context.Context) error {
	row := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT value FROM engine_settings WHERE key = %s", placeholder(s.conn, 1)), "display_limit")
	var value string
	if err := row.Scan(&value); err != nil {
		if database.IsNoRows(err) {
			return nil
		}
		return fmt.Errorf("load display limit: %w", err)
	}
	var limit int
	if _, err := fmt.Sscanf(value, "%d", &limit); err == nil {
		s.limit = limit
	}
	return nil
}

// Save persists the display limit setting; pending/deleted rows are
// already durable as of each Put/SoftDelete/Restore/DeleteIDs call.
func (s *PendingStore) Save(ctx context.Context) error {
	return s.upsertSetting(ctx, "display_limit", fmt.Sprintf("%d", s.limit))
}

func (s *PendingStore) upsertSetting(ctx context.Context, key, value string) error {
	var query string
	if s.conn.Driver() == database.DriverPostgres {
		query = "INSERT INTO engine_settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value"
	} else {
		query = "INSERT INTO engine_settings (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value"
	}
	_, err := s.conn.Exec(ctx, query, key, value)
	return err
}

func (s *PendingStore) scanRecord(row database.Row) (domain.PendingRecord, error) {
	var (
		rec                                                  domain.PendingRecord
		scheduledPublish, deletedAt, missedAt, queuedAt       sql.NullString
		overridesJSON                                         sql.NullString
		eventID                                               sql.NullString
		eventStartsAt                                         time.Time
	)
	if err := row.Scan(&rec.ID, &rec.SlotKey, &rec.TargetID, &rec.ProfileKey, &eventStartsAt,
		&scheduledPublish, &overridesJSON, &rec.Status, &missedAt, &queuedAt, &deletedAt, &eventID); err != nil {
		return domain.PendingRecord{}, err
	}
	rec.EventStartsAt = eventStartsAt
	if scheduledPublish.Valid {
		t, err := parseTimestamp(scheduledPublish.String)
		if err != nil {
			return domain.PendingRecord{}, err
		}
		rec.ScheduledPublishTime = t
	}
	if missedAt.Valid {
		t, err := parseTimestamp(missedAt.String)
		if err != nil {
			return domain.PendingRecord{}, err
		}
		rec.MissedAt = &t
	}
	if queuedAt.Valid {
		t, err := parseTimestamp(queuedAt.String)
		if err != nil {
			return domain.PendingRecord{}, err
		}
		rec.QueuedAt = &t
	}
	if deletedAt.Valid {
		t, err := parseTimestamp(deletedAt.String)
		if err != nil {
			return domain.PendingRecord{}, err
		}
		rec.DeletedAt = &t
	}
	if eventID.Valid {
		rec.EventID = eventID.String
	}
	if overridesJSON.Valid && overridesJSON.String != "" {
		var overrides domain.ManualOverrides
		if err := json.Unmarshal([]byte(overridesJSON.String), &overrides); err != nil {
			return domain.PendingRecord{}, err
		}
		rec.ManualOverrides = &overrides
	}
	return rec, nil
}

// parseTimestamp parses s as an RFC3339Nano timestamp; it accepts no other
// layout.
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

const selectColumns = "id, slot_key, target_id, profile_key, event_starts_at, scheduled_publish_time, manual_overrides, status, missed_at, queued_at, deleted_at, event_id"

func (s *PendingStore) queryRecords(ctx context.Context, query string, args ...any) ([]domain.PendingRecord, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingRecord
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetPending returns every record for targetID, including terminal ones;
// callers that need the spec's live-only view go through
// application/queries.GetPending instead.
func (s *PendingStore) GetPending(ctx context.Context, targetID string) ([]domain.PendingRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM pending_events WHERE target_id = %s", selectColumns, placeholder(s.conn, 1))
	return s.queryRecords(ctx, query, targetID)
}

// AllPending returns every record in the pending table.
func (s *PendingStore) AllPending(ctx context.Context) ([]domain.PendingRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM pending_events", selectColumns)
	return s.queryRecords(ctx, query)
}

// GetByID returns a record by its stable id, searching pending first.
func (s *PendingStore) GetByID(ctx context.Context, id string) (*domain.PendingRecord, bool) {
	query := fmt.Sprintf("SELECT %s FROM pending_events WHERE id = %s", selectColumns, placeholder(s.conn, 1))
	row := s.conn.QueryRow(ctx, query, id)
	rec, err := s.scanRecord(row)
	if err == nil {
		return &rec, true
	}

	query = fmt.Sprintf("SELECT %s FROM pending_deleted_events WHERE id = %s", selectColumns, placeholder(s.conn, 1))
	row = s.conn.QueryRow(ctx, query, id)
	rec, err = s.scanRecord(row)
	if err != nil {
		return nil, false
	}
	return &rec, true
}

// GetBySlotKey returns the pending record currently addressed by slotKey.
// slot_key carries a UNIQUE constraint in the schema, so this is a direct
// lookup rather than GetByID's two-table search (a slot key only ever
// lives in the pending table; SoftDelete never changes it).
func (s *PendingStore) GetBySlotKey(ctx context.Context, slotKey string) (*domain.PendingRecord, bool) {
	query := fmt.Sprintf("SELECT %s FROM pending_events WHERE slot_key = %s", selectColumns, placeholder(s.conn, 1))
	row := s.conn.QueryRow(ctx, query, slotKey)
	rec, err := s.scanRecord(row)
	if err != nil {
		return nil, false
	}
	return &rec, true
}

// GetDeleted returns soft-deleted records for targetID.
func (s *PendingStore) GetDeleted(ctx context.Context, targetID string) ([]domain.PendingRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM pending_deleted_events WHERE target_id = %s", selectColumns, placeholder(s.conn, 1))
	return s.queryRecords(ctx, query, targetID)
}

// AllDeleted returns every soft-deleted record.
func (s *PendingStore) AllDeleted(ctx context.Context) ([]domain.PendingRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM pending_deleted_events", selectColumns)
	return s.queryRecords(ctx, query)
}

// Put upserts rec into the pending table (removing any deleted row with
// the same id, since restore-vs-put are mutually exclusive states).
func (s *PendingStore) Put(ctx context.Context, rec domain.PendingRecord) error {
	return s.put(ctx, s.conn, rec)
}

func (s *PendingStore) put(ctx context.Context, exec database.Executor, rec domain.PendingRecord) error {
	overridesJSON, err := marshalOverrides(rec.ManualOverrides)
	if err != nil {
		return err
	}

	del := fmt.Sprintf("DELETE FROM pending_deleted_events WHERE id = %s", placeholder(s.conn, 1))
	if _, err := exec.Exec(ctx, del, rec.ID); err != nil {
		return err
	}

	var upsert string
	if s.conn.Driver() == database.DriverPostgres {
		upsert = `INSERT INTO pending_events (id, slot_key, target_id, profile_key, event_starts_at, scheduled_publish_time, manual_overrides, status, missed_at, queued_at, deleted_at, event_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET slot_key=EXCLUDED.slot_key, target_id=EXCLUDED.target_id, profile_key=EXCLUDED.profile_key,
				event_starts_at=EXCLUDED.event_starts_at, scheduled_publish_time=EXCLUDED.scheduled_publish_time,
				manual_overrides=EXCLUDED.manual_overrides, status=EXCLUDED.status, missed_at=EXCLUDED.missed_at,
				queued_at=EXCLUDED.queued_at, deleted_at=EXCLUDED.deleted_at, event_id=EXCLUDED.event_id`
	} else {
		upsert = `INSERT INTO pending_events (id, slot_key, target_id, profile_key, event_starts_at, scheduled_publish_time, manual_overrides, status, missed_at, queued_at, deleted_at, event_id)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET slot_key=excluded.slot_key, target_id=excluded.target_id, profile_key=excluded.profile_key,
				event_starts_at=excluded.event_starts_at, scheduled_publish_time=excluded.scheduled_publish_time,
				manual_overrides=excluded.manual_overrides, status=excluded.status, missed_at=excluded.missed_at,
				queued_at=excluded.queued_at, deleted_at=excluded.deleted_at, event_id=excluded.event_id`
	}

	_, err = exec.Exec(ctx, upsert, rec.ID, rec.SlotKey, rec.TargetID, rec.ProfileKey, rec.EventStartsAt,
		nullableTime(rec.ScheduledPublishTime), overridesJSON, string(rec.Status),
		nullableTimePtr(rec.MissedAt), nullableTimePtr(rec.QueuedAt), nullableTimePtr(rec.DeletedAt), nullableString(rec.EventID))
	return err
}

// ReplaceAll replaces the entire pending and deleted tables with pending
// and deleted, used by SetKnownTargets and startup normalization. Runs
// inside one transaction: a partial write here would otherwise leave the
// store with neither the old nor the new record set on a crash mid-loop.
func (s *PendingStore) ReplaceAll(ctx context.Context, pending, deleted []domain.PendingRecord) error {
	tx, err := s.conn.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := s.replaceAllTx(ctx, tx, pending, deleted); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (s *PendingStore) replaceAllTx(ctx context.Context, tx database.Transaction, pending, deleted []domain.PendingRecord) error {
	if _, err := tx.Exec(ctx, "DELETE FROM pending_events"); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM pending_deleted_events"); err != nil {
		return err
	}
	for _, rec := range pending {
		if err := s.put(ctx, tx, rec); err != nil {
			return err
		}
	}
	for _, rec := range deleted {
		if err := s.putDeleted(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *PendingStore) putDeleted(ctx context.Context, exec database.Executor, rec domain.PendingRecord) error {
	overridesJSON, err := marshalOverrides(rec.ManualOverrides)
	if err != nil {
		return err
	}
	var upsert string
	if s.conn.Driver() == database.DriverPostgres {
		upsert = `INSERT INTO pending_deleted_events (id, slot_key, target_id, profile_key, event_starts_at, scheduled_publish_time, manual_overrides, status, missed_at, queued_at, deleted_at, event_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE SET deleted_at=EXCLUDED.deleted_at`
	} else {
		upsert = `INSERT INTO pending_deleted_events (id, slot_key, target_id, profile_key, event_starts_at, scheduled_publish_time, manual_overrides, status, missed_at, queued_at, deleted_at, event_id)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT (id) DO UPDATE SET deleted_at=excluded.deleted_at`
	}
	_, err = exec.Exec(ctx, upsert, rec.ID, rec.SlotKey, rec.TargetID, rec.ProfileKey, rec.EventStartsAt,
		nullableTime(rec.ScheduledPublishTime), overridesJSON, string(rec.Status),
		nullableTimePtr(rec.MissedAt), nullableTimePtr(rec.QueuedAt), nullableTimePtr(rec.DeletedAt), nullableString(rec.EventID))
	return err
}

// SoftDelete moves a pending record into the deleted table, stamped with
// deletedAt.
func (s *PendingStore) SoftDelete(ctx context.Context, id string, deletedAt time.Time) error {
	getQuery := fmt.Sprintf("SELECT %s FROM pending_events WHERE id = %s", selectColumns, placeholder(s.conn, 1))
	row := s.conn.QueryRow(ctx, getQuery, id)
	rec, err := s.scanRecord(row)
	if err != nil {
		return domain.ErrRecordNotFound
	}
	rec.DeletedAt = &deletedAt

	del := fmt.Sprintf("DELETE FROM pending_events WHERE id = %s", placeholder(s.conn, 1))
	if _, err := s.conn.Exec(ctx, del, id); err != nil {
		return err
	}
	return s.putDeleted(ctx, s.conn, rec)
}

// Restore moves a deleted record back to the pending table, clearing
// DeletedAt/QueuedAt/MissedAt and resetting status to scheduled.
func (s *PendingStore) Restore(ctx context.Context, id string) (*domain.PendingRecord, bool) {
	getQuery := fmt.Sprintf("SELECT %s FROM pending_deleted_events WHERE id = %s", selectColumns, placeholder(s.conn, 1))
	row := s.conn.QueryRow(ctx, getQuery, id)
	rec, err := s.scanRecord(row)
	if err != nil {
		return nil, false
	}

	del := fmt.Sprintf("DELETE FROM pending_deleted_events WHERE id = %s", placeholder(s.conn, 1))
	if _, err := s.conn.Exec(ctx, del, id); err != nil {
		return nil, false
	}

	rec.DeletedAt = nil
	rec.QueuedAt = nil
	rec.MissedAt = nil
	rec.Status = domain.StatusScheduled
	if rec.ManualOverrides != nil && rec.ManualOverrides.IsZero() {
		rec.ManualOverrides = nil
	}
	if err := s.Put(ctx, rec); err != nil {
		return nil, false
	}
	return &rec, true
}

// DeleteIDs removes rows (from either table) matching ids.
func (s *PendingStore) DeleteIDs(ctx context.Context, ids []string) error {
	for _, id := range ids {
		del := fmt.Sprintf("DELETE FROM pending_events WHERE id = %s", placeholder(s.conn, 1))
		if _, err := s.conn.Exec(ctx, del, id); err != nil {
			return err
		}
		del = fmt.Sprintf("DELETE FROM pending_deleted_events WHERE id = %s", placeholder(s.conn, 1))
		if _, err := s.conn.Exec(ctx, del, id); err != nil {
			return err
		}
	}
	return nil
}

// CountMissedOrQueued reports the missed and queued counts for targetID.
func (s *PendingStore) CountMissedOrQueued(ctx context.Context, targetID string) (missed, queued int, err error) {
	var query string
	if s.conn.Driver() == database.DriverPostgres {
		query = "SELECT status, COUNT(*) FROM pending_events WHERE target_id = $1 AND status IN ($2,$3) GROUP BY status"
	} else {
		query = "SELECT status, COUNT(*) FROM pending_events WHERE target_id = ? AND status IN (?,?) GROUP BY status"
	}
	rows, err := s.conn.Query(ctx, query, targetID, string(domain.StatusMissed), string(domain.StatusQueued))
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, err
		}
		switch domain.Status(status) {
		case domain.StatusMissed:
			missed = count
		case domain.StatusQueued:
			queued = count
		}
	}
	return missed, queued, rows.Err()
}

// DisplayLimit returns the configured maximum number of pending records
// surfaced per target (0 means unlimited).
func (s *PendingStore) DisplayLimit() int {
	return s.limit
}

// SetDisplayLimit updates the display limit.
func (s *PendingStore) SetDisplayLimit(limit int) {
	s.limit = limit
}

func marshalOverrides(overrides *domain.ManualOverrides) (sql.NullString, error) {
	if overrides == nil || overrides.IsZero() {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
