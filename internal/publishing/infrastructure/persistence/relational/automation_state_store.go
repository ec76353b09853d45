package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
	"github.com/cynacedia/pubkeeper/internal/shared/infrastructure/database"
)

// AutomationStateStore implements domain.AutomationStateStore over
// database.Connection.
type AutomationStateStore struct {
	conn database.Connection
}

// NewAutomationStateStore returns an AutomationStateStore. Call Migrate
// first.
func NewAutomationStateStore(conn database.Connection) *AutomationStateStore {
	return &AutomationStateStore{conn: conn}
}

// Load is a no-op: rows are read live on every query.
func (s *AutomationStateStore) Load(ctx context.Context) error { return nil }

// Save is a no-op: every Put/Delete is already durable.
func (s *AutomationStateStore) Save(ctx context.Context) error { return nil }

const stateColumns = "target_id, profile_key, events_created, activation_starts_at, last_success, last_event_id, published_event_times"

func (s *AutomationStateStore) scan(row database.Row) (*domain.AutomationState, error) {
	var (
		state               domain.AutomationState
		activation, success sql.NullString
		lastEventID         sql.NullString
		timesJSON           string
	)
	if err := row.Scan(&state.TargetID, &state.ProfileKey, &state.EventsCreated, &activation, &success, &lastEventID, &timesJSON); err != nil {
		return nil, err
	}
	if activation.Valid {
		t, err := parseTimestamp(activation.String)
		if err != nil {
			return nil, err
		}
		state.ActivationStartsAt = &t
	}
	if success.Valid {
		t, err := parseTimestamp(success.String)
		if err != nil {
			return nil, err
		}
		state.LastSuccess = &t
	}
	if lastEventID.Valid {
		state.LastEventID = lastEventID.String
	}
	var times []int64
	if err := json.Unmarshal([]byte(timesJSON), &times); err != nil {
		return nil, fmt.Errorf("decode published event times: %w", err)
	}
	state.PublishedEventTimes = make(map[int64]struct{}, len(times))
	for _, millis := range times {
		state.PublishedEventTimes[millis] = struct{}{}
	}
	return &state, nil
}

// Get returns the automation state for (targetID, profileKey).
func (s *AutomationStateStore) Get(ctx context.Context, targetID, profileKey string) (*domain.AutomationState, bool) {
	query := fmt.Sprintf("SELECT %s FROM automation_states WHERE target_id = %s AND profile_key = %s",
		stateColumns, placeholder(s.conn, 1), placeholder(s.conn, 2))
	row := s.conn.QueryRow(ctx, query, targetID, profileKey)
	state, err := s.scan(row)
	if err != nil {
		return nil, false
	}
	return state, true
}

// Put upserts state.
func (s *AutomationStateStore) Put(ctx context.Context, state *domain.AutomationState) error {
	times := make([]int64, 0, len(state.PublishedEventTimes))
	for millis := range state.PublishedEventTimes {
		times = append(times, millis)
	}
	timesJSON, err := json.Marshal(times)
	if err != nil {
		return err
	}

	var query string
	if s.conn.Driver() == database.DriverPostgres {
		query = `INSERT INTO automation_states (target_id, profile_key, events_created, activation_starts_at, last_success, last_event_id, published_event_times)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (target_id, profile_key) DO UPDATE SET events_created=EXCLUDED.events_created,
				activation_starts_at=EXCLUDED.activation_starts_at, last_success=EXCLUDED.last_success,
				last_event_id=EXCLUDED.last_event_id, published_event_times=EXCLUDED.published_event_times`
	} else {
		query = `INSERT INTO automation_states (target_id, profile_key, events_created, activation_starts_at, last_success, last_event_id, published_event_times)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT (target_id, profile_key) DO UPDATE SET events_created=excluded.events_created,
				activation_starts_at=excluded.activation_starts_at, last_success=excluded.last_success,
				last_event_id=excluded.last_event_id, published_event_times=excluded.published_event_times`
	}

	_, err = s.conn.Exec(ctx, query, state.TargetID, state.ProfileKey, state.EventsCreated,
		nullableTimePtr(state.ActivationStartsAt), nullableTimePtr(state.LastSuccess),
		nullableString(state.LastEventID), string(timesJSON))
	return err
}

// Delete removes the automation state for (targetID, profileKey).
func (s *AutomationStateStore) Delete(ctx context.Context, targetID, profileKey string) error {
	query := fmt.Sprintf("DELETE FROM automation_states WHERE target_id = %s AND profile_key = %s",
		placeholder(s.conn, 1), placeholder(s.conn, 2))
	_, err := s.conn.Exec(ctx, query, targetID, profileKey)
	return err
}

// All returns every automation state.
func (s *AutomationStateStore) All(ctx context.Context) ([]*domain.AutomationState, error) {
	query := fmt.Sprintf("SELECT %s FROM automation_states", stateColumns)
	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AutomationState
	for rows.Next() {
		state, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, rows.Err()
}
