// Package file implements the pending-events and automation-state stores
// as single JSON documents with temp-file-then-rename writes for atomic
// durability.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cynacedia/pubkeeper/internal/publishing/domain"
)

// wireRecord mirrors PendingRecord's on-disk field names.
type wireRecord struct {
	ID                   string                 `json:"id"`
	SlotKey              string                 `json:"slotKey"`
	TargetID             string                 `json:"targetId"`
	ProfileKey           string                 `json:"profileKey"`
	EventStartsAt        time.Time              `json:"eventStartsAt"`
	ScheduledPublishTime *time.Time             `json:"scheduledPublishTime,omitempty"`
	ManualOverrides      *domain.ManualOverrides `json:"manualOverrides,omitempty"`
	Status               domain.Status          `json:"status"`
	MissedAt             *time.Time             `json:"missedAt,omitempty"`
	QueuedAt             *time.Time             `json:"queuedAt,omitempty"`
	DeletedAt            *time.Time             `json:"deletedAt,omitempty"`
	EventID              string                 `json:"eventId,omitempty"`
}

func toWire(r domain.PendingRecord) wireRecord {
	w := wireRecord{
		ID:              r.ID,
		SlotKey:         r.SlotKey,
		TargetID:        r.TargetID,
		ProfileKey:      r.ProfileKey,
		EventStartsAt:   r.EventStartsAt,
		ManualOverrides: r.ManualOverrides,
		Status:          r.Status,
		MissedAt:        r.MissedAt,
		QueuedAt:        r.QueuedAt,
		DeletedAt:       r.DeletedAt,
		EventID:         r.EventID,
	}
	if r.Status != domain.StatusPublished && !r.ScheduledPublishTime.IsZero() {
		t := r.ScheduledPublishTime
		w.ScheduledPublishTime = &t
	}
	return w
}

func fromWire(w wireRecord) domain.PendingRecord {
	r := domain.PendingRecord{
		ID:              w.ID,
		SlotKey:         w.SlotKey,
		TargetID:        w.TargetID,
		ProfileKey:      w.ProfileKey,
		EventStartsAt:   w.EventStartsAt,
		ManualOverrides: w.ManualOverrides,
		Status:          w.Status,
		MissedAt:        w.MissedAt,
		QueuedAt:        w.QueuedAt,
		DeletedAt:       w.DeletedAt,
		EventID:         w.EventID,
	}
	if w.ScheduledPublishTime != nil {
		r.ScheduledPublishTime = *w.ScheduledPublishTime
	}
	return r
}

type settings struct {
	DisplayLimit int `json:"displayLimit"`
}

type document struct {
	Events        []wireRecord `json:"events"`
	DeletedEvents []wireRecord `json:"deletedEvents"`
	Settings      settings     `json:"settings"`
}

// PendingStore is the JSON-document implementation of domain.PendingStore.
type PendingStore struct {
	mu   sync.RWMutex
	path string

	pending map[string]domain.PendingRecord
	deleted map[string]domain.PendingRecord
	limit   int
}

// NewPendingStore returns a store backed by the JSON file at path. Load
// must be called before use.
func NewPendingStore(path string) *PendingStore {
	return &PendingStore{
		path:    path,
		pending: make(map[string]domain.PendingRecord),
		deleted: make(map[string]domain.PendingRecord),
	}
}

// Load reads the document, garbage-collecting deleted entries whose
// eventStartsAt is already in the past.
func (s *PendingStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read pending store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse pending store: %w", err)
	}

	now := time.Now()
	s.pending = make(map[string]domain.PendingRecord, len(doc.Events))
	for _, w := range doc.Events {
		rec := fromWire(w)
		s.pending[rec.ID] = rec
	}
	s.deleted = make(map[string]domain.PendingRecord, len(doc.DeletedEvents))
	for _, w := range doc.DeletedEvents {
		rec := fromWire(w)
		if rec.EventStartsAt.Before(now) {
			continue
		}
		s.deleted[rec.ID] = rec
	}
	s.limit = doc.Settings.DisplayLimit
	return nil
}

// Save writes the current in-memory state atomically via temp-file +
// rename.
func (s *PendingStore) Save(ctx context.Context) error {
	s.mu.RLock()
	doc := document{
		Events:        make([]wireRecord, 0, len(s.pending)),
		DeletedEvents: make([]wireRecord, 0, len(s.deleted)),
		Settings:      settings{DisplayLimit: s.limit},
	}
	for _, rec := range s.pending {
		doc.Events = append(doc.Events, toWire(rec))
	}
	for _, rec := range s.deleted {
		doc.DeletedEvents = append(doc.DeletedEvents, toWire(rec))
	}
	s.mu.RUnlock()

	return writeJSONAtomic(s.path, doc)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// GetPending returns every record for targetID, or every target when
// empty, including terminal ones; callers that need the spec's live-only
// view go through application/queries.GetPending instead.
func (s *PendingStore) GetPending(ctx context.Context, targetID string) ([]domain.PendingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingRecord, 0, len(s.pending))
	for _, rec := range s.pending {
		if targetID != "" && rec.TargetID != targetID {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

// AllPending returns every pending record, including terminal ones.
func (s *PendingStore) AllPending(ctx context.Context) ([]domain.PendingRecord, error) {
	return s.GetPending(ctx, "")
}

// GetByID returns the pending record with id, if present.
func (s *PendingStore) GetByID(ctx context.Context, id string) (*domain.PendingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.pending[id]
	if !ok {
		return nil, false
	}
	c := rec.Clone()
	return &c, true
}

// GetBySlotKey returns the pending record currently addressed by slotKey.
// The pending map is keyed by id, so this is a linear scan; slot-key
// lookups are rare compared to id lookups (timer fires and rate-gate
// admission, not every store access).
func (s *PendingStore) GetBySlotKey(ctx context.Context, slotKey string) (*domain.PendingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.pending {
		if rec.SlotKey == slotKey {
			c := rec.Clone()
			return &c, true
		}
	}
	return nil, false
}

// GetDeleted returns the deleted pool for targetID, or every target when empty.
func (s *PendingStore) GetDeleted(ctx context.Context, targetID string) ([]domain.PendingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingRecord, 0, len(s.deleted))
	for _, rec := range s.deleted {
		if targetID != "" && rec.TargetID != targetID {
			continue
		}
		out = append(out, rec.Clone())
	}
	return out, nil
}

// AllDeleted returns the entire deleted pool.
func (s *PendingStore) AllDeleted(ctx context.Context) ([]domain.PendingRecord, error) {
	return s.GetDeleted(ctx, "")
}

// Put upserts rec into the pending set.
func (s *PendingStore) Put(ctx context.Context, rec domain.PendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rec.ID] = rec.Clone()
	return nil
}

// ReplaceAll atomically swaps the pending and deleted sets.
func (s *PendingStore) ReplaceAll(ctx context.Context, pending, deleted []domain.PendingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]domain.PendingRecord, len(pending))
	for _, rec := range pending {
		s.pending[rec.ID] = rec
	}
	s.deleted = make(map[string]domain.PendingRecord, len(deleted))
	for _, rec := range deleted {
		s.deleted[rec.ID] = rec
	}
	return nil
}

// SoftDelete moves id from pending to the deleted pool.
func (s *PendingStore) SoftDelete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	now := time.Now()
	rec.Status = domain.StatusDeleted
	rec.DeletedAt = &now
	delete(s.pending, id)
	s.deleted[id] = rec
	return nil
}

// Restore moves id from the deleted pool back to pending, unmodified; the
// caller (RestoreDeleted) is responsible for recomputing its fields.
func (s *PendingStore) Restore(ctx context.Context, id string) (*domain.PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.deleted[id]
	if !ok {
		return nil, false
	}
	delete(s.deleted, id)
	s.pending[id] = rec
	c := rec.Clone()
	return &c, true
}

// DeleteIDs permanently removes records from both sets.
func (s *PendingStore) DeleteIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.pending, id)
		delete(s.deleted, id)
	}
	return nil
}

// CountMissedOrQueued reports the missed and queued counts for targetID.
func (s *PendingStore) CountMissedOrQueued(ctx context.Context, targetID string) (missed, queued int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.pending {
		if targetID != "" && rec.TargetID != targetID {
			continue
		}
		switch rec.Status {
		case domain.StatusMissed:
			missed++
		case domain.StatusQueued:
			queued++
		}
	}
	return missed, queued, nil
}

// DisplayLimit returns the configured display limit (0 means unlimited).
func (s *PendingStore) DisplayLimit() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit
}

// SetDisplayLimit sets the display limit.
func (s *PendingStore) SetDisplayLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
}
