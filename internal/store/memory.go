package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sheetviz/backend/internal/models"
)

// MemoryStore keeps records in process memory. It is used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.FileRecord
	users   map[string]*models.User
	ready   atomic.Bool
}

// NewMemoryStore creates an empty, ready MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*models.FileRecord),
		users:   make(map[string]*models.User),
	}
	s.ready.Store(true)
	return s
}

// SetReady toggles the reported readiness, simulating an outage.
func (s *MemoryStore) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *MemoryStore) Ready() bool {
	return s.ready.Load()
}

func (s *MemoryStore) Close() error {
	return nil
}

// check fails fast when the store is marked down or the context is done.
func (s *MemoryStore) check(ctx context.Context) error {
	if !s.ready.Load() {
		return fmt.Errorf("%w: memory store marked down", ErrUnavailable)
	}
	return Classify(ctx.Err())
}

func (s *MemoryStore) Create(ctx context.Context, rec *models.FileRecord) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return "", fmt.Errorf("record %s: %w", rec.ID, ErrConflict)
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return rec.ID, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || rec.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (s *MemoryStore) GetStatus(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	rec, err := s.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	rec.Sheets = nil
	return rec, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.FileRecord, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var list []*models.FileRecord
	for _, rec := range s.records {
		if rec.OwnerID != ownerID {
			continue
		}
		cp := copyRecord(rec)
		cp.Sheets = nil
		list = append(list, cp)
	}
	s.mu.RUnlock()

	// Sort by UploadedAt desc
	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, patch Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if !rec.Status.CanTransitionTo(patch.Status) {
		return transitionError(rec.Status, patch.Status)
	}
	cp := *rec
	patch.Apply(&cp)
	s.records[id] = &cp
	return nil
}

func (s *MemoryStore) DeleteByID(ctx context.Context, id, ownerID string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.OwnerID != ownerID {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *MemoryStore) AddChart(ctx context.Context, id, ownerID string, chart models.Chart) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.OwnerID != ownerID {
		return ErrNotFound
	}
	if rec.Status != models.FileStatusCompleted {
		return ErrNotReady
	}
	cp := *rec
	cp.Charts = append(append([]models.Chart(nil), rec.Charts...), chart)
	s.records[id] = &cp
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return "", fmt.Errorf("user %s: %w", u.Email, ErrConflict)
		}
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	cp := *u
	s.users[u.ID] = &cp
	return u.ID, nil
}

// copyRecord returns a copy whose slices can be modified without touching the stored record.
func copyRecord(rec *models.FileRecord) *models.FileRecord {
	cp := *rec
	if rec.Sheets != nil {
		cp.Sheets = append([]models.SheetData(nil), rec.Sheets...)
	}
	if rec.Charts != nil {
		cp.Charts = append([]models.Chart(nil), rec.Charts...)
	}
	if rec.Metadata != nil {
		md := *rec.Metadata
		cp.Metadata = &md
	}
	return &cp
}
