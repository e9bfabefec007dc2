// mock_storage.go - Mock record store implementation for testing
package testutil

import (
	"context"
	"sync"

	"github.com/sheetviz/backend/internal/models"
	"github.com/sheetviz/backend/internal/store"
)

// MockStore wraps an in-memory store, counts calls and can inject failures.
type MockStore struct {
	*store.MemoryStore

	mu     sync.Mutex
	calls  map[string]int
	errors map[string]error
	// updated receives every successful UpdateStatus id.
	updated chan string
}

// NewMockStore creates a new mock store backed by a MemoryStore.
func NewMockStore() *MockStore {
	return &MockStore{
		MemoryStore: store.NewMemoryStore(),
		calls:       make(map[string]int),
		errors:      make(map[string]error),
		updated:     make(chan string, 64),
	}
}

// FailOn makes every call to method return err. A nil err clears it.
func (m *MockStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, method)
		return
	}
	m.errors[method] = err
}

// Calls returns how many times method was called.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Writes returns the number of mutating calls.
func (m *MockStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls["Create"] + m.calls["UpdateStatus"] + m.calls["DeleteByID"] + m.calls["AddChart"] + m.calls["CreateUser"]
}

// Updated delivers the id of each record whose status was written.
func (m *MockStore) Updated() <-chan string {
	return m.updated
}

func (m *MockStore) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	return m.errors[method]
}

func (m *MockStore) Create(ctx context.Context, rec *models.FileRecord) (string, error) {
	if err := m.record("Create"); err != nil {
		return "", err
	}
	return m.MemoryStore.Create(ctx, rec)
}

func (m *MockStore) GetByID(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	if err := m.record("GetByID"); err != nil {
		return nil, err
	}
	return m.MemoryStore.GetByID(ctx, id, ownerID)
}

func (m *MockStore) GetStatus(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	if err := m.record("GetStatus"); err != nil {
		return nil, err
	}
	return m.MemoryStore.GetStatus(ctx, id, ownerID)
}

func (m *MockStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.FileRecord, error) {
	if err := m.record("ListByOwner"); err != nil {
		return nil, err
	}
	return m.MemoryStore.ListByOwner(ctx, ownerID, limit)
}

func (m *MockStore) UpdateStatus(ctx context.Context, id string, patch store.Patch) error {
	if err := m.record("UpdateStatus"); err != nil {
		m.notify(id)
		return err
	}
	err := m.MemoryStore.UpdateStatus(ctx, id, patch)
	m.notify(id)
	return err
}

func (m *MockStore) DeleteByID(ctx context.Context, id, ownerID string) (bool, error) {
	if err := m.record("DeleteByID"); err != nil {
		return false, err
	}
	return m.MemoryStore.DeleteByID(ctx, id, ownerID)
}

func (m *MockStore) AddChart(ctx context.Context, id, ownerID string, chart models.Chart) error {
	if err := m.record("AddChart"); err != nil {
		return err
	}
	return m.MemoryStore.AddChart(ctx, id, ownerID, chart)
}

func (m *MockStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := m.record("GetUser"); err != nil {
		return nil, err
	}
	return m.MemoryStore.GetUser(ctx, id)
}

func (m *MockStore) CreateUser(ctx context.Context, u *models.User) (string, error) {
	if err := m.record("CreateUser"); err != nil {
		return "", err
	}
	return m.MemoryStore.CreateUser(ctx, u)
}

func (m *MockStore) notify(id string) {
	select {
	case m.updated <- id:
	default:
	}
}
