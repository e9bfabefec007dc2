// Package store persists file records and the users that own them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheetviz/backend/internal/models"
)

var (
	// ErrNotFound is returned when no record matches the id and owner.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps timeouts and connectivity faults. Callers may retry.
	ErrUnavailable = errors.New("store unavailable")
	// ErrTerminal is returned when updating a record that already completed or failed.
	ErrTerminal = errors.New("record already finalized")
	// ErrInvalidTransition is returned for a backward or unknown status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotReady is returned when attaching charts to a file that has not completed.
	ErrNotReady = errors.New("file not ready")
	// ErrConflict is returned when creating a user whose email is taken.
	ErrConflict = errors.New("already exists")
)

// RecordStore is the File Record Store. Reads, deletes and chart writes are
// always scoped by owner.
type RecordStore interface {
	Create(ctx context.Context, rec *models.FileRecord) (string, error)
	GetByID(ctx context.Context, id, ownerID string) (*models.FileRecord, error)
	// GetStatus returns the record without sheet content.
	GetStatus(ctx context.Context, id, ownerID string) (*models.FileRecord, error)
	// ListByOwner returns records newest first, without sheet content.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.FileRecord, error)
	UpdateStatus(ctx context.Context, id string, patch Patch) error
	DeleteByID(ctx context.Context, id, ownerID string) (bool, error)
	AddChart(ctx context.Context, id, ownerID string, chart models.Chart) error
	// Ready reports whether the backing database is reachable.
	Ready() bool
}

// UserStore resolves the accounts that own records.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) (string, error)
}

// Store is a complete persistence backend.
type Store interface {
	RecordStore
	UserStore
	Close() error
}

// Patch is a partial status update. Only the fields relevant to Status are written:
// Sheets and Metadata for completed, ErrorMessage for error.
type Patch struct {
	Status       models.FileStatus
	Sheets       []models.SheetData
	Metadata     *models.Metadata
	ErrorMessage string
}

// Validate checks that the patch is self-consistent.
func (p Patch) Validate() error {
	switch p.Status {
	case models.FileStatusCompleted:
		if p.Metadata == nil || len(p.Sheets) == 0 {
			return fmt.Errorf("%w: completed requires sheets and metadata", ErrInvalidTransition)
		}
	case models.FileStatusError:
		if p.ErrorMessage == "" {
			return fmt.Errorf("%w: error requires a message", ErrInvalidTransition)
		}
	case models.FileStatusProcessing:
	default:
		return fmt.Errorf("%w: cannot move to %q", ErrInvalidTransition, p.Status)
	}
	return nil
}

// Apply writes the patch onto rec. The caller checks the transition first.
func (p Patch) Apply(rec *models.FileRecord) {
	rec.Status = p.Status
	switch p.Status {
	case models.FileStatusCompleted:
		rec.Sheets = p.Sheets
		rec.Metadata = p.Metadata
	case models.FileStatusError:
		rec.ErrorMessage = p.ErrorMessage
	}
}

// predecessors lists the statuses from which the patch may be applied.
func (p Patch) predecessors() []models.FileStatus {
	var from []models.FileStatus
	for _, s := range []models.FileStatus{models.FileStatusUploading, models.FileStatusProcessing} {
		if s.CanTransitionTo(p.Status) {
			from = append(from, s)
		}
	}
	return from
}

// transitionError explains why a patch could not be applied to a record in status current.
func transitionError(current, next models.FileStatus) error {
	if current.Terminal() {
		return fmt.Errorf("%w: status is %s", ErrTerminal, current)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

// Timeouts bounds every store call.
type Timeouts struct {
	Create   time.Duration
	Status   time.Duration
	List     time.Duration
	Data     time.Duration
	Finalize time.Duration
	Delete   time.Duration
	User     time.Duration
}

// DefaultTimeouts returns the per-operation timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Create:   10 * time.Second,
		Status:   5 * time.Second,
		List:     8 * time.Second,
		Data:     10 * time.Second,
		Finalize: 15 * time.Second,
		Delete:   5 * time.Second,
		User:     3 * time.Second,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
