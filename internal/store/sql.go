package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sheetviz/backend/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// SQLStore keeps records in postgres or duckdb. Sheet content is stored as a
// msgpack blob; metadata and charts are JSON documents.
type SQLStore struct {
	conn     *Conn
	db       *sql.DB
	dialect  dialect
	timeouts Timeouts
}

// NewSQLStore wraps conn and schedules the schema migration for the first
// time the database is reachable.
func NewSQLStore(ctx context.Context, conn *Conn, timeouts Timeouts) (*SQLStore, error) {
	d, err := dialectFor(conn.Driver())
	if err != nil {
		return nil, err
	}
	s := &SQLStore{
		conn:     conn,
		db:       conn.DB(),
		dialect:  d,
		timeouts: timeouts,
	}
	if err := conn.OnReady(ctx, d.migrate); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Ready() bool {
	return s.conn.Ready()
}

func (s *SQLStore) Close() error {
	return s.conn.Close()
}

const recordColumns = `id, owner_id, original_name, stored_name, size, status, metadata, charts, error_message, uploaded_at`

func (s *SQLStore) Create(ctx context.Context, rec *models.FileRecord) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.Create)
	defer cancel()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = time.Now().UTC()
	}
	sheets, err := encodeSheets(rec.Sheets)
	if err != nil {
		return "", err
	}
	metadata, err := encodeJSON(rec.Metadata)
	if err != nil {
		return "", err
	}
	charts, err := encodeJSON(rec.Charts)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO excel_files (id, owner_id, original_name, stored_name, size, status,
			sheets, metadata, charts, error_message, uploaded_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.OwnerID, rec.OriginalName, rec.StoredName, rec.Size, string(rec.Status),
		sheets, metadata, charts, rec.ErrorMessage, rec.UploadedAt, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("record %s: %w", rec.ID, ErrConflict)
		}
		return "", Classify(fmt.Errorf("insert record: %w", err))
	}
	return rec.ID, nil
}

func (s *SQLStore) GetByID(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.Data)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+`, sheets FROM excel_files WHERE id = $1 AND owner_id = $2`,
		id, ownerID)

	var sheets []byte
	rec, err := scanRecord(row, &sheets)
	if err != nil {
		return nil, err
	}
	if rec.Sheets, err = decodeSheets(sheets); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) GetStatus(ctx context.Context, id, ownerID string) (*models.FileRecord, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.Status)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM excel_files WHERE id = $1 AND owner_id = $2`,
		id, ownerID)
	return scanRecord(row)
}

func (s *SQLStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.FileRecord, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.List)
	defer cancel()

	query := `SELECT ` + recordColumns + ` FROM excel_files WHERE owner_id = $1 ORDER BY uploaded_at DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Classify(fmt.Errorf("list records: %w", err))
	}
	defer rows.Close()

	var list []*models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(fmt.Errorf("list records: %w", err))
	}
	return list, nil
}

// UpdateStatus applies the patch only when the stored status may move to the
// new one. The condition is part of the UPDATE so concurrent writers cannot
// move a record backwards.
func (s *SQLStore) UpdateStatus(ctx context.Context, id string, patch Patch) error {
	if err := patch.Validate(); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, s.timeouts.Finalize)
	defer cancel()

	sets := []string{"status = $1", "updated_at = $2"}
	args := []any{string(patch.Status), time.Now().UTC()}
	switch patch.Status {
	case models.FileStatusCompleted:
		sheets, err := encodeSheets(patch.Sheets)
		if err != nil {
			return err
		}
		metadata, err := encodeJSON(patch.Metadata)
		if err != nil {
			return err
		}
		args = append(args, sheets, metadata)
		sets = append(sets, fmt.Sprintf("sheets = $%d", len(args)-1), fmt.Sprintf("metadata = $%d", len(args)))
	case models.FileStatusError:
		args = append(args, patch.ErrorMessage)
		sets = append(sets, fmt.Sprintf("error_message = $%d", len(args)))
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	var in []string
	for _, from := range patch.predecessors() {
		args = append(args, string(from))
		in = append(in, fmt.Sprintf("$%d", len(args)))
	}
	where += " AND status IN (" + strings.Join(in, ", ") + ")"

	res, err := s.db.ExecContext(ctx, "UPDATE excel_files SET "+strings.Join(sets, ", ")+" WHERE "+where, args...)
	if err != nil {
		return Classify(fmt.Errorf("update status: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Classify(fmt.Errorf("update status: %w", err))
	}
	if n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM excel_files WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return Classify(fmt.Errorf("read status: %w", err))
	}
	return transitionError(models.FileStatus(current), patch.Status)
}

func (s *SQLStore) DeleteByID(ctx context.Context, id, ownerID string) (bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.Delete)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM excel_files WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, Classify(fmt.Errorf("delete record: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, Classify(fmt.Errorf("delete record: %w", err))
	}
	return n > 0, nil
}

func (s *SQLStore) AddChart(ctx context.Context, id, ownerID string, chart models.Chart) error {
	ctx, cancel := withTimeout(ctx, s.timeouts.Finalize)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	var status string
	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT status, charts FROM excel_files WHERE id = $1 AND owner_id = $2`+s.dialect.lockRow,
		id, ownerID).Scan(&status, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return Classify(fmt.Errorf("read charts: %w", err))
	}
	if models.FileStatus(status) != models.FileStatusCompleted {
		return ErrNotReady
	}

	var charts []models.Chart
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &charts); err != nil {
			return fmt.Errorf("decode charts: %w", err)
		}
	}
	charts = append(charts, chart)
	encoded, err := encodeJSON(charts)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE excel_files SET charts = $1, updated_at = $2 WHERE id = $3`,
		encoded, time.Now().UTC(), id); err != nil {
		return Classify(fmt.Errorf("write charts: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return Classify(fmt.Errorf("commit charts: %w", err))
	}
	return nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.User)
	defer cancel()

	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, Classify(fmt.Errorf("get user: %w", err))
	}
	return &u, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) (string, error) {
	ctx, cancel := withTimeout(ctx, s.timeouts.User)
	defer cancel()

	var taken int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE lower(email) = lower($1)`, u.Email,
	).Scan(&taken)
	if err != nil {
		return "", Classify(fmt.Errorf("check user: %w", err))
	}
	if taken > 0 {
		return "", fmt.Errorf("user %s: %w", u.Email, ErrConflict)
	}

	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.Email, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("user %s: %w", u.Email, ErrConflict)
		}
		return "", Classify(fmt.Errorf("create user: %w", err))
	}
	return u.ID, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads recordColumns followed by any extra destinations.
func scanRecord(row scanner, extra ...any) (*models.FileRecord, error) {
	var (
		rec      models.FileRecord
		status   string
		metadata []byte
		charts   []byte
	)
	dest := []any{
		&rec.ID, &rec.OwnerID, &rec.OriginalName, &rec.StoredName, &rec.Size, &status,
		&metadata, &charts, &rec.ErrorMessage, &rec.UploadedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, Classify(fmt.Errorf("scan record: %w", err))
	}

	rec.Status = models.FileStatus(status)
	rec.UploadedAt = rec.UploadedAt.UTC()
	if len(metadata) > 0 && string(metadata) != "null" {
		rec.Metadata = &models.Metadata{}
		if err := json.Unmarshal(metadata, rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(charts) > 0 {
		if err := json.Unmarshal(charts, &rec.Charts); err != nil {
			return nil, fmt.Errorf("decode charts: %w", err)
		}
	}
	return &rec, nil
}

func encodeSheets(sheets []models.SheetData) ([]byte, error) {
	if len(sheets) == 0 {
		return nil, nil
	}
	b, err := msgpack.Marshal(sheets)
	if err != nil {
		return nil, fmt.Errorf("encode sheets: %w", err)
	}
	return b, nil
}

func decodeSheets(b []byte) ([]models.SheetData, error) {
	sheets := make([]models.SheetData, 0)
	if len(b) == 0 {
		return sheets, nil
	}
	if err := msgpack.Unmarshal(b, &sheets); err != nil {
		return nil, fmt.Errorf("decode sheets: %w", err)
	}
	return sheets, nil
}

// encodeJSON returns nil for nil values so the column stays NULL.
func encodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case *models.Metadata:
		if x == nil {
			return nil, nil
		}
	case []models.Chart:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate key") || strings.Contains(msg, "violates primary key") ||
		strings.Contains(msg, "violates unique constraint")
}
