package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fedra-bim/fedra/internal/model"
)

// sqliteSchema is the single-file backend schema. The unique index on
// (test_id, pair_key) is what makes the pairKey upsert race-free.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS clashes (
	id          TEXT PRIMARY KEY,
	test_id     TEXT NOT NULL,
	pair_key    TEXT NOT NULL,
	element_a   TEXT NOT NULL,
	element_b   TEXT NOT NULL,
	point_x     REAL NOT NULL DEFAULT 0,
	point_y     REAL NOT NULL DEFAULT 0,
	point_z     REAL NOT NULL DEFAULT 0,
	distance    REAL NOT NULL DEFAULT 0,
	volume      REAL NOT NULL DEFAULT 0,
	severity    TEXT NOT NULL,
	status      TEXT NOT NULL,
	group_id    TEXT,
	assigned_to TEXT NOT NULL DEFAULT '',
	comments    TEXT NOT NULL DEFAULT '[]',
	model_a     TEXT NOT NULL DEFAULT '',
	model_b     TEXT NOT NULL DEFAULT '',
	category_a  TEXT NOT NULL DEFAULT '',
	category_b  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	resolved_at INTEGER,
	resolved_by TEXT NOT NULL DEFAULT '',
	UNIQUE(test_id, pair_key)
);
CREATE INDEX IF NOT EXISTS idx_clashes_test ON clashes(test_id);
CREATE INDEX IF NOT EXISTS idx_clashes_status ON clashes(status);
CREATE INDEX IF NOT EXISTS idx_clashes_severity ON clashes(severity);
`

// SQLite is a file-backed ClashStore for embedded deployments that need
// durability without a database server.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the clash database at path.
// ":memory:" is accepted for tests.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// The upsert transaction holds a write lock; a single connection
	// avoids SQLITE_BUSY churn under concurrent runs.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: set WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, id uuid.UUID) (model.Clash, error) {
	row := s.db.QueryRowContext(ctx, selectClash+` WHERE id = ?`, id.String())
	return scanClash(row)
}

func (s *SQLite) GetByPairKey(ctx context.Context, testID uuid.UUID, pairKey string) (model.Clash, error) {
	row := s.db.QueryRowContext(ctx, selectClash+` WHERE test_id = ? AND pair_key = ?`, testID.String(), pairKey)
	return scanClash(row)
}

func (s *SQLite) UpsertByPairKey(ctx context.Context, testID uuid.UUID, pairKey string,
	create func() model.Clash, update func(*model.Clash)) (model.Clash, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Clash{}, false, fmt.Errorf("storage: begin upsert: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, selectClash+` WHERE test_id = ? AND pair_key = ?`, testID.String(), pairKey)
	existing, err := scanClash(row)
	created := false
	var c model.Clash
	switch {
	case err == nil:
		update(&existing)
		c = existing
	case errors.Is(err, ErrNotFound):
		c = create()
		created = true
	default:
		return model.Clash{}, false, err
	}

	if err := writeClash(ctx, tx, c, created); err != nil {
		return model.Clash{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.Clash{}, false, fmt.Errorf("storage: commit upsert: %w", err)
	}
	return c, created, nil
}

func (s *SQLite) Put(ctx context.Context, c model.Clash) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin put: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM clashes WHERE id = ?`, c.ID.String()).Scan(&exists); err != nil {
		return fmt.Errorf("storage: check clash: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	if err := writeClash(ctx, tx, c, false); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit put: %w", err)
	}
	return nil
}

func (s *SQLite) Query(ctx context.Context, f ClashFilter) ([]model.Clash, int, error) {
	// SQL narrows on the indexed columns; the shared filter finishes the
	// job so all backends agree on semantics.
	query := selectClash + ` WHERE 1=1`
	var args []any
	if f.TestID != nil {
		query += ` AND test_id = ?`
		args = append(args, f.TestID.String())
	}
	if f.AssignedTo != "" {
		query += ` AND assigned_to = ?`
		args = append(args, f.AssignedTo)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: query clashes: %w", err)
	}
	defer rows.Close()

	var matched []model.Clash
	for rows.Next() {
		c, err := scanClash(rows)
		if err != nil {
			return nil, 0, err
		}
		if f.Matches(c) {
			matched = append(matched, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: scan clashes: %w", err)
	}

	SortClashes(matched, f.SortBy)
	total := len(matched)
	return Page(matched, f.Limit, f.Offset), total, nil
}

func (s *SQLite) PairKeysForTest(ctx context.Context, testID uuid.UUID) (map[string]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pair_key, id FROM clashes WHERE test_id = ?`, testID.String())
	if err != nil {
		return nil, fmt.Errorf("storage: pair keys: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uuid.UUID)
	for rows.Next() {
		var key, id string
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("storage: scan pair key: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("storage: parse clash id: %w", err)
		}
		out[key] = parsed
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error { return s.db.Close() }

const selectClash = `SELECT id, test_id, pair_key, element_a, element_b,
	point_x, point_y, point_z, distance, volume, severity, status, group_id,
	assigned_to, comments, created_at, updated_at, resolved_at, resolved_by
FROM clashes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClash(row rowScanner) (model.Clash, error) {
	var (
		c                    model.Clash
		id, testID           string
		elementA, elementB   []byte
		comments             []byte
		groupID              sql.NullString
		createdAt, updatedAt int64
		resolvedAt           sql.NullInt64
	)
	err := row.Scan(&id, &testID, &c.PairKey, &elementA, &elementB,
		&c.Point.X, &c.Point.Y, &c.Point.Z, &c.Distance, &c.Volume,
		&c.Severity, &c.Status, &groupID, &c.AssignedTo, &comments,
		&createdAt, &updatedAt, &resolvedAt, &c.ResolvedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Clash{}, ErrNotFound
	}
	if err != nil {
		return model.Clash{}, fmt.Errorf("storage: scan clash: %w", err)
	}

	if c.ID, err = uuid.Parse(id); err != nil {
		return model.Clash{}, fmt.Errorf("storage: parse clash id: %w", err)
	}
	if c.TestID, err = uuid.Parse(testID); err != nil {
		return model.Clash{}, fmt.Errorf("storage: parse test id: %w", err)
	}
	if groupID.Valid {
		g, err := uuid.Parse(groupID.String)
		if err != nil {
			return model.Clash{}, fmt.Errorf("storage: parse group id: %w", err)
		}
		c.GroupID = &g
	}
	if err := json.Unmarshal(elementA, &c.ElementA); err != nil {
		return model.Clash{}, fmt.Errorf("storage: decode element a: %w", err)
	}
	if err := json.Unmarshal(elementB, &c.ElementB); err != nil {
		return model.Clash{}, fmt.Errorf("storage: decode element b: %w", err)
	}
	if err := json.Unmarshal(comments, &c.Comments); err != nil {
		return model.Clash{}, fmt.Errorf("storage: decode comments: %w", err)
	}
	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if resolvedAt.Valid {
		t := time.UnixMilli(resolvedAt.Int64).UTC()
		c.ResolvedAt = &t
	}
	return c, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeClash(ctx context.Context, tx execer, c model.Clash, insert bool) error {
	elementA, err := json.Marshal(c.ElementA)
	if err != nil {
		return fmt.Errorf("storage: encode element a: %w", err)
	}
	elementB, err := json.Marshal(c.ElementB)
	if err != nil {
		return fmt.Errorf("storage: encode element b: %w", err)
	}
	comments := []byte("[]")
	if len(c.Comments) > 0 {
		if comments, err = json.Marshal(c.Comments); err != nil {
			return fmt.Errorf("storage: encode comments: %w", err)
		}
	}
	var groupID any
	if c.GroupID != nil {
		groupID = c.GroupID.String()
	}
	var resolvedAt any
	if c.ResolvedAt != nil {
		resolvedAt = c.ResolvedAt.UnixMilli()
	}

	if insert {
		_, err = tx.ExecContext(ctx, `INSERT INTO clashes
			(id, test_id, pair_key, element_a, element_b, point_x, point_y, point_z,
			 distance, volume, severity, status, group_id, assigned_to, comments,
			 model_a, model_b, category_a, category_b, created_at, updated_at, resolved_at, resolved_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), c.TestID.String(), c.PairKey, elementA, elementB,
			c.Point.X, c.Point.Y, c.Point.Z, c.Distance, c.Volume,
			string(c.Severity), string(c.Status), groupID, c.AssignedTo, comments,
			c.ElementA.ModelID, c.ElementB.ModelID, c.ElementA.Category, c.ElementB.Category,
			c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(), resolvedAt, c.ResolvedBy)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE clashes SET
			element_a = ?, element_b = ?, point_x = ?, point_y = ?, point_z = ?,
			distance = ?, volume = ?, severity = ?, status = ?, group_id = ?,
			assigned_to = ?, comments = ?, model_a = ?, model_b = ?, category_a = ?,
			category_b = ?, updated_at = ?, resolved_at = ?, resolved_by = ?
			WHERE id = ?`,
			elementA, elementB, c.Point.X, c.Point.Y, c.Point.Z,
			c.Distance, c.Volume, string(c.Severity), string(c.Status), groupID,
			c.AssignedTo, comments, c.ElementA.ModelID, c.ElementB.ModelID,
			c.ElementA.Category, c.ElementB.Category,
			c.UpdatedAt.UnixMilli(), resolvedAt, c.ResolvedBy, c.ID.String())
	}
	if err != nil {
		return fmt.Errorf("storage: write clash: %w", err)
	}
	return nil
}
