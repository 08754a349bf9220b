package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fedra-bim/fedra/internal/model"
)

// Postgres is the shared-server ClashStore for deployments where several
// coordination processes or dashboards read the same clash set.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects a pool and pings it. Call RunMigrations before use.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// RunMigrations executes unapplied SQL migration files from the provided
// filesystem in order, tracking applied files in schema_migrations so each
// runs at most once. Forward-only.
func (p *Postgres) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("storage: create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := p.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("storage: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: read applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		p.logger.Info("running migration", "file", name)
		if _, err := p.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("storage: execute migration %s: %w", name, err)
		}
		if _, err := p.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("storage: record migration %s: %w", name, err)
		}
	}
	return nil
}

const pgSelectClash = `SELECT id, test_id, pair_key, element_a, element_b,
	point_x, point_y, point_z, distance, volume, severity, status, group_id,
	assigned_to, comments, created_at, updated_at, resolved_at, resolved_by
FROM clashes`

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (model.Clash, error) {
	return p.scanOne(p.pool.QueryRow(ctx, pgSelectClash+` WHERE id = $1`, id))
}

func (p *Postgres) GetByPairKey(ctx context.Context, testID uuid.UUID, pairKey string) (model.Clash, error) {
	return p.scanOne(p.pool.QueryRow(ctx, pgSelectClash+` WHERE test_id = $1 AND pair_key = $2`, testID, pairKey))
}

// UpsertByPairKey locks the pair row inside a transaction so concurrent test
// runs reporting the same pair serialize instead of losing updates.
func (p *Postgres) UpsertByPairKey(ctx context.Context, testID uuid.UUID, pairKey string,
	create func() model.Clash, update func(*model.Clash)) (model.Clash, bool, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Clash{}, false, fmt.Errorf("storage: begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := p.scanOne(tx.QueryRow(ctx,
		pgSelectClash+` WHERE test_id = $1 AND pair_key = $2 FOR UPDATE`, testID, pairKey))
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

	if err := p.write(ctx, tx, c, created); err != nil {
		return model.Clash{}, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Clash{}, false, fmt.Errorf("storage: commit upsert: %w", err)
	}
	return c, created, nil
}

func (p *Postgres) Put(ctx context.Context, c model.Clash) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("storage: begin put: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM clashes WHERE id = $1)`, c.ID).Scan(&exists); err != nil {
		return fmt.Errorf("storage: check clash: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	if err := p.write(ctx, tx, c, false); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit put: %w", err)
	}
	return nil
}

func (p *Postgres) Query(ctx context.Context, f ClashFilter) ([]model.Clash, int, error) {
	query := pgSelectClash + ` WHERE 1=1`
	var args []any
	arg := 1
	if f.TestID != nil {
		query += fmt.Sprintf(` AND test_id = $%d`, arg)
		args = append(args, *f.TestID)
		arg++
	}
	if f.AssignedTo != "" {
		query += fmt.Sprintf(` AND assigned_to = $%d`, arg)
		args = append(args, f.AssignedTo)
		arg++
	}
	if f.ModelID != "" {
		query += fmt.Sprintf(` AND (model_a = $%d OR model_b = $%d)`, arg, arg)
		args = append(args, f.ModelID)
		arg++
	}
	if f.Category != "" {
		query += fmt.Sprintf(` AND (category_a = $%d OR category_b = $%d)`, arg, arg)
		args = append(args, f.Category)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: query clashes: %w", err)
	}
	defer rows.Close()

	var matched []model.Clash
	for rows.Next() {
		c, err := p.scanOne(rows)
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

func (p *Postgres) PairKeysForTest(ctx context.Context, testID uuid.UUID) (map[string]uuid.UUID, error) {
	rows, err := p.pool.Query(ctx, `SELECT pair_key, id FROM clashes WHERE test_id = $1`, testID)
	if err != nil {
		return nil, fmt.Errorf("storage: pair keys: %w", err)
	}
	defer rows.Close()

	out := make(map[string]uuid.UUID)
	for rows.Next() {
		var key string
		var id uuid.UUID
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("storage: scan pair key: %w", err)
		}
		out[key] = id
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) scanOne(row pgx.Row) (model.Clash, error) {
	var (
		c                  model.Clash
		elementA, elementB []byte
		comments           []byte
		groupID            *uuid.UUID
		resolvedAt         *time.Time
	)
	err := row.Scan(&c.ID, &c.TestID, &c.PairKey, &elementA, &elementB,
		&c.Point.X, &c.Point.Y, &c.Point.Z, &c.Distance, &c.Volume,
		&c.Severity, &c.Status, &groupID, &c.AssignedTo, &comments,
		&c.CreatedAt, &c.UpdatedAt, &resolvedAt, &c.ResolvedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Clash{}, ErrNotFound
	}
	if err != nil {
		return model.Clash{}, fmt.Errorf("storage: scan clash: %w", err)
	}
	c.GroupID = groupID
	c.ResolvedAt = resolvedAt
	if err := json.Unmarshal(elementA, &c.ElementA); err != nil {
		return model.Clash{}, fmt.Errorf("storage: decode element a: %w", err)
	}
	if err := json.Unmarshal(elementB, &c.ElementB); err != nil {
		return model.Clash{}, fmt.Errorf("storage: decode element b: %w", err)
	}
	if err := json.Unmarshal(comments, &c.Comments); err != nil {
		return model.Clash{}, fmt.Errorf("storage: decode comments: %w", err)
	}
	return c, nil
}

func (p *Postgres) write(ctx context.Context, tx pgx.Tx, c model.Clash, insert bool) error {
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

	if insert {
		_, err = tx.Exec(ctx, `INSERT INTO clashes
			(id, test_id, pair_key, element_a, element_b, point_x, point_y, point_z,
			 distance, volume, severity, status, group_id, assigned_to, comments,
			 model_a, model_b, category_a, category_b, created_at, updated_at, resolved_at, resolved_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			        $16, $17, $18, $19, $20, $21, $22, $23)`,
			c.ID, c.TestID, c.PairKey, elementA, elementB,
			c.Point.X, c.Point.Y, c.Point.Z, c.Distance, c.Volume,
			string(c.Severity), string(c.Status), c.GroupID, c.AssignedTo, comments,
			c.ElementA.ModelID, c.ElementB.ModelID, c.ElementA.Category, c.ElementB.Category,
			c.CreatedAt, c.UpdatedAt, c.ResolvedAt, c.ResolvedBy)
	} else {
		_, err = tx.Exec(ctx, `UPDATE clashes SET
			element_a = $1, element_b = $2, point_x = $3, point_y = $4, point_z = $5,
			distance = $6, volume = $7, severity = $8, status = $9, group_id = $10,
			assigned_to = $11, comments = $12, model_a = $13, model_b = $14,
			category_a = $15, category_b = $16, updated_at = $17, resolved_at = $18,
			resolved_by = $19
			WHERE id = $20`,
			elementA, elementB, c.Point.X, c.Point.Y, c.Point.Z,
			c.Distance, c.Volume, string(c.Severity), string(c.Status), c.GroupID,
			c.AssignedTo, comments, c.ElementA.ModelID, c.ElementB.ModelID,
			c.ElementA.Category, c.ElementB.Category, c.UpdatedAt, c.ResolvedAt,
			c.ResolvedBy, c.ID)
	}
	if err != nil {
		return fmt.Errorf("storage: write clash: %w", err)
	}
	return nil
}
