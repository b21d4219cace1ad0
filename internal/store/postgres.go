package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/luminodash/collab/internal/domain"
)

// Open connects to Postgres through the pgx stdlib driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Postgres stores dashboards in a single table:
//
//	dashboards(id text pk, owner_id text, collaborators jsonb,
//	           is_public bool, layout_schema jsonb, version bigint)
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Load(ctx context.Context, id domain.RoomID) (*Dashboard, error) {
	var (
		d           Dashboard
		collabsJSON []byte
		layoutJSON  []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, collaborators, is_public, layout_schema, version
		FROM dashboards WHERE id = $1`, string(id),
	).Scan(&d.ID, &d.OwnerID, &collabsJSON, &d.IsPublic, &layoutJSON, &d.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dashboard %s: %w", id, err)
	}
	if err := json.Unmarshal(collabsJSON, &d.Collaborators); err != nil {
		return nil, fmt.Errorf("decode collaborators for %s: %w", id, err)
	}
	if err := json.Unmarshal(layoutJSON, &d.Layout); err != nil {
		return nil, fmt.Errorf("decode layout for %s: %w", id, err)
	}
	return &d, nil
}

func (p *Postgres) Save(ctx context.Context, id domain.RoomID, layout domain.LayoutSchema, expectedVersion *int64) (int64, error) {
	layoutJSON, err := json.Marshal(layout)
	if err != nil {
		return 0, fmt.Errorf("encode layout for %s: %w", id, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin save tx: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM dashboards WHERE id = $1 FOR UPDATE`, string(id),
	).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock dashboard %s: %w", id, err)
	}
	if expectedVersion != nil && *expectedVersion < current {
		return 0, &VersionConflictError{Current: current, Provided: *expectedVersion}
	}

	var next int64
	err = tx.QueryRowContext(ctx, `
		UPDATE dashboards
		SET layout_schema = $2, version = version + 1, updated_at = now()
		WHERE id = $1
		RETURNING version`, string(id), layoutJSON,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("save dashboard %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit save for %s: %w", id, err)
	}
	return next, nil
}
