// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
)

// Postgres is the production Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// querier is the query surface shared by the pool and a transaction, so the
// same scan helpers serve reads inside and outside WithinTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, log: slog.Default()}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// schemaStatements bootstraps the canvas tables. Statements are idempotent;
// EnsureSchema runs at startup before the first request.
//
// element_locks keys on element_id: the uniqueness constraint is what makes
// lock acquisition a single atomic compare-and-swap (see AcquireLock).
//
// canvas_changes.seq breaks created_at ties: every row of one bulk batch
// carries the same timestamp, and undo must consume them newest-written
// first.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          TEXT PRIMARY KEY,
		external_id TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL DEFAULT '',
		avatar      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id       TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		name     TEXT NOT NULL DEFAULT '',
		slug     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS canvases (
		id          TEXT PRIMARY KEY,
		project_id  TEXT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
		styles      JSONB NOT NULL DEFAULT '{}',
		breakpoints JSONB NOT NULL DEFAULT '{}',
		version     BIGINT NOT NULL DEFAULT 1,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS canvas_elements (
		id                TEXT PRIMARY KEY,
		canvas_id         TEXT NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
		type              TEXT NOT NULL,
		name              TEXT NOT NULL,
		props             JSONB NOT NULL DEFAULT '{}',
		styles            JSONB NOT NULL DEFAULT '{}',
		responsive_styles JSONB NOT NULL DEFAULT '{}',
		parent_id         TEXT,
		sort_order        INTEGER NOT NULL DEFAULT 0,
		locked            BOOLEAN NOT NULL DEFAULT FALSE,
		hidden            BOOLEAN NOT NULL DEFAULT FALSE,
		created_by        TEXT NOT NULL,
		updated_by        TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS canvas_elements_siblings
		ON canvas_elements (canvas_id, parent_id, sort_order)`,
	`CREATE TABLE IF NOT EXISTS element_locks (
		id         TEXT NOT NULL,
		element_id TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		user_name  TEXT NOT NULL,
		locked_at  TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS canvas_changes (
		id           TEXT PRIMARY KEY,
		seq          BIGSERIAL,
		canvas_id    TEXT NOT NULL REFERENCES canvases(id) ON DELETE CASCADE,
		user_id      TEXT NOT NULL,
		operation    TEXT NOT NULL,
		element_id   TEXT,
		before_state JSONB,
		after_state  JSONB,
		session_id   TEXT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS canvas_changes_history
		ON canvas_changes (canvas_id, created_at DESC, seq DESC)`,
}

// EnsureSchema creates the canvas tables when they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Users & projects
// =============================================================================

func (p *Postgres) GetUser(ctx context.Context, id string) (*datatypes.User, error) {
	return scanUser(p.pool.QueryRow(ctx,
		`SELECT id, external_id, name, avatar FROM users WHERE id = $1`, id))
}

func (p *Postgres) GetUserByExternalID(ctx context.Context, externalID string) (*datatypes.User, error) {
	return scanUser(p.pool.QueryRow(ctx,
		`SELECT id, external_id, name, avatar FROM users WHERE external_id = $1`, externalID))
}

func scanUser(row pgx.Row) (*datatypes.User, error) {
	var u datatypes.User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Name, &u.Avatar); err != nil {
		return nil, mapNoRows(err)
	}
	return &u, nil
}

func (p *Postgres) GetOwnedProject(ctx context.Context, projectID, ownerID string) (*datatypes.Project, error) {
	var pr datatypes.Project
	err := p.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, slug FROM projects WHERE id = $1 AND owner_id = $2`,
		projectID, ownerID,
	).Scan(&pr.ID, &pr.OwnerID, &pr.Name, &pr.Slug)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &pr, nil
}

// =============================================================================
// Canvas documents
// =============================================================================

const canvasColumns = `id, project_id, styles, breakpoints, version, created_at, updated_at`

func (p *Postgres) GetCanvasByProject(ctx context.Context, projectID string) (*datatypes.CanvasDocument, error) {
	return scanCanvas(p.pool.QueryRow(ctx,
		`SELECT `+canvasColumns+` FROM canvases WHERE project_id = $1`, projectID))
}

func (p *Postgres) CreateCanvas(ctx context.Context, projectID string) (*datatypes.CanvasDocument, error) {
	return scanCanvas(p.pool.QueryRow(ctx,
		`INSERT INTO canvases (id, project_id, styles, breakpoints)
		 VALUES ($1, $2, '{}', $3)
		 RETURNING `+canvasColumns,
		uuid.NewString(), projectID, datatypes.DefaultBreakpoints()))
}

func scanCanvas(row pgx.Row) (*datatypes.CanvasDocument, error) {
	var d datatypes.CanvasDocument
	err := row.Scan(&d.ID, &d.ProjectID, &d.Styles, &d.Breakpoints,
		&d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &d, nil
}

// =============================================================================
// Elements
// =============================================================================

const elementColumns = `id, canvas_id, type, name, props, styles, responsive_styles,
	parent_id, sort_order, locked, hidden, created_by, updated_by, created_at, updated_at`

func (p *Postgres) ListElements(ctx context.Context, canvasID string) ([]*datatypes.Element, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+elementColumns+` FROM canvas_elements
		 WHERE canvas_id = $1
		 ORDER BY parent_id NULLS FIRST, sort_order, created_at`, canvasID)
	if err != nil {
		return nil, err
	}
	return collectElements(rows)
}

func (p *Postgres) GetElement(ctx context.Context, canvasID, elementID string) (*datatypes.Element, error) {
	return getElement(ctx, p.pool, canvasID, elementID)
}

func getElement(ctx context.Context, q querier, canvasID, elementID string) (*datatypes.Element, error) {
	return scanElement(q.QueryRow(ctx,
		`SELECT `+elementColumns+` FROM canvas_elements
		 WHERE canvas_id = $1 AND id = $2`, canvasID, elementID))
}

func (p *Postgres) MissingElements(ctx context.Context, canvasID string, ids []string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id FROM canvas_elements WHERE canvas_id = $1 AND id = ANY($2)`,
		canvasID, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[string]bool, len(ids))
	var id string
	if _, err := pgx.ForEachRow(rows, []any{&id}, func() error {
		found[id] = true
		return nil
	}); err != nil {
		return nil, err
	}
	var missing []string
	for _, want := range ids {
		if !found[want] {
			missing = append(missing, want)
		}
	}
	return missing, nil
}

func collectElements(rows pgx.Rows) ([]*datatypes.Element, error) {
	defer rows.Close()
	var out []*datatypes.Element
	for rows.Next() {
		el, err := scanElementValues(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, el)
	}
	return out, rows.Err()
}

func scanElement(row pgx.Row) (*datatypes.Element, error) {
	el, err := scanElementValues(row)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return el, nil
}

func scanElementValues(row pgx.Row) (*datatypes.Element, error) {
	var el datatypes.Element
	err := row.Scan(&el.ID, &el.CanvasID, &el.Type, &el.Name, &el.Props, &el.Styles,
		&el.ResponsiveStyles, &el.ParentID, &el.Order, &el.Locked, &el.Hidden,
		&el.CreatedBy, &el.UpdatedBy, &el.CreatedAt, &el.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &el, nil
}

// =============================================================================
// Locks
// =============================================================================

const lockColumns = `id, element_id, user_id, user_name, locked_at, expires_at`

func (p *Postgres) GetLock(ctx context.Context, elementID string) (*datatypes.ElementLock, error) {
	var l datatypes.ElementLock
	err := p.pool.QueryRow(ctx,
		`SELECT `+lockColumns+` FROM element_locks WHERE element_id = $1`, elementID,
	).Scan(&l.ID, &l.ElementID, &l.UserID, &l.UserName, &l.LockedAt, &l.ExpiresAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &l, nil
}

// AcquireLock races the insert against the expiry of any existing row. The
// upsert only replaces a row whose expires_at has passed, so exactly one of
// N simultaneous acquirers observes an affected row.
func (p *Postgres) AcquireLock(ctx context.Context, lock *datatypes.ElementLock) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO element_locks (id, element_id, user_id, user_name, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (element_id) DO UPDATE
		 SET id = EXCLUDED.id,
		     user_id = EXCLUDED.user_id,
		     user_name = EXCLUDED.user_name,
		     locked_at = EXCLUDED.locked_at,
		     expires_at = EXCLUDED.expires_at
		 WHERE element_locks.expires_at < EXCLUDED.locked_at`,
		lock.ID, lock.ElementID, lock.UserID, lock.UserName, lock.LockedAt, lock.ExpiresAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeleteLock(ctx context.Context, elementID string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM element_locks WHERE element_id = $1`, elementID)
	return err
}

func (p *Postgres) SweepExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM element_locks WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Change log
// =============================================================================

func (p *Postgres) ListChanges(ctx context.Context, canvasID string, limit int) ([]*datatypes.CanvasChange, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT c.id, c.canvas_id, c.user_id, COALESCE(u.name, ''), c.operation,
		        c.element_id, c.before_state, c.after_state, c.session_id, c.created_at
		 FROM canvas_changes c
		 LEFT JOIN users u ON u.id = c.user_id
		 WHERE c.canvas_id = $1
		 ORDER BY c.created_at DESC, c.seq DESC
		 LIMIT $2`, canvasID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*datatypes.CanvasChange
	for rows.Next() {
		var ch datatypes.CanvasChange
		var before, after []byte
		err := rows.Scan(&ch.ID, &ch.CanvasID, &ch.UserID, &ch.UserName, &ch.Operation,
			&ch.ElementID, &before, &after, &ch.SessionID, &ch.Timestamp)
		if err != nil {
			return nil, err
		}
		ch.Before = json.RawMessage(before)
		ch.After = json.RawMessage(after)
		out = append(out, &ch)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestChange(ctx context.Context, canvasID, sessionID string) (*datatypes.CanvasChange, error) {
	query := `SELECT id, canvas_id, user_id, operation, element_id,
	                 before_state, after_state, session_id, created_at
	          FROM canvas_changes WHERE canvas_id = $1`
	args := []any{canvasID}
	if sessionID != "" {
		query += ` AND session_id = $2`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT 1`

	var ch datatypes.CanvasChange
	var before, after []byte
	err := p.pool.QueryRow(ctx, query, args...).Scan(
		&ch.ID, &ch.CanvasID, &ch.UserID, &ch.Operation, &ch.ElementID,
		&before, &after, &ch.SessionID, &ch.Timestamp)
	if err != nil {
		return nil, mapNoRows(err)
	}
	ch.Before = json.RawMessage(before)
	ch.After = json.RawMessage(after)
	return &ch, nil
}

// =============================================================================
// Transactions
// =============================================================================

// WithinTx runs fn inside a single Postgres transaction. Rollback on error,
// commit otherwise.
func (p *Postgres) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgTx adapts a pgx transaction to the store.Tx surface.
type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) GetElement(ctx context.Context, canvasID, elementID string) (*datatypes.Element, error) {
	return getElement(ctx, t.q, canvasID, elementID)
}

func (t *pgTx) ListChildren(ctx context.Context, canvasID, parentID string) ([]*datatypes.Element, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+elementColumns+` FROM canvas_elements
		 WHERE canvas_id = $1 AND parent_id = $2
		 ORDER BY sort_order, created_at`, canvasID, parentID)
	if err != nil {
		return nil, err
	}
	return collectElements(rows)
}

func (t *pgTx) MaxSiblingOrder(ctx context.Context, canvasID string, parentID *string) (int, bool, error) {
	var max *int
	err := t.q.QueryRow(ctx,
		`SELECT MAX(sort_order) FROM canvas_elements
		 WHERE canvas_id = $1 AND parent_id IS NOT DISTINCT FROM $2`,
		canvasID, parentID,
	).Scan(&max)
	if err != nil {
		return 0, false, err
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

func (t *pgTx) InsertElement(ctx context.Context, el *datatypes.Element) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO canvas_elements (`+elementColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		el.ID, el.CanvasID, el.Type, el.Name, el.Props, el.Styles, el.ResponsiveStyles,
		el.ParentID, el.Order, el.Locked, el.Hidden, el.CreatedBy, el.UpdatedBy,
		el.CreatedAt, el.UpdatedAt)
	return err
}

func (t *pgTx) UpdateElement(ctx context.Context, el *datatypes.Element) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE canvas_elements
		 SET type = $3, name = $4, props = $5, styles = $6, responsive_styles = $7,
		     parent_id = $8, sort_order = $9, locked = $10, hidden = $11,
		     updated_by = $12, updated_at = $13
		 WHERE canvas_id = $1 AND id = $2`,
		el.CanvasID, el.ID, el.Type, el.Name, el.Props, el.Styles, el.ResponsiveStyles,
		el.ParentID, el.Order, el.Locked, el.Hidden, el.UpdatedBy, el.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (t *pgTx) DeleteElements(ctx context.Context, canvasID string, ids []string) (int64, error) {
	tag, err := t.q.Exec(ctx,
		`DELETE FROM canvas_elements WHERE canvas_id = $1 AND id = ANY($2)`,
		canvasID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeleteLocksFor(ctx context.Context, elementIDs []string) error {
	_, err := t.q.Exec(ctx,
		`DELETE FROM element_locks WHERE element_id = ANY($1)`, elementIDs)
	return err
}

func (t *pgTx) InsertChange(ctx context.Context, ch *datatypes.CanvasChange) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO canvas_changes (id, canvas_id, user_id, operation, element_id,
		                             before_state, after_state, session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ch.ID, ch.CanvasID, ch.UserID, ch.Operation, ch.ElementID,
		[]byte(ch.Before), []byte(ch.After), ch.SessionID, ch.Timestamp)
	return err
}

func (t *pgTx) DeleteChange(ctx context.Context, changeID string) error {
	_, err := t.q.Exec(ctx,
		`DELETE FROM canvas_changes WHERE id = $1`, changeID)
	return err
}

func (t *pgTx) SetCanvasStyles(ctx context.Context, canvasID string, styles map[string]any) error {
	_, err := t.q.Exec(ctx,
		`UPDATE canvases SET styles = $2 WHERE id = $1`, canvasID, styles)
	return err
}

func (t *pgTx) BumpVersion(ctx context.Context, canvasID string) error {
	_, err := t.q.Exec(ctx,
		`UPDATE canvases SET version = version + 1, updated_at = now() WHERE id = $1`,
		canvasID)
	return err
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

var _ Store = (*Postgres)(nil)
