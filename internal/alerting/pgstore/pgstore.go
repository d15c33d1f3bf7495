// Package pgstore provides a PostgreSQL implementation of alerting.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/watchpost/internal/alert"
)

var tracer = otel.Tracer("github.com/linnemanlabs/watchpost/internal/alerting/pgstore")

//go:embed schema.sql
var schema string

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Store persists alerts in PostgreSQL. The full alert is kept as a JSONB
// document next to the columns needed for lookups and the version check.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns
// the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op, alertID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
		attribute.String("alert.id", alertID),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Create inserts a at version 1.
func (s *Store) Create(ctx context.Context, a *alert.Alert) error {
	ctx, span := startSpan(ctx, "pgstore.Create", "INSERT", a.ID)
	defer span.End()

	a.Version = 1
	doc, err := json.Marshal(a)
	if err != nil {
		return fail(span, fmt.Errorf("marshal alert %s: %w", a.ID, err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	_, err = tx.Exec(ctx,
		`INSERT INTO alerts (id, reference, owner_station_id, category, severity, status, version, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Reference, string(a.OwnerStation), string(a.Category), string(a.Severity), string(a.Status),
		a.Version, doc, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fail(span, fmt.Errorf("alert %s already exists", a.ID))
		}
		return fail(span, fmt.Errorf("insert alert %s: %w", a.ID, err))
	}
	if err := insertRevision(ctx, tx, a); err != nil {
		return fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// Load retrieves an alert by ID. Returns (nil, false, nil) when absent.
func (s *Store) Load(ctx context.Context, id string) (*alert.Alert, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Load", "SELECT", id)
	defer span.End()

	var (
		doc     []byte
		version int64
	)
	err := s.pool.QueryRow(ctx, `SELECT doc, version FROM alerts WHERE id = $1`, id).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, fmt.Errorf("select alert %s: %w", id, err))
	}

	var a alert.Alert
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, false, fail(span, fmt.Errorf("unmarshal alert %s: %w", id, err))
	}
	a.Version = version
	return &a, true, nil
}

// Save replaces the stored alert if its version is still expectedVersion.
// On success a.Version is the new version.
func (s *Store) Save(ctx context.Context, a *alert.Alert, expectedVersion int64) error {
	ctx, span := startSpan(ctx, "pgstore.Save", "UPDATE", a.ID)
	defer span.End()
	span.SetAttributes(attribute.Int64("alert.expected_version", expectedVersion))

	next := a.Clone()
	next.Version = expectedVersion + 1
	doc, err := json.Marshal(next)
	if err != nil {
		return fail(span, fmt.Errorf("marshal alert %s: %w", a.ID, err))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE alerts
		 SET status = $3, severity = $4, version = $5, doc = $6, updated_at = $7
		 WHERE id = $1 AND version = $2`,
		a.ID, expectedVersion, string(next.Status), string(next.Severity), next.Version, doc, next.UpdatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("update alert %s: %w", a.ID, err))
	}
	if tag.RowsAffected() == 0 {
		return fail(span, s.missedUpdate(ctx, tx, a.ID, expectedVersion))
	}
	if err := insertRevision(ctx, tx, next); err != nil {
		return fail(span, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	a.Version = next.Version
	return nil
}

// missedUpdate explains why an update matched no row.
func (s *Store) missedUpdate(ctx context.Context, tx pgx.Tx, id string, expected int64) error {
	var actual int64
	err := tx.QueryRow(ctx, `SELECT version FROM alerts WHERE id = $1`, id).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.NotFound(id)
	}
	if err != nil {
		return fmt.Errorf("select version %s: %w", id, err)
	}
	return alert.VersionConflict(id, expected, actual)
}

func insertRevision(ctx context.Context, tx pgx.Tx, a *alert.Alert) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO alert_revisions (alert_id, version, status, saved_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.Version, string(a.Status), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert revision %s v%d: %w", a.ID, a.Version, err)
	}
	return nil
}
