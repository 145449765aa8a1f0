package repository

import (
	"context"
	"errors"
	"time"

	"github.com/rpattn/opscrm/internal/db"
	"github.com/rpattn/opscrm/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store on a pgx pool or an open transaction.
type PostgresStore struct {
	db dbtx
}

// NewPostgresStore wires a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) ImportRuns() ImportRunRepository {
	return &importRunRepository{db: s.db}
}

func (s *PostgresStore) ImportRows() ImportRowRepository {
	return &importRowRepository{db: s.db}
}

func (s *PostgresStore) Leads() LeadRepository {
	return &leadRepository{db: s.db}
}

func (s *PostgresStore) MergeLogs() MergeLogRepository {
	return &mergeLogRepository{db: s.db}
}

func (s *PostgresStore) Tasks() TaskRepository {
	return &taskRepository{db: s.db}
}

func (s *PostgresStore) Touchpoints() TouchpointRepository {
	return &touchpointRepository{db: s.db}
}

// WithTx opens a transaction, or a savepoint when the store is already transactional.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&PostgresStore{db: tx})
	})
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

func nullUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: *id, Valid: true}
}

func uuidPtr(value pgtype.UUID) *uuid.UUID {
	if !value.Valid {
		return nil
	}
	id := uuid.UUID(value.Bytes)
	return &id
}

func timePtr(value pgtype.Timestamptz) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}

func stringPtr(value pgtype.Text) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

func notFoundOr(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotFoundf(format, args...)
	}
	return err
}
