//go:build integration

package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/rpattn/opscrm/internal/db"
	"github.com/rpattn/opscrm/internal/domain"
	"github.com/rpattn/opscrm/internal/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "opscrm",
				"POSTGRES_PASSWORD": "opscrm",
				"POSTGRES_DB":       "opscrm",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	cfg := db.Config{
		Host:     host,
		Port:     portNum,
		User:     "opscrm",
		Password: "opscrm",
		DBName:   "opscrm",
		SSLMode:  "disable",
		MaxConns: 4,
	}
	require.NoError(t, db.RunMigrations(cfg, logger.Discard()))

	conn, err := db.NewConnection(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	return NewPostgresStore(conn.Pool)
}

func TestPostgresStoreImportLifecycle(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()
	workspaceID := uuid.New()
	key := "upload-1"

	run := domain.NewImportRun(workspaceID, uuid.New(), "leads.csv", &key, []string{"Company", "Email"},
		domain.ColumnMapping{"Company": "businessName", "Email": "email"}, 2)
	created, err := store.ImportRuns().Create(ctx, run)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunStatusMapping, created.Status)

	_, err = store.ImportRuns().Create(ctx, domain.NewImportRun(workspaceID, uuid.New(), "again.csv", &key, nil, nil, 0))
	assert.True(t, errors.Is(err, domain.ErrDuplicateIdempotencyKey))

	rows := []domain.ImportRow{
		domain.NewImportRow(run.ID, 1, map[string]string{"Company": "Acme"},
			domain.MappedRow{Fields: domain.KnownFields{BusinessName: "Acme", Email: "a@acme.com"}},
			domain.NormalizedKeys{Email: "a@acme.com", Domain: "acme.com", Name: "acme"}),
		domain.NewImportRow(run.ID, 2, map[string]string{"Company": "Beta"},
			domain.MappedRow{Fields: domain.KnownFields{BusinessName: "Beta"}},
			domain.NormalizedKeys{Name: "beta"}),
	}
	require.NoError(t, store.ImportRows().CreateBatch(ctx, rows))

	_, err = store.ImportRuns().MarkRunning(ctx, run.ID, time.Now())
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx Store) error {
		claimed, err := tx.ImportRows().ClaimPending(ctx, run.ID, 0, 10)
		if err != nil {
			return err
		}
		require.Len(t, claimed, 2)
		assert.Equal(t, "acme.com", claimed[0].Normalized.Domain)

		lead := domain.NewLeadFromMappedRow(workspaceID, &run.ID, claimed[0].Mapped, claimed[0].Normalized)
		if _, err := tx.Leads().Create(ctx, lead); err != nil {
			return err
		}
		next, err := claimed[0].Apply(domain.RowOutcome{Status: domain.ImportRowStatusCreated, CreatedLeadID: &lead.ID})
		if err != nil {
			return err
		}
		if err := tx.ImportRows().SaveOutcome(ctx, next, domain.ImportRowStatusPending); err != nil {
			return err
		}
		_, err = tx.ImportRuns().AddCounters(ctx, run.ID, domain.RunCounters{}.Record(domain.ImportRowStatusCreated))
		return err
	})
	require.NoError(t, err)

	counts, err := store.ImportRows().CountByStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.ImportRowStatusCreated])
	assert.Equal(t, 1, counts[domain.ImportRowStatusPending])

	pool, err := store.Leads().FindLookupPool(ctx, workspaceID, LeadLookup{Domains: []string{"acme.com"}})
	require.NoError(t, err)
	require.Len(t, pool, 1)
	assert.Equal(t, "Acme", pool[0].BusinessName)

	listed, total, err := store.ImportRows().ListByRun(ctx, run.ID, RowFilter{
		Statuses: []domain.ImportRowStatus{domain.ImportRowStatusPending},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 2, listed[0].RowNumber)

	remapped, err := store.ImportRuns().UpdateMapping(ctx, run.ID, domain.ColumnMapping{"Company": "businessName"})
	require.NoError(t, err)
	assert.Equal(t, domain.ImportRunStatusRunning, remapped.Status)
	assert.Zero(t, remapped.ProcessedRows)
	assert.Zero(t, remapped.CreatedCount)

	all, _, err := store.ImportRows().ListByRun(ctx, run.ID, RowFilter{})
	require.NoError(t, err)
	reset := make([]domain.ImportRow, len(all))
	for i, row := range all {
		reset[i] = row.Reset(row.Mapped, row.Normalized)
	}
	require.NoError(t, store.ImportRows().ResetAll(ctx, reset))
	counts, err = store.ImportRows().CountByStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.ImportRowStatusPending])
	cleared, err := store.ImportRows().GetByID(ctx, all[0].ID)
	require.NoError(t, err)
	assert.Nil(t, cleared.CreatedLeadID)

	_, err = store.ImportRuns().MarkCompleted(ctx, run.ID, time.Now())
	require.NoError(t, err)
	_, err = store.ImportRuns().UpdateMapping(ctx, run.ID, domain.ColumnMapping{})
	assert.Equal(t, domain.CodeStateConflict, domain.CodeOf(err))
}

func TestPostgresStoreSavepointRollsBackInnerWork(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()
	workspaceID := uuid.New()

	kept := domain.NewLeadFromMappedRow(workspaceID, nil, domain.MappedRow{Fields: domain.KnownFields{BusinessName: "Kept"}}, domain.NormalizedKeys{Name: "kept"})
	dropped := domain.NewLeadFromMappedRow(workspaceID, nil, domain.MappedRow{Fields: domain.KnownFields{BusinessName: "Dropped"}}, domain.NormalizedKeys{Name: "dropped"})

	err := store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.Leads().Create(ctx, kept); err != nil {
			return err
		}
		innerErr := tx.WithTx(ctx, func(inner Store) error {
			if _, err := inner.Leads().Create(ctx, dropped); err != nil {
				return err
			}
			return errors.New("row failed")
		})
		assert.Error(t, innerErr)
		return nil
	})
	require.NoError(t, err)

	_, err = store.Leads().GetByID(ctx, workspaceID, kept.ID)
	assert.NoError(t, err)
	_, err = store.Leads().GetByID(ctx, workspaceID, dropped.ID)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}
