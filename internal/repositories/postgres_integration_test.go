//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/BradenHooton/riskauth/internal/database"
	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway PostgreSQL container and applies migrations
func setupPostgres(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("riskauth"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := database.NewDB(pool, nil)
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestPostgresHistoryRepository(t *testing.T) {
	db := setupPostgres(t)

	runHistoryStoreTests(t, func(t *testing.T) historyStore {
		_, err := db.Pool.Exec(context.Background(), "TRUNCATE login_attempts")
		require.NoError(t, err)
		return NewLoginHistoryRepository(db)
	})
}

func TestDecisionAuditRepository(t *testing.T) {
	ctx := context.Background()
	db := setupPostgres(t)
	repo := NewDecisionAuditRepository(db)

	result := &models.DecisionResult{
		Decision:          models.DecisionMFA,
		Reason:            "Moderate anomaly detected",
		Regime:            models.RegimeContextual,
		TotalRiskScore:    3.2,
		ContextualChanges: []string{models.ChangeNetworkAddress, models.ChangeDevice},
		GeoVelocity:       42,
		Breakdown:         models.ScoreBreakdown{AnomalyError: 0.2, RuleBasedRisk: 3, Total: 3.2},
	}

	created, err := repo.Create(ctx, models.NewRiskDecisionRecord("u1", "203.0.113.10", result))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, models.DecisionMFA, created.Decision)
	assert.Equal(t, []string{models.ChangeNetworkAddress, models.ChangeDevice}, created.ContextualChanges)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = repo.Create(ctx, models.NewRiskDecisionRecord("u1", "203.0.113.10", &models.DecisionResult{
		Decision: models.DecisionBlock,
		Reason:   "Impossible travel detected (geo-velocity too high)",
		Regime:   models.RegimeNone,
	}))
	require.NoError(t, err)

	byIdentity, err := repo.GetByIdentity(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, byIdentity, 2)

	blocks, err := repo.GetByDecision(ctx, models.DecisionBlock, 10, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, []string{}, blocks[0].ContextualChanges)

	deleted, err := repo.Cleanup(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}
