package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/riskauth/internal/database"
	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

const riskDecisionColumns = `id, attempt_id, user_id, ip_address, decision, reason, regime,
	anomaly_error, rule_based_risk, total_risk_score, geo_velocity, contextual_changes, created_at`

// DecisionAuditRepository records every risk decision, whatever its outcome
type DecisionAuditRepository struct {
	pool *pgxpool.Pool
}

// NewDecisionAuditRepository creates a new DecisionAuditRepository
func NewDecisionAuditRepository(db *database.DB) *DecisionAuditRepository {
	return &DecisionAuditRepository{pool: db.Pool}
}

// scanRiskDecisionRow populates a RiskDecisionRecord from a database row
func scanRiskDecisionRow(row rowScanner) (*models.RiskDecisionRecord, error) {
	var rec models.RiskDecisionRecord
	var changes []string

	err := row.Scan(
		&rec.ID, &rec.AttemptID, &rec.Identity, &rec.NetworkAddress, &rec.Decision,
		&rec.Reason, &rec.Regime, &rec.AnomalyError, &rec.RuleBasedRisk,
		&rec.TotalRiskScore, &rec.GeoVelocity, &changes, &rec.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	rec.ContextualChanges = changes
	if rec.ContextualChanges == nil {
		rec.ContextualChanges = []string{}
	}

	return &rec, nil
}

// scanRiskDecisionRows iterates through rows and scans each into records
func scanRiskDecisionRows(rows pgx.Rows) ([]*models.RiskDecisionRecord, error) {
	defer rows.Close()

	records := make([]*models.RiskDecisionRecord, 0)

	for rows.Next() {
		rec, err := scanRiskDecisionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan risk decision: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating risk decision rows: %w", err)
	}

	return records, nil
}

// Create stores a decision record
func (r *DecisionAuditRepository) Create(ctx context.Context, rec *models.RiskDecisionRecord) (*models.RiskDecisionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.AttemptID == "" {
		rec.AttemptID = uuid.NewString()
	}

	changes := rec.ContextualChanges
	if changes == nil {
		changes = []string{}
	}

	query := `
		INSERT INTO risk_decisions (
			id, attempt_id, user_id, ip_address, decision, reason, regime,
			anomaly_error, rule_based_risk, total_risk_score, geo_velocity, contextual_changes
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + riskDecisionColumns

	result, err := scanRiskDecisionRow(r.pool.QueryRow(
		ctx, query,
		rec.ID, rec.AttemptID, rec.Identity, rec.NetworkAddress, string(rec.Decision),
		rec.Reason, string(rec.Regime), rec.AnomalyError, rec.RuleBasedRisk,
		rec.TotalRiskScore, rec.GeoVelocity, pq.Array(changes),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create risk decision: %w", err)
	}

	return result, nil
}

// GetByIdentity retrieves an identity's decisions, newest first
func (r *DecisionAuditRepository) GetByIdentity(ctx context.Context, identity string, limit int, offset int) ([]*models.RiskDecisionRecord, error) {
	query := `
		SELECT ` + riskDecisionColumns + `
		FROM risk_decisions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, identity, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk decisions: %w", err)
	}

	return scanRiskDecisionRows(rows)
}

// GetByDecision retrieves decisions with the given outcome, newest first
func (r *DecisionAuditRepository) GetByDecision(ctx context.Context, decision models.Decision, limit int, offset int) ([]*models.RiskDecisionRecord, error) {
	query := `
		SELECT ` + riskDecisionColumns + `
		FROM risk_decisions
		WHERE decision = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, string(decision), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk decisions: %w", err)
	}

	return scanRiskDecisionRows(rows)
}

// Cleanup removes decision records created before the cutoff
func (r *DecisionAuditRepository) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM risk_decisions WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup risk decisions: %w", err)
	}

	return result.RowsAffected(), nil
}
