package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/riskauth/internal/database"
	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LoginHistoryStore is the narrow history contract the evaluation engine depends on
type LoginHistoryStore interface {
	// Latest returns the most recent allowed attempt for identity, or nil when none exists
	Latest(ctx context.Context, identity string) (*models.LoginAttempt, error)
	// Append records an allowed attempt
	Append(ctx context.Context, attempt *models.LoginAttempt) error
}

// RetentionStore prunes old history while keeping each identity's latest attempt
type RetentionStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const loginAttemptColumns = `id, user_id, ip_address, latitude, longitude, timezone,
	device_info, typing_speed, mouse_speed, geo_velocity, login_time`

// LoginHistoryRepository keeps allowed login attempts in PostgreSQL
type LoginHistoryRepository struct {
	db *database.DB
}

// NewLoginHistoryRepository creates a new LoginHistoryRepository
func NewLoginHistoryRepository(db *database.DB) *LoginHistoryRepository {
	return &LoginHistoryRepository{db: db}
}

// scanLoginAttemptRow populates a LoginAttempt from a database row
func scanLoginAttemptRow(row rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt

	err := row.Scan(
		&a.ID, &a.Identity, &a.NetworkAddress, &a.Latitude, &a.Longitude, &a.Timezone,
		&a.DeviceFingerprint, &a.TypingSpeed, &a.PointerSpeed, &a.GeoVelocity, &a.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	a.Timestamp = a.Timestamp.UTC()
	return &a, nil
}

// Latest returns the identity's most recent attempt. Ties on login_time are
// broken by insertion order.
func (r *LoginHistoryRepository) Latest(ctx context.Context, identity string) (*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + `
		FROM login_attempts
		WHERE user_id = $1
		ORDER BY login_time DESC, seq DESC
		LIMIT 1
	`

	attempt, err := scanLoginAttemptRow(r.db.Pool.QueryRow(ctx, query, identity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load latest login attempt: %w", models.ErrStorage, database.MapPostgresError(err))
	}

	return attempt, nil
}

// Append inserts an allowed attempt, assigning an id if it has none
func (r *LoginHistoryRepository) Append(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.Timestamp = models.NormalizeTimestamp(attempt.Timestamp)

	query := `
		INSERT INTO login_attempts (` + loginAttemptColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.Identity,
		attempt.NetworkAddress,
		attempt.Latitude,
		attempt.Longitude,
		attempt.Timezone,
		attempt.DeviceFingerprint,
		attempt.TypingSpeed,
		attempt.PointerSpeed,
		attempt.GeoVelocity,
		attempt.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to record login attempt: %w", models.ErrStorage, database.MapPostgresError(err))
	}

	return nil
}

// DeleteExpired removes attempts older than before, except each identity's latest one
func (r *LoginHistoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM login_attempts la
		WHERE la.login_time < $1
		  AND la.id <> (
			SELECT latest.id FROM login_attempts latest
			WHERE latest.user_id = la.user_id
			ORDER BY latest.login_time DESC, latest.seq DESC
			LIMIT 1
		  )
	`

	result, err := r.db.Pool.Exec(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired login attempts: %w", err)
	}

	return result.RowsAffected(), nil
}
