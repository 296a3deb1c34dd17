package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BradenHooton/riskauth/internal/database"
	"github.com/BradenHooton/riskauth/internal/models"
	"github.com/google/uuid"
)

const defaultSQLiteDSN = "file:riskauth.db?_pragma=busy_timeout(5000)"

// SQLiteHistoryRepository keeps allowed login attempts in a local SQLite file,
// for single-node deployments without PostgreSQL. login_time is stored as
// Unix microseconds.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository opens the database at dsn
func NewSQLiteHistoryRepository(dsn string) (*SQLiteHistoryRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = defaultSQLiteDSN
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}

	return &SQLiteHistoryRepository{db: db}, nil
}

// Migrate applies the embedded sqlite migrations
func (r *SQLiteHistoryRepository) Migrate(ctx context.Context) error {
	return database.RunMigrations(ctx, r.db, database.DialectSQLite)
}

// HealthCheck pings the database
func (r *SQLiteHistoryRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite health check failed: %w", err)
	}
	return nil
}

// Close closes the database
func (r *SQLiteHistoryRepository) Close() error {
	return r.db.Close()
}

func scanSQLiteAttemptRow(row rowScanner) (*models.LoginAttempt, error) {
	var a models.LoginAttempt
	var loginTime int64

	err := row.Scan(
		&a.ID, &a.Identity, &a.NetworkAddress, &a.Latitude, &a.Longitude, &a.Timezone,
		&a.DeviceFingerprint, &a.TypingSpeed, &a.PointerSpeed, &a.GeoVelocity, &loginTime,
	)
	if err != nil {
		return nil, err
	}

	a.Timestamp = time.UnixMicro(loginTime).UTC()
	return &a, nil
}

// Latest returns the identity's most recent attempt; ties go to the last inserted row
func (r *SQLiteHistoryRepository) Latest(ctx context.Context, identity string) (*models.LoginAttempt, error) {
	query := `
		SELECT ` + loginAttemptColumns + `
		FROM login_attempts
		WHERE user_id = ?
		ORDER BY login_time DESC, rowid DESC
		LIMIT 1
	`

	attempt, err := scanSQLiteAttemptRow(r.db.QueryRowContext(ctx, query, identity))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load latest login attempt: %w", models.ErrStorage, err)
	}

	return attempt, nil
}

// Append inserts an allowed attempt, assigning an id if it has none
func (r *SQLiteHistoryRepository) Append(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.Timestamp = models.NormalizeTimestamp(attempt.Timestamp)

	query := `
		INSERT INTO login_attempts (` + loginAttemptColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
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
		attempt.Timestamp.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to record login attempt: %w", models.ErrStorage, err)
	}

	return nil
}

// DeleteExpired removes attempts older than before, except each identity's latest one
func (r *SQLiteHistoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM login_attempts
		WHERE login_time < ?
		  AND rowid <> (
			SELECT latest.rowid FROM login_attempts latest
			WHERE latest.user_id = login_attempts.user_id
			ORDER BY latest.login_time DESC, latest.rowid DESC
			LIMIT 1
		  )
	`

	result, err := r.db.ExecContext(ctx, query, before.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired login attempts: %w", err)
	}

	return result.RowsAffected()
}
