package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artpar/deployer/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	// SQLite has a single writer; an in-memory database also exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Activation Operations
// =============================================================================

// activationRow represents an activation row in the database.
type activationRow struct {
	ID            string  `db:"id"`
	SourceURL     string  `db:"source_url"`
	ManifestPath  string  `db:"manifest_path"`
	APIHost       string  `db:"api_host"`
	SealedAuth    string  `db:"sealed_auth"`
	SealedEnv     string  `db:"sealed_env"`
	Status        string  `db:"status"`
	FailureReason string  `db:"failure_reason"`
	ErrorMessage  string  `db:"error_message"`
	ErrorDetail   string  `db:"error_detail"`
	CreatedAt     string  `db:"created_at"`
	UpdatedAt     string  `db:"updated_at"`
	StartedAt     *string `db:"started_at"`
	FinishedAt    *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateActivation(ctx context.Context, activation *domain.Activation) error {
	return createActivation(ctx, s.db, activation)
}

func (s *SQLiteStore) GetActivation(ctx context.Context, id string) (*domain.Activation, error) {
	return getActivation(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateActivation(ctx context.Context, activation *domain.Activation) error {
	return updateActivation(ctx, s.db, activation)
}

func (s *SQLiteStore) ListActivations(ctx context.Context, opts ListOptions) ([]domain.Activation, error) {
	return listActivations(ctx, s.db, opts)
}

func (s *SQLiteStore) ClaimPendingActivations(ctx context.Context, limit int) ([]domain.Activation, error) {
	var claimed []domain.Activation
	err := s.WithTx(ctx, func(tx Store) error {
		var err error
		claimed, err = tx.ClaimPendingActivations(ctx, limit)
		return err
	})
	return claimed, err
}

func (s *SQLiteStore) FailRunningActivations(ctx context.Context, message string) (int, error) {
	return failRunningActivations(ctx, s.db, message)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateActivation(ctx context.Context, activation *domain.Activation) error {
	return createActivation(ctx, s.tx, activation)
}

func (s *txSQLiteStore) GetActivation(ctx context.Context, id string) (*domain.Activation, error) {
	return getActivation(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateActivation(ctx context.Context, activation *domain.Activation) error {
	return updateActivation(ctx, s.tx, activation)
}

func (s *txSQLiteStore) ListActivations(ctx context.Context, opts ListOptions) ([]domain.Activation, error) {
	return listActivations(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ClaimPendingActivations(ctx context.Context, limit int) ([]domain.Activation, error) {
	return claimPendingActivations(ctx, s.tx, limit)
}

func (s *txSQLiteStore) FailRunningActivations(ctx context.Context, message string) (int, error) {
	return failRunningActivations(ctx, s.tx, message)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Ping(context.Context) error {
	return nil
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func activationParams(a *domain.Activation) map[string]any {
	return map[string]any{
		"id":             a.ID,
		"source_url":     a.SourceURL,
		"manifest_path":  a.ManifestSubPath,
		"api_host":       a.CredentialHost,
		"sealed_auth":    a.SealedAuth,
		"sealed_env":     a.SealedEnv,
		"status":         string(a.Status),
		"failure_reason": string(a.FailureReason),
		"error_message":  a.ErrorMessage,
		"error_detail":   a.ErrorDetail,
		"created_at":     a.CreatedAt.UTC().Format(timeLayout),
		"updated_at":     a.UpdatedAt.UTC().Format(timeLayout),
		"started_at":     formatOptionalTime(a.StartedAt),
		"finished_at":    formatOptionalTime(a.FinishedAt),
	}
}

func createActivation(ctx context.Context, exec executor, activation *domain.Activation) error {
	if activation.ID == "" {
		return NewStoreError("CreateActivation", "", "activation id is required", domain.ErrActivationIDRequired)
	}

	row := activationParams(activation)

	query := `
		INSERT INTO activations (
			id, source_url, manifest_path, api_host, sealed_auth, sealed_env,
			status, failure_reason, error_message, error_detail,
			created_at, updated_at, started_at, finished_at
		) VALUES (
			:id, :source_url, :manifest_path, :api_host, :sealed_auth, :sealed_env,
			:status, :failure_reason, :error_message, :error_detail,
			:created_at, :updated_at, :started_at, :finished_at
		)`

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: activations.id") {
			return NewStoreError("CreateActivation", activation.ID, "activation with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateActivation", activation.ID, err.Error(), err)
	}

	return nil
}

func getActivation(ctx context.Context, exec executor, id string) (*domain.Activation, error) {
	query := `SELECT * FROM activations WHERE id = ?`

	var row activationRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetActivation", id, "activation not found", ErrNotFound)
		}
		return nil, NewStoreError("GetActivation", id, err.Error(), err)
	}

	return rowToActivation(&row)
}

func updateActivation(ctx context.Context, exec executor, activation *domain.Activation) error {
	row := activationParams(activation)

	query := `
		UPDATE activations SET
			source_url = :source_url,
			manifest_path = :manifest_path,
			api_host = :api_host,
			sealed_auth = :sealed_auth,
			sealed_env = :sealed_env,
			status = :status,
			failure_reason = :failure_reason,
			error_message = :error_message,
			error_detail = :error_detail,
			updated_at = :updated_at,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateActivation", activation.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateActivation", activation.ID, "activation not found", ErrNotFound)
	}

	return nil
}

func listActivations(ctx context.Context, exec executor, opts ListOptions) ([]domain.Activation, error) {
	opts = opts.Normalize()

	query := `SELECT * FROM activations ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args := []any{opts.Limit, opts.Offset}
	if opts.Status != "" {
		query = `SELECT * FROM activations WHERE status = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
		args = append([]any{string(opts.Status)}, args...)
	}

	var rows []activationRow
	if err := exec.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, NewStoreError("ListActivations", "", err.Error(), err)
	}

	return rowsToActivations(rows)
}

// claimPendingActivations must run inside a transaction.
func claimPendingActivations(ctx context.Context, exec executor, limit int) ([]domain.Activation, error) {
	if limit <= 0 {
		limit = 1
	}

	query := `SELECT * FROM activations WHERE status = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`

	var rows []activationRow
	if err := exec.SelectContext(ctx, &rows, query, string(domain.ActivationPending), limit); err != nil {
		return nil, NewStoreError("ClaimPendingActivations", "", err.Error(), err)
	}

	activations, err := rowsToActivations(rows)
	if err != nil {
		return nil, err
	}

	for i := range activations {
		a := &activations[i]
		if err := a.Transition(domain.ActivationRunning); err != nil {
			return nil, NewStoreError("ClaimPendingActivations", a.ID, err.Error(), err)
		}
		if err := updateActivation(ctx, exec, a); err != nil {
			return nil, err
		}
	}

	return activations, nil
}

func failRunningActivations(ctx context.Context, exec executor, message string) (int, error) {
	now := time.Now().UTC().Format(timeLayout)
	query := `
		UPDATE activations SET
			status = ?,
			failure_reason = ?,
			error_message = ?,
			updated_at = ?,
			finished_at = ?
		WHERE status = ?`

	result, err := exec.ExecContext(ctx, query,
		string(domain.ActivationFailed), string(domain.ReasonCancelled), message, now, now,
		string(domain.ActivationRunning))
	if err != nil {
		return 0, NewStoreError("FailRunningActivations", "", err.Error(), err)
	}

	n, _ := result.RowsAffected()
	return int(n), nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

func rowsToActivations(rows []activationRow) ([]domain.Activation, error) {
	activations := make([]domain.Activation, 0, len(rows))
	for i := range rows {
		activation, err := rowToActivation(&rows[i])
		if err != nil {
			return nil, err
		}
		activations = append(activations, *activation)
	}
	return activations, nil
}

// rowToActivation converts a database row to a domain.Activation.
func rowToActivation(row *activationRow) (*domain.Activation, error) {
	createdAt, _ := time.Parse(timeLayout, row.CreatedAt)
	updatedAt, _ := time.Parse(timeLayout, row.UpdatedAt)

	status := domain.ActivationStatus(row.Status)
	switch status {
	case domain.ActivationPending, domain.ActivationRunning, domain.ActivationSucceeded, domain.ActivationFailed:
	default:
		return nil, NewStoreError("rowToActivation", row.ID, "unknown status "+row.Status, ErrInvalidData)
	}

	return &domain.Activation{
		ID:              row.ID,
		SourceURL:       row.SourceURL,
		ManifestSubPath: row.ManifestPath,
		CredentialHost:  row.APIHost,
		SealedAuth:      row.SealedAuth,
		SealedEnv:       row.SealedEnv,
		Status:          status,
		FailureReason:   domain.Reason(row.FailureReason),
		ErrorMessage:    row.ErrorMessage,
		ErrorDetail:     row.ErrorDetail,
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		StartedAt:       parseOptionalTime(row.StartedAt),
		FinishedAt:      parseOptionalTime(row.FinishedAt),
	}, nil
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func parseOptionalTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, *s)
	if err != nil {
		return nil
	}
	return &t
}
