package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for account persistence operations.
type Repository interface {
	// GetByID retrieves an account by its unique identifier.
	// Returns ErrAccountNotFound if the account does not exist.
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByUsername retrieves an account by username.
	// Returns ErrAccountNotFound if no account has that username.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// List retrieves all accounts ordered by username.
	List(ctx context.Context) ([]Account, error)

	// ListByDevice retrieves all accounts bound to a specific device.
	ListByDevice(ctx context.Context, deviceID string) ([]Account, error)

	// Create inserts a new account.
	// Returns ErrAccountExists if the ID or username is already registered.
	Create(ctx context.Context, account *Account) error

	// Update modifies an existing account.
	// Returns ErrAccountNotFound if the account does not exist.
	Update(ctx context.Context, account *Account) error

	// Delete removes an account by ID.
	// Returns ErrAccountNotFound if the account does not exist.
	Delete(ctx context.Context, id string) error

	// IncrementUploads adds n to both upload counters.
	// Called by the controller after each confirmed upload.
	IncrementUploads(ctx context.Context, id string, n int) error

	// ResetDailyCounters zeroes uploads_today across all accounts.
	ResetDailyCounters(ctx context.Context) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves an account by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Account, error) {
	query := `
		SELECT id, username, display_name, device_id, active,
			uploads_today, uploads_total, notes, created_at, updated_at
		FROM accounts
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("querying account by id: %w", err)
	}
	return account, nil
}

// GetByUsername retrieves an account by username.
func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	query := `
		SELECT id, username, display_name, device_id, active,
			uploads_today, uploads_total, notes, created_at, updated_at
		FROM accounts
		WHERE username = ?`

	row := r.db.QueryRowContext(ctx, query, username)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("querying account by username: %w", err)
	}
	return account, nil
}

// List retrieves all accounts ordered by username.
func (r *SQLiteRepository) List(ctx context.Context) ([]Account, error) {
	query := `
		SELECT id, username, display_name, device_id, active,
			uploads_today, uploads_total, notes, created_at, updated_at
		FROM accounts
		ORDER BY username`

	return r.queryAccounts(ctx, query)
}

// ListByDevice retrieves all accounts bound to a specific device.
func (r *SQLiteRepository) ListByDevice(ctx context.Context, deviceID string) ([]Account, error) {
	query := `
		SELECT id, username, display_name, device_id, active,
			uploads_today, uploads_total, notes, created_at, updated_at
		FROM accounts
		WHERE device_id = ?
		ORDER BY username`

	return r.queryAccounts(ctx, query, deviceID)
}

// Create inserts a new account.
func (r *SQLiteRepository) Create(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = GenerateID()
	}
	if err := ValidateAccount(account); err != nil {
		return err
	}

	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	query := `
		INSERT INTO accounts (
			id, username, display_name, device_id, active,
			uploads_today, uploads_total, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.Username,
		nullableString(account.DisplayName),
		account.DeviceID,
		boolToInt(account.Active),
		account.UploadsToday,
		account.UploadsTotal,
		nullableString(account.Notes),
		account.CreatedAt.Format(time.RFC3339),
		account.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("inserting account: %w", err)
	}

	return nil
}

// Update modifies an existing account.
func (r *SQLiteRepository) Update(ctx context.Context, account *Account) error {
	if err := ValidateAccount(account); err != nil {
		return err
	}
	account.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE accounts SET
			username = ?, display_name = ?, device_id = ?, active = ?,
			uploads_today = ?, uploads_total = ?, notes = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		account.Username,
		nullableString(account.DisplayName),
		account.DeviceID,
		boolToInt(account.Active),
		account.UploadsToday,
		account.UploadsTotal,
		nullableString(account.Notes),
		account.UpdatedAt.Format(time.RFC3339),
		account.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrAccountExists
		}
		return fmt.Errorf("updating account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// Delete removes an account by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// IncrementUploads adds n to both upload counters.
func (r *SQLiteRepository) IncrementUploads(ctx context.Context, id string, n int) error {
	now := time.Now().UTC()
	query := `
		UPDATE accounts
		SET uploads_today = uploads_today + ?,
		    uploads_total = uploads_total + ?,
		    updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, n, n, now.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("incrementing uploads: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// ResetDailyCounters zeroes uploads_today across all accounts.
func (r *SQLiteRepository) ResetDailyCounters(ctx context.Context) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		"UPDATE accounts SET uploads_today = 0, updated_at = ? WHERE uploads_today > 0",
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("resetting daily counters: %w", err)
	}
	return nil
}

// queryAccounts executes a query and returns a slice of accounts.
func (r *SQLiteRepository) queryAccounts(ctx context.Context, query string, args ...any) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}

	return accounts, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount scans a row or rows result into an Account.
func scanAccount(scanner rowScanner) (*Account, error) {
	var a Account
	var displayName, notes sql.NullString
	var deviceID sql.NullString
	var active int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&a.ID,
		&a.Username,
		&displayName,
		&deviceID,
		&active,
		&a.UploadsToday,
		&a.UploadsTotal,
		&notes,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Active = active != 0

	// device_id goes NULL when the bound device is deleted; the account
	// then needs rebinding before it can run again.
	if deviceID.Valid {
		a.DeviceID = deviceID.String
	}

	if displayName.Valid {
		a.DisplayName = &displayName.String
	}
	if notes.Valid {
		a.Notes = &notes.String
	}

	var parseErr error
	a.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	a.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &a, nil
}

// nullableString returns a sql.NullString for optional string pointers.
func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
