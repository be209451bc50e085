package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/swapmeet/internal/model"
)

// SecretStore persists one-time secrets (email OTPs, password reset tokens).
// Every state change is a conditional write so concurrent verifications of
// the same record cannot both succeed.
type SecretStore struct {
	db *sql.DB
}

func NewSecretStore(db *sql.DB) *SecretStore {
	return &SecretStore{db: db}
}

func scanSecret(scanner interface{ Scan(...any) error }) (*model.Secret, error) {
	var sec model.Secret
	var purpose string
	var userID, debugCode sql.NullString
	var consumedAt sql.NullTime
	var used int

	err := scanner.Scan(
		&sec.ID, &sec.Selector, &sec.Identity, &purpose, &userID, &sec.SecretHash, &debugCode,
		&sec.CreatedAt, &sec.ExpiresAt, &used, &consumedAt, &sec.Attempts, &sec.MaxAttempts,
	)
	if err != nil {
		return nil, err
	}

	sec.Purpose = model.Purpose(purpose)
	sec.Used = used != 0
	if userID.Valid {
		sec.UserID = &userID.String
	}
	if debugCode.Valid {
		sec.DebugCode = &debugCode.String
	}
	if consumedAt.Valid {
		sec.ConsumedAt = &consumedAt.Time
	}
	return &sec, nil
}

const secretCols = `id, selector, identity, purpose, user_id, secret_hash, debug_code, created_at, expires_at, used, consumed_at, attempts, max_attempts`

// Issue stores sec as the only live secret for its identity and purpose.
// Inside one transaction it checks that the newest existing record was
// created no later than notBefore (otherwise ErrTooSoon plus that record's
// creation time), marks every unused record for the pair as used, and
// inserts sec.
func (s *SecretStore) Issue(sec *model.Secret, notBefore time.Time) (time.Time, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return time.Time{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var last time.Time
	err = tx.QueryRow(
		`SELECT created_at FROM secrets WHERE identity = ? AND purpose = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		sec.Identity, string(sec.Purpose),
	).Scan(&last)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return time.Time{}, fmt.Errorf("read last secret: %w", err)
	case last.After(notBefore):
		return last, ErrTooSoon
	}

	if _, err := tx.Exec(
		`UPDATE secrets SET used = 1 WHERE identity = ? AND purpose = ? AND used = 0`,
		sec.Identity, string(sec.Purpose),
	); err != nil {
		return time.Time{}, fmt.Errorf("invalidate previous secrets: %w", err)
	}

	var userID, debugCode sql.NullString
	if sec.UserID != nil {
		userID = sql.NullString{String: *sec.UserID, Valid: true}
	}
	if sec.DebugCode != nil {
		debugCode = sql.NullString{String: *sec.DebugCode, Valid: true}
	}

	_, err = tx.Exec(
		`INSERT INTO secrets (id, selector, identity, purpose, user_id, secret_hash, debug_code, created_at, expires_at, used, attempts, max_attempts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		sec.ID, sec.Selector, sec.Identity, string(sec.Purpose), userID, sec.SecretHash, debugCode,
		sec.CreatedAt.UTC(), sec.ExpiresAt.UTC(), sec.MaxAttempts,
	)
	if isUniqueViolation(err) {
		return time.Time{}, ErrDuplicate
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("insert secret: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, fmt.Errorf("commit issue: %w", err)
	}
	return time.Time{}, nil
}

func (s *SecretStore) GetByID(id string) (*model.Secret, error) {
	return s.getOne(`SELECT `+secretCols+` FROM secrets WHERE id = ?`, id)
}

func (s *SecretStore) GetBySelector(selector string) (*model.Secret, error) {
	return s.getOne(`SELECT `+secretCols+` FROM secrets WHERE selector = ?`, selector)
}

// GetLatestActive returns the newest unused, unexpired secret for the pair.
func (s *SecretStore) GetLatestActive(identity string, purpose model.Purpose, now time.Time) (*model.Secret, error) {
	return s.getOne(
		`SELECT `+secretCols+` FROM secrets WHERE identity = ? AND purpose = ? AND used = 0 AND expires_at > ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		identity, string(purpose), now.UTC(),
	)
}

// GetLatest returns the newest secret for the pair regardless of state.
func (s *SecretStore) GetLatest(identity string, purpose model.Purpose) (*model.Secret, error) {
	return s.getOne(
		`SELECT `+secretCols+` FROM secrets WHERE identity = ? AND purpose = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		identity, string(purpose),
	)
}

func (s *SecretStore) getOne(query string, args ...any) (*model.Secret, error) {
	sec, err := scanSecret(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return sec, nil
}

// IncrementAttempts records one failed verification. It reports false when
// the record was already used or its attempts were exhausted, in which case
// nothing was written.
func (s *SecretStore) IncrementAttempts(id string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE secrets SET attempts = attempts + 1 WHERE id = ? AND used = 0 AND attempts < max_attempts`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("increment attempts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Consume marks the secret used. Only one caller can win: the update is
// conditional on used = 0 and remaining attempts, and false is returned to
// every loser. When activateUserID is non-empty the user's verified flag is
// set in the same transaction.
func (s *SecretStore) Consume(id string, at time.Time, activateUserID string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE secrets SET used = 1, consumed_at = ? WHERE id = ? AND used = 0 AND attempts < max_attempts`,
		at.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("consume secret: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if activateUserID != "" {
		if _, err := tx.Exec(
			`UPDATE users SET verified = 1, updated_at = ? WHERE id = ?`,
			at.UTC(), activateUserID,
		); err != nil {
			return false, fmt.Errorf("mark user verified: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit consume: %w", err)
	}
	return true, nil
}

// DeleteExpired removes secrets whose expiry is before now. Unexpired rows
// are never touched, so it is safe to run alongside Issue and Consume.
func (s *SecretStore) DeleteExpired(now time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM secrets WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired secrets: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
