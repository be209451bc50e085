package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/swapmeet/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var verified int
	err := scanner.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &verified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Verified = verified != 0
	return &u, nil
}

const userCols = `id, email, full_name, password_hash, verified, created_at, updated_at`

// Create inserts an unverified user. It returns ErrDuplicate if the email is taken.
func (s *UserStore) Create(email, fullName, passwordHash string) (*model.User, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO users (id, email, full_name, password_hash, verified, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, email, fullName, passwordHash, now, now,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicate
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(id)
}

func (s *UserStore) GetByID(id string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByEmail(email string) (*model.User, error) {
	row := s.db.QueryRow(`SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// SetPassword replaces the password hash and drops every session of the
// user in one transaction, so a reset logs out all devices.
func (s *UserStore) SetPassword(id, passwordHash string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n == 0 {
		return ErrStale
	}

	if _, err := tx.Exec(`DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("delete sessions: %w", err)
	}
	return tx.Commit()
}

// Delete removes a user together with their listings, offers on those
// listings, their own offers and their secrets. Sessions go by cascade.
func (s *UserStore) Delete(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var email string
	err = tx.QueryRow(`SELECT email FROM users WHERE id = ?`, id).Scan(&email)
	if err == sql.ErrNoRows {
		return ErrStale
	}
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}

	if _, err := tx.Exec(
		`DELETE FROM offers WHERE buyer_id = ? OR product_id IN (SELECT id FROM products WHERE seller_id = ?)`,
		id, id,
	); err != nil {
		return fmt.Errorf("delete offers: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM products WHERE seller_id = ?`, id); err != nil {
		return fmt.Errorf("delete products: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM secrets WHERE identity = ?`, email); err != nil {
		return fmt.Errorf("delete secrets: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return tx.Commit()
}
