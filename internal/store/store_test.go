package store

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/swapmeet/internal/database"
	"github.com/dukerupert/swapmeet/internal/model"
)

// setupTestDB opens a migrated database in a temp file. A file is used
// rather than :memory: so that every pooled connection sees the same data.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB, email string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(email, "Test User", "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func createTestProduct(t *testing.T, db *sql.DB, sellerID string) *model.Product {
	t.Helper()
	p, err := NewProductStore(db).Create(sellerID, "Bike", "Red road bike", decimal.RequireFromString("250.00"))
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}
