package store

import (
	"database/sql"
	"testing"

	"github.com/dukerupert/vitisco/internal/database"
	"github.com/dukerupert/vitisco/internal/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *sql.DB, name, email string) *model.User {
	t.Helper()
	u, err := NewUserStore(db).Create(name, email, "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func setTestPoints(t *testing.T, db *sql.DB, userID int64, points int) {
	t.Helper()
	if _, err := db.Exec(`UPDATE users SET points = ? WHERE id = ?`, points, userID); err != nil {
		t.Fatalf("set points: %v", err)
	}
}

func setTestMembership(t *testing.T, db *sql.DB, userID, membershipID int64) {
	t.Helper()
	if _, err := db.Exec(`UPDATE users SET membership_id = ? WHERE id = ?`, membershipID, userID); err != nil {
		t.Fatalf("set membership: %v", err)
	}
}
