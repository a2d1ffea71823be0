package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

const createHistoryKVSQL = `
CREATE TABLE IF NOT EXISTS historyKV (
	key TEXT PRIMARY KEY,
	value TEXT
)`

// CreateInMemoryDB creates an in-memory SQLite database with the historyKV table
func CreateInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createHistoryKVSQL); err != nil {
		db.Close()
		t.Fatalf("Failed to create historyKV table: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// SeedKV inserts raw key/value rows into historyKV
func SeedKV(t *testing.T, db *sql.DB, rows map[string]string) {
	t.Helper()
	for key, value := range rows {
		if _, err := db.Exec("INSERT OR REPLACE INTO historyKV (key, value) VALUES (?, ?)", key, value); err != nil {
			t.Fatalf("Failed to insert %s: %v", key, err)
		}
	}
}

// ReadKV returns the raw value stored under key and whether it exists
func ReadKV(t *testing.T, db *sql.DB, key string) (string, bool) {
	t.Helper()
	var value sql.NullString
	err := db.QueryRow("SELECT value FROM historyKV WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		t.Fatalf("Failed to read %s: %v", key, err)
	}
	return value.String, value.Valid
}
