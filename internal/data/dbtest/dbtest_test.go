package dbtest

import (
	"context"
	"testing"

	db "github.com/rschio/milkbill/internal/data/dbsql/pgx"
	"github.com/rschio/milkbill/internal/data/dbsql/sqlite"
)

func TestNewUnit(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := NewUnit(t, WithMigrations())
	t.Cleanup(teardown)
	log.Info("Hello")

	if err := db.StatusCheck(ctx, database); err != nil {
		t.Fatal(err)
	}
}

func TestNewSQLite(t *testing.T) {
	ctx := context.Background()
	log, database, teardown := NewSQLite(t)
	t.Cleanup(teardown)
	log.Info("Hello")

	if err := sqlite.StatusCheck(ctx, database); err != nil {
		t.Fatal(err)
	}

	var n int
	if err := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM bills`).Scan(&n); err != nil {
		t.Fatalf("bills table should exist: %v", err)
	}
}
