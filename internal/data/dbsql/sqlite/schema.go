package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schema mirrors the postgres migrations of package dbschema. Amounts are
// integer paise and timestamps unix microseconds.
const schema = `
CREATE TABLE IF NOT EXISTS customers (
	id          TEXT    NOT NULL PRIMARY KEY,
	name        TEXT    NOT NULL CHECK (name <> ''),
	phone       TEXT    NOT NULL DEFAULT '',
	address     TEXT    NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bills (
	id            TEXT    NOT NULL PRIMARY KEY,
	customer_id   TEXT    NOT NULL REFERENCES customers(id),
	month         TEXT    NOT NULL,
	year          TEXT    NOT NULL,
	total_milk    REAL    NOT NULL CHECK (total_milk > 0),
	total_amount  INTEGER NOT NULL CHECK (total_amount > 0 AND total_amount <= 10000000000000),
	created_at    INTEGER NOT NULL,
	UNIQUE (customer_id, month, year)
);

CREATE TABLE IF NOT EXISTS payments (
	id          TEXT    NOT NULL PRIMARY KEY,
	bill_id     TEXT    NOT NULL REFERENCES bills(id),
	amount      INTEGER NOT NULL CHECK (amount > 0 AND amount <= 10000000000000),
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS payments_bill_id_idx ON payments (bill_id);
`

// Migrate creates the tables that do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
