package repository

import (
	"context"
	"errors"
	"fmt"
)

type migration struct {
	name  string
	query string
}

var migrations = []migration{
	{
		name: "create_table_audit_records",
		query: `CREATE TABLE IF NOT EXISTS audit_records (
			id                 TEXT PRIMARY KEY,
			batch_id           TEXT NOT NULL,
			invoice_index      INTEGER NOT NULL,
			signature          TEXT NOT NULL,
			submission_id      TEXT NOT NULL,
			essential_data     JSONB NOT NULL,
			essential_hash     CHAR(64) NOT NULL,
			memo               BYTEA NOT NULL,
			schema_version     INTEGER NOT NULL,
			comprehensive_data BYTEA NOT NULL,
			created_at         BIGINT NOT NULL
		)`,
	},
	{
		name:  "index_batch_id_audit_records",
		query: `CREATE INDEX IF NOT EXISTS audit_records_batch_id ON audit_records (batch_id, invoice_index)`,
	},
	{
		name: "create_table_audit_record_keys",
		query: `CREATE TABLE IF NOT EXISTS audit_record_keys (
			record_id TEXT PRIMARY KEY REFERENCES audit_records (id),
			key       BYTEA NOT NULL
		)`,
	},
	{
		name: "create_table_logs",
		query: `CREATE TABLE IF NOT EXISTS logs (
			id         SERIAL PRIMARY KEY,
			level      VARCHAR(10) NOT NULL,
			service    VARCHAR(64) NOT NULL,
			msg        TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
	},
}

// RunMigration creates tables and indexes that do not exist yet in a single transaction.
func (db DataBase) RunMigration(ctx context.Context) error {
	tx, err := db.inner.BeginTx(ctx, nil)
	if err != nil {
		return errors.Join(ErrTrxBeginFailed, err)
	}
	defer tx.Rollback()
	for _, m := range migrations {
		if _, err := tx.ExecContext(ctx, m.query); err != nil {
			return errors.Join(ErrMigrationFailed, fmt.Errorf("migration %s", m.name), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Join(ErrCommitFailed, err)
	}
	return nil
}
