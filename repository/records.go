package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartossh/Settlementis/audit"
	"github.com/bartossh/Settlementis/payment"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// Put appends the audit record and its comprehensive data key in one transaction.
// There is no update nor delete of audit records.
func (db DataBase) Put(ctx context.Context, id string, r audit.Record) error {
	essential, err := json.Marshal(r.Essential)
	if err != nil {
		return errors.Join(ErrMarshalFailed, err)
	}
	tx, err := db.inner.BeginTx(ctx, nil)
	if err != nil {
		return errors.Join(ErrTrxBeginFailed, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO
			audit_records(
				id, batch_id, invoice_index, signature, submission_id, essential_data,
				essential_hash, memo, schema_version, comprehensive_data, created_at
			) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, r.BatchID, r.InvoiceIndex, r.Signature, r.SubmissionID, essential,
		r.EssentialHash.String(), r.Memo, r.SchemaVersion, r.ComprehensiveData, r.CreatedAt.UnixMicro())
	if err != nil {
		return insertErr(id, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO audit_record_keys(record_id, key) VALUES($1, $2)", id, r.ComprehensiveKey); err != nil {
		return insertErr(id, err)
	}
	if err := tx.Commit(); err != nil {
		return errors.Join(ErrCommitFailed, err)
	}
	return nil
}

func insertErr(id string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Join(audit.ErrRecordExists, fmt.Errorf("record %s", id))
	}
	return errors.Join(ErrInsertFailed, err)
}

const selectRecord = `SELECT
		r.id, r.batch_id, r.invoice_index, r.signature, r.submission_id, r.essential_data,
		r.essential_hash, r.memo, r.schema_version, r.comprehensive_data, r.created_at, k.key
	FROM audit_records r JOIN audit_record_keys k ON k.record_id = r.id`

// Get reads the audit record with its key.
func (db DataBase) Get(ctx context.Context, id string) (audit.Record, error) {
	row := db.inner.QueryRowContext(ctx, selectRecord+" WHERE r.id = $1", id)
	r, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Record{}, errors.Join(audit.ErrRecordNotFound, fmt.Errorf("record %s", id))
	}
	return r, err
}

// ReadBatchRecords reads audit records of the batch ordered by invoice index.
func (db DataBase) ReadBatchRecords(ctx context.Context, batchID string) ([]audit.Record, error) {
	rows, err := db.inner.QueryContext(ctx, selectRecord+" WHERE r.batch_id = $1 ORDER BY r.invoice_index", batchID)
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (audit.Record, error) {
	var r audit.Record
	var essential []byte
	var hash string
	var timestamp int64
	err := s.Scan(
		&r.ID, &r.BatchID, &r.InvoiceIndex, &r.Signature, &r.SubmissionID, &essential,
		&hash, &r.Memo, &r.SchemaVersion, &r.ComprehensiveData, &timestamp, &r.ComprehensiveKey)
	if errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	if err != nil {
		return r, errors.Join(ErrScanFailed, err)
	}
	if err := json.Unmarshal(essential, &r.Essential); err != nil {
		return r, errors.Join(ErrUnmarshalFailed, err)
	}
	if r.EssentialHash, err = payment.HashFromString(hash); err != nil {
		return r, errors.Join(ErrUnmarshalFailed, err)
	}
	r.CreatedAt = time.UnixMicro(timestamp).UTC()
	return r, nil
}
