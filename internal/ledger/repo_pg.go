package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres. Ordering comes from the seq column.
type PGRepo struct {
	DB *sql.DB
}

const selectEntryColumns = `
SELECT saved_as, hash, status, name, type, doc_date, notes, doctor, link, file_url, original_file_name, recorded_at
FROM ledger_entries`

// Init verifies the ledger table is reachable. Schema is owned by migrations.
func (r *PGRepo) Init(ctx context.Context) error {
	var one int
	err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM ledger_entries LIMIT 1`).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: probe ledger_entries: %w", ErrIO, err)
	}
	return nil
}

// Append inserts e as the next row.
func (r *PGRepo) Append(ctx context.Context, e Entry) error {
	if err := Validate(e); err != nil {
		return err
	}
	const query = `
INSERT INTO ledger_entries (
    saved_as,
    hash,
    status,
    name,
    type,
    doc_date,
    notes,
    doctor,
    link,
    file_url,
    original_file_name,
    recorded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	rec := ToRecord(e)
	_, err := r.DB.ExecContext(
		ctx,
		query,
		rec.SavedAs,
		rec.Hash,
		string(rec.Status),
		nullString(rec.Name),
		nullString(rec.Type),
		nullString(rec.Date),
		nullString(rec.Notes),
		nullString(rec.Doctor),
		nullString(rec.Link),
		nullString(rec.FileURL),
		nullString(rec.OriginalFileName),
		e.Base().Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: insert entry: %w", ErrIO, err)
	}
	return nil
}

// FindByName resolves name against saved_as, then original_file_name.
func (r *PGRepo) FindByName(ctx context.Context, name string) (Entry, error) {
	e, err := r.queryOne(ctx, selectEntryColumns+`
WHERE saved_as = $1
ORDER BY seq
LIMIT 1`, name)
	if !errors.Is(err, ErrNotFound) {
		return e, err
	}
	return r.queryOne(ctx, selectEntryColumns+`
WHERE original_file_name = $1 AND status = 'uploaded'
ORDER BY seq
LIMIT 1`, name)
}

// History returns the rows recorded for savedAs.
func (r *PGRepo) History(ctx context.Context, savedAs string) ([]Entry, error) {
	return r.queryAll(ctx, selectEntryColumns+`
WHERE saved_as = $1
ORDER BY seq`, savedAs)
}

// List returns every row in insertion order.
func (r *PGRepo) List(ctx context.Context) ([]Entry, error) {
	return r.queryAll(ctx, selectEntryColumns+`
ORDER BY seq`)
}

func (r *PGRepo) queryOne(ctx context.Context, query string, args ...any) (Entry, error) {
	entries, err := r.queryAll(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

func (r *PGRepo) queryAll(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query ledger: %w", ErrIO, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var status string
		var name, typ, date, notes, doctor, link, fileURL, originalName sql.NullString
		var recordedAt time.Time
		if err := rows.Scan(
			&rec.SavedAs,
			&rec.Hash,
			&status,
			&name,
			&typ,
			&date,
			&notes,
			&doctor,
			&link,
			&fileURL,
			&originalName,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan entry: %w", ErrIO, err)
		}
		rec.Status = Status(status)
		rec.Name = name.String
		rec.Type = typ.String
		rec.Date = date.String
		rec.Notes = notes.String
		rec.Doctor = doctor.String
		rec.Link = link.String
		rec.FileURL = fileURL.String
		rec.OriginalFileName = originalName.String
		rec.Timestamp = FormatTimestamp(recordedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate ledger: %w", ErrIO, err)
	}
	return decodeRecords(records, "postgres"), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Repo = (*PGRepo)(nil)
