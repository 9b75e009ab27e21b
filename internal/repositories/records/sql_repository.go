package records

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/servicetracker/internal/dbx"
	"github.com/dmitrijs2005/servicetracker/internal/records"
)

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLiteRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, dialect: dbx.SQLite}
}

func NewPostgresRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db, dialect: dbx.Postgres}
}

const insertRecord = `
INSERT INTO records (timestamp, student, service, duration, event, score, goal_id, device_id,
                     schema_version, reported, source, source_file, imported_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
ON CONFLICT (timestamp, student, service, device_id) DO NOTHING`

func (r *SQLRepository) Insert(ctx context.Context, rec records.Record, prov Provenance) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(insertRecord),
		rec.Timestamp, rec.Student, rec.Service,
		nullFloat(rec.Duration), nullString(rec.Event), nullFloat(rec.Score), nullString(rec.GoalID),
		rec.DeviceID, rec.SchemaVersion,
		nullString(prov.Source), nullString(prov.SourceFile), nullString(prov.ImportedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert record: %w", dbx.Unavailable(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert record rows affected: %w", dbx.Unavailable(err))
	}
	return n == 1, nil
}

const selectRecords = `
SELECT id, timestamp, student, service, duration, COALESCE(event, ''), score, COALESCE(goal_id, ''),
       device_id, schema_version, reported
FROM records
WHERE (? = '' OR student = ?) AND (? = 0 OR reported = 0)
ORDER BY timestamp ASC, id ASC`

func (r *SQLRepository) Select(ctx context.Context, student string, onlyUnreported bool) ([]records.Record, error) {
	flag := 0
	if onlyUnreported {
		flag = 1
	}
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(selectRecords), student, student, flag)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", dbx.Unavailable(err))
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		var (
			rec             records.Record
			duration, score sql.NullFloat64
			reported        int64
		)
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Student, &rec.Service, &duration,
			&rec.Event, &score, &rec.GoalID, &rec.DeviceID, &rec.SchemaVersion, &reported); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Duration = floatPtr(duration)
		rec.Score = floatPtr(score)
		rec.Reported = reported != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", dbx.Unavailable(err))
	}
	return out, nil
}

const markReported = `UPDATE records SET reported = 1 WHERE id = ? AND reported = 0`

func (r *SQLRepository) MarkReported(ctx context.Context, ids []int64) (int64, error) {
	q := r.dialect.Rebind(markReported)
	var total int64
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx, q, id)
		if err != nil {
			return 0, fmt.Errorf("mark reported %d: %w", id, dbx.Unavailable(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mark reported rows affected: %w", dbx.Unavailable(err))
		}
		total += n
	}
	return total, nil
}

func (r *SQLRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", dbx.Unavailable(err))
	}
	return n, nil
}

const summary = `
SELECT student, COUNT(*), COALESCE(SUM(duration), 0)
FROM records
GROUP BY student
ORDER BY student`

func (r *SQLRepository) Summary(ctx context.Context) ([]StudentSummary, error) {
	rows, err := r.db.QueryContext(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", dbx.Unavailable(err))
	}
	defer rows.Close()

	var out []StudentSummary
	for rows.Next() {
		var s StudentSummary
		if err := rows.Scan(&s.Student, &s.Count, &s.TotalDuration); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary: %w", dbx.Unavailable(err))
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
