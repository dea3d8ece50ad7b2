package calls

import (
	"context"
	"database/sql"
	"time"
)

// PostgresRepo stores call records in the call_records table.
// Schema lives in internal/database/migrations.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, c Call) error {
	const q = `
INSERT INTO call_records (call_id, widget_id, assistant_id, status, duration, error, started_at, ended_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	var endedAt sql.NullTime
	if c.EndedAt != nil {
		endedAt = sql.NullTime{Time: *c.EndedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, q,
		c.CallID,
		c.WidgetID,
		c.AssistantID,
		string(c.Status),
		c.DurationSeconds,
		c.Error,
		c.StartedAt,
		endedAt,
		c.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, from, to time.Time) ([]Call, error) {
	const q = `
SELECT call_id, widget_id, assistant_id, status, duration, error, started_at, ended_at, created_at
FROM call_records
WHERE created_at >= $1 AND created_at < $2
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		var (
			c       Call
			status  string
			endedAt sql.NullTime
		)
		if err := rows.Scan(
			&c.CallID,
			&c.WidgetID,
			&c.AssistantID,
			&status,
			&c.DurationSeconds,
			&c.Error,
			&c.StartedAt,
			&endedAt,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		c.Status = CallStatus(status)
		if endedAt.Valid {
			t := endedAt.Time
			c.EndedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
