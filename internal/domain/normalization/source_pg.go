package normalization

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PostgresSource reads open rows from the normalization_error table.
// *pgxpool.Pool satisfies queryable.
type PostgresSource struct {
	db queryable
}

func NewPostgresSource(db queryable) *PostgresSource {
	return &PostgresSource{db: db}
}

const errorCols = `id::text, COALESCE(organization_id, ''), COALESCE(resource_type, ''),
	COALESCE(code, ''), COALESCE(display, ''), COALESCE(system, ''), COALESCE(version, '')`

func (s *PostgresSource) Records(ctx context.Context) ([]ErrorRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+errorCols+` FROM normalization_error
		WHERE status = 'open' ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query normalization errors: %w", err)
	}
	defer rows.Close()

	var records []ErrorRecord
	for rows.Next() {
		var r ErrorRecord
		if err := rows.Scan(&r.ID, &r.Organization, &r.ResourceType,
			&r.Code, &r.Display, &r.System, &r.Version); err != nil {
			return nil, fmt.Errorf("scan normalization error: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate normalization errors: %w", err)
	}
	return records, nil
}

// Ack marks the records resolved so later runs skip them.
func (s *PostgresSource) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE normalization_error
		SET status = 'resolved', resolved_at = NOW()
		WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("resolve normalization errors: %w", err)
	}
	return nil
}
