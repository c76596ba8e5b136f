package store

import (
	"context"
	"database/sql"

	"github.com/notezilla/apiserver/types"
)

// StatsRepository keeps per-endpoint call counters.
type StatsRepository struct {
	conn
}

func NewStatsRepository(db *sql.DB, driver string) *StatsRepository {
	return &StatsRepository{conn: newConn(db, driver)}
}

// Record counts one completed call to method and endpoint.
func (r *StatsRepository) Record(ctx context.Context, method, endpoint string) error {
	const query = `
		INSERT INTO api_stats (method, endpoint, call_count, last_called)
		VALUES (?, ?, 1, CURRENT_TIMESTAMP)
		ON CONFLICT (method, endpoint)
		DO UPDATE SET call_count = api_stats.call_count + 1, last_called = CURRENT_TIMESTAMP`
	_, err := r.db.ExecContext(ctx, r.rebind(query), method, endpoint)
	return err
}

// List returns all counters, most called first.
func (r *StatsRepository) List(ctx context.Context) ([]types.EndpointStat, error) {
	const query = `
		SELECT method, endpoint, call_count, last_called
		FROM api_stats
		ORDER BY call_count DESC, method, endpoint`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]types.EndpointStat, 0)
	for rows.Next() {
		var stat types.EndpointStat
		if err := rows.Scan(&stat.Method, &stat.Endpoint, &stat.Count, &stat.LastCalled); err != nil {
			return nil, err
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
