package reconcile

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/platform/db"
)

// ExternalRepository reads broker totals mirrored from the external system of
// record.
type ExternalRepository struct {
	pool   *pgxpool.Pool
	source string
}

// NewExternalRepository builds a repository scoped to one external source.
func NewExternalRepository(pool *pgxpool.Pool, source string) *ExternalRepository {
	return &ExternalRepository{pool: pool, source: source}
}

// SplitTotals returns external broker totals for a deal keyed by split id.
func (r *ExternalRepository) SplitTotals(ctx context.Context, dealID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT split_id, broker_total::text
FROM external_split_records
WHERE deal_id = $1 AND source = $2`, dealID, r.source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out map[int64]decimal.Decimal
	for rows.Next() {
		var (
			splitID int64
			total   string
		)
		if err := rows.Scan(&splitID, &total); err != nil {
			return nil, err
		}
		v, err := db.ParseNumeric(total)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[int64]decimal.Decimal)
		}
		out[splitID] = v
	}
	return out, rows.Err()
}
