package deals

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/commission-engine/internal/commission"
)

// Repository reads deal terms and the broker roster from Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadTerms returns the current terms and ordered commission template for a deal.
func (r *Repository) LoadTerms(ctx context.Context, dealID int64) (commission.DealTerms, error) {
	var row dealRow
	err := r.pool.QueryRow(ctx, `SELECT id, status, fee::text, referral_fee_percent::text, house_cut_percent,
       number_of_payments, agci::text, origination_percent::text, site_percent::text, deal_percent::text
FROM deals WHERE id = $1`, dealID).Scan(
		&row.ID, &row.Status, &row.Fee, &row.ReferralFeePercent, &row.HouseCutPercent,
		&row.NumberOfPayments, &row.AGCI, &row.OriginationPercent, &row.SitePercent, &row.DealPercent,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return commission.DealTerms{}, fmt.Errorf("%w: %d", ErrDealNotFound, dealID)
		}
		return commission.DealTerms{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT broker_id, origination_percent::text, site_percent::text, deal_percent::text
FROM deal_commission_templates WHERE deal_id = $1 ORDER BY position, id`, dealID)
	if err != nil {
		return commission.DealTerms{}, err
	}
	defer rows.Close()
	var template []templateRow
	for rows.Next() {
		var t templateRow
		if err := rows.Scan(&t.BrokerID, &t.OriginationPercent, &t.SitePercent, &t.DealPercent); err != nil {
			return commission.DealTerms{}, err
		}
		template = append(template, t)
	}
	if err := rows.Err(); err != nil {
		return commission.DealTerms{}, err
	}
	return row.terms(template)
}

// ActiveBrokers returns the broker roster used to validate template rows.
func (r *Repository) ActiveBrokers(ctx context.Context) (commission.BrokerSet, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM brokers WHERE is_active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := commission.BrokerSet{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

// ListDealIDs returns deals eligible for a batch run. Lost deals are excluded
// unless includeLost is set.
func (r *Repository) ListDealIDs(ctx context.Context, includeLost bool) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM deals WHERE ($1 OR status <> $2) ORDER BY id`, includeLost, StatusLost)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
