package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/platform/db"
)

const paymentColumns = `id, deal_id, sequence_number, amount_override, payment_amount::text,
       referral_fee_percent_override::text, referral_fee_usd::text, gci::text, agci::text,
       payment_received, payment_received_at, referral_paid, referral_paid_at,
       is_active, deleted_at, invoice_ref, created_at, updated_at`

const splitColumns = `id, payment_id, broker_id, origination_percent::text, site_percent::text, deal_percent::text,
       origination_usd::text, site_usd::text, deal_usd::text, broker_total::text,
       paid, paid_at, external_ref, created_at, updated_at`

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the Postgres repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{q: tx})
	})
}

func (r *pgRepository) ListPayments(ctx context.Context, dealID int64, includeArchived bool) ([]Payment, error) {
	return queryPayments(ctx, r.pool, `SELECT `+paymentColumns+` FROM payments
WHERE deal_id = $1 AND ($2 OR is_active) ORDER BY sequence_number`, dealID, includeArchived)
}

func (r *pgRepository) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return getPayment(ctx, r.pool, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *pgRepository) ListSplits(ctx context.Context, paymentIDs ...int64) ([]PaymentSplit, error) {
	if len(paymentIDs) == 0 {
		return nil, nil
	}
	return querySplits(ctx, r.pool, `SELECT `+splitColumns+` FROM payment_splits
WHERE payment_id = ANY($1) ORDER BY payment_id, id`, paymentIDs)
}

type pgTxRepository struct {
	q db.Querier
}

func (t *pgTxRepository) CountPayments(ctx context.Context, dealID int64) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM payments WHERE deal_id = $1`, dealID).Scan(&n)
	return n, err
}

func (t *pgTxRepository) NextSequence(ctx context.Context, dealID int64) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM payments WHERE deal_id = $1`, dealID).Scan(&n)
	return n, err
}

func (t *pgTxRepository) ListActivePayments(ctx context.Context, dealID int64) ([]Payment, error) {
	return queryPayments(ctx, t.q, `SELECT `+paymentColumns+` FROM payments
WHERE deal_id = $1 AND is_active ORDER BY sequence_number FOR UPDATE`, dealID)
}

func (t *pgTxRepository) GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error) {
	return getPayment(ctx, t.q, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTxRepository) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO payments (deal_id, sequence_number, amount_override, payment_amount,
    referral_fee_percent_override, referral_fee_usd, gci, agci, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $9)
RETURNING `+paymentColumns,
		p.DealID, p.SequenceNumber, p.AmountOverride, db.NumericArg(p.PaymentAmount),
		db.NullableNumericArg(p.ReferralFeePercentOverride), db.NumericArg(p.ReferralFeeUSD),
		db.NumericArg(p.GCI), db.NumericArg(p.AGCI), p.CreatedAt)
	inserted, err := scanPayment(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Payment{}, fmt.Errorf("%w: deal %d sequence %d", ErrDuplicateSequence, p.DealID, p.SequenceNumber)
		}
		return Payment{}, err
	}
	return inserted, nil
}

func (t *pgTxRepository) UpdatePaymentAmounts(ctx context.Context, p Payment) error {
	tag, err := t.q.Exec(ctx, `UPDATE payments SET amount_override = $2, payment_amount = $3,
    referral_fee_percent_override = $4, referral_fee_usd = $5, gci = $6, agci = $7, updated_at = $8
WHERE id = $1`,
		p.ID, p.AmountOverride, db.NumericArg(p.PaymentAmount), db.NullableNumericArg(p.ReferralFeePercentOverride),
		db.NumericArg(p.ReferralFeeUSD), db.NumericArg(p.GCI), db.NumericArg(p.AGCI), p.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (t *pgTxRepository) SetPaymentReceived(ctx context.Context, id int64, received bool, at *time.Time) error {
	return t.execOne(ctx, ErrPaymentNotFound, `UPDATE payments SET payment_received = $2, payment_received_at = $3, updated_at = NOW() WHERE id = $1`, id, received, at)
}

func (t *pgTxRepository) SetReferralPaid(ctx context.Context, id int64, paid bool, at *time.Time) error {
	return t.execOne(ctx, ErrPaymentNotFound, `UPDATE payments SET referral_paid = $2, referral_paid_at = $3, updated_at = NOW() WHERE id = $1`, id, paid, at)
}

func (t *pgTxRepository) ArchivePayments(ctx context.Context, dealID int64, at time.Time) (int, error) {
	tag, err := t.q.Exec(ctx, `UPDATE payments SET is_active = FALSE, deleted_at = $2, updated_at = $2
WHERE deal_id = $1 AND is_active`, dealID, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTxRepository) DeletePayment(ctx context.Context, id int64) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM payment_splits WHERE payment_id = $1`, id); err != nil {
		return err
	}
	return t.execOne(ctx, ErrPaymentNotFound, `DELETE FROM payments WHERE id = $1`, id)
}

func (t *pgTxRepository) ListSplits(ctx context.Context, paymentID int64) ([]PaymentSplit, error) {
	return querySplits(ctx, t.q, `SELECT `+splitColumns+` FROM payment_splits WHERE payment_id = $1 ORDER BY id FOR UPDATE`, paymentID)
}

func (t *pgTxRepository) GetSplitForUpdate(ctx context.Context, id int64) (PaymentSplit, error) {
	rows, err := querySplits(ctx, t.q, `SELECT `+splitColumns+` FROM payment_splits WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return PaymentSplit{}, err
	}
	if len(rows) == 0 {
		return PaymentSplit{}, ErrSplitNotFound
	}
	return rows[0], nil
}

func (t *pgTxRepository) InsertSplit(ctx context.Context, s PaymentSplit) (PaymentSplit, error) {
	rows, err := querySplits(ctx, t.q, `INSERT INTO payment_splits (payment_id, broker_id, origination_percent, site_percent,
    deal_percent, origination_usd, site_usd, deal_usd, broker_total, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
RETURNING `+splitColumns,
		s.PaymentID, s.BrokerID, db.NumericArg(s.OriginationPercent), db.NumericArg(s.SitePercent),
		db.NumericArg(s.DealPercent), db.NumericArg(s.OriginationUSD), db.NumericArg(s.SiteUSD),
		db.NumericArg(s.DealUSD), db.NumericArg(s.BrokerTotal), s.CreatedAt)
	if err != nil {
		return PaymentSplit{}, err
	}
	if len(rows) == 0 {
		return PaymentSplit{}, errors.New("payments: insert split returned no row")
	}
	return rows[0], nil
}

func (t *pgTxRepository) UpdateSplitAmounts(ctx context.Context, s PaymentSplit) error {
	return t.execOne(ctx, ErrSplitNotFound, `UPDATE payment_splits SET origination_percent = $2, site_percent = $3,
    deal_percent = $4, origination_usd = $5, site_usd = $6, deal_usd = $7, broker_total = $8, updated_at = $9
WHERE id = $1`,
		s.ID, db.NumericArg(s.OriginationPercent), db.NumericArg(s.SitePercent), db.NumericArg(s.DealPercent),
		db.NumericArg(s.OriginationUSD), db.NumericArg(s.SiteUSD), db.NumericArg(s.DealUSD),
		db.NumericArg(s.BrokerTotal), s.UpdatedAt)
}

func (t *pgTxRepository) SetSplitPaid(ctx context.Context, id int64, paid bool, at *time.Time) error {
	return t.execOne(ctx, ErrSplitNotFound, `UPDATE payment_splits SET paid = $2, paid_at = $3, updated_at = NOW() WHERE id = $1`, id, paid, at)
}

func (t *pgTxRepository) DeleteSplit(ctx context.Context, id int64) error {
	return t.execOne(ctx, ErrSplitNotFound, `DELETE FROM payment_splits WHERE id = $1`, id)
}

func (t *pgTxRepository) execOne(ctx context.Context, notFound error, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func getPayment(ctx context.Context, q db.Querier, sql string, args ...any) (Payment, error) {
	p, err := scanPayment(q.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}

func queryPayments(ctx context.Context, q db.Querier, sql string, args ...any) ([]Payment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p                      Payment
		amount, fee, gci, agci string
		referralOverride       *string
	)
	if err := row.Scan(&p.ID, &p.DealID, &p.SequenceNumber, &p.AmountOverride, &amount,
		&referralOverride, &fee, &gci, &agci,
		&p.PaymentReceived, &p.PaymentReceivedAt, &p.ReferralPaid, &p.ReferralPaidAt,
		&p.IsActive, &p.DeletedAt, &p.InvoiceRef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Payment{}, err
	}
	var err error
	if p.PaymentAmount, err = db.ParseNumeric(amount); err != nil {
		return Payment{}, err
	}
	if p.ReferralFeePercentOverride, err = db.ParseNullableNumeric(referralOverride); err != nil {
		return Payment{}, err
	}
	if p.ReferralFeeUSD, err = db.ParseNumeric(fee); err != nil {
		return Payment{}, err
	}
	if p.GCI, err = db.ParseNumeric(gci); err != nil {
		return Payment{}, err
	}
	if p.AGCI, err = db.ParseNumeric(agci); err != nil {
		return Payment{}, err
	}
	return p, nil
}

func querySplits(ctx context.Context, q db.Querier, sql string, args ...any) ([]PaymentSplit, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentSplit
	for rows.Next() {
		var (
			s                         PaymentSplit
			origPct, sitePct, dealPct string
			orig, site, deal, total   string
		)
		if err := rows.Scan(&s.ID, &s.PaymentID, &s.BrokerID, &origPct, &sitePct, &dealPct,
			&orig, &site, &deal, &total, &s.Paid, &s.PaidAt, &s.ExternalRef, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		fields := []struct {
			raw string
			dst *decimal.Decimal
		}{
			{origPct, &s.OriginationPercent}, {sitePct, &s.SitePercent}, {dealPct, &s.DealPercent},
			{orig, &s.OriginationUSD}, {site, &s.SiteUSD}, {deal, &s.DealUSD}, {total, &s.BrokerTotal},
		}
		for _, f := range fields {
			v, err := db.ParseNumeric(f.raw)
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
