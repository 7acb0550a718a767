package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/commission-engine/internal/batch"
	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/payments"
)

// TermsSource loads deal configuration.
type TermsSource interface {
	LoadTerms(ctx context.Context, dealID int64) (commission.DealTerms, error)
	ActiveBrokers(ctx context.Context) (commission.BrokerSet, error)
	ListDealIDs(ctx context.Context, includeLost bool) ([]int64, error)
}

// PaymentSource lists stored payments with their splits.
type PaymentSource interface {
	ListPayments(ctx context.Context, dealID int64, includeArchived bool) ([]payments.Payment, error)
}

// ExternalSource returns externally recorded broker totals keyed by split id.
// A nil map means the external system has nothing for the deal.
type ExternalSource interface {
	SplitTotals(ctx context.Context, dealID int64) (map[int64]decimal.Decimal, error)
}

// Service validates stored commission data. It is read only.
type Service struct {
	terms    TermsSource
	payments PaymentSource
	external ExternalSource
	policy   commission.Policy
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
}

// NewService constructs the validator. external may be nil.
func NewService(terms TermsSource, payments PaymentSource, external ExternalSource, policy commission.Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		terms:    terms,
		payments: payments,
		external: external,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Validate builds the report for one deal. Concurrent calls for the same
// deal share a single computation.
func (s *Service) Validate(ctx context.Context, dealID int64) (Report, error) {
	ch := s.group.DoChan(strconv.FormatInt(dealID, 10), func() (interface{}, error) {
		return s.validate(context.WithoutCancel(ctx), dealID)
	})
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Report{}, res.Err
		}
		return res.Val.(Report), nil
	}
}

func (s *Service) validate(ctx context.Context, dealID int64) (Report, error) {
	terms, err := s.terms.LoadTerms(ctx, dealID)
	if err != nil {
		return Report{}, err
	}
	roster, err := s.terms.ActiveBrokers(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load roster: %w", err)
	}
	list, err := s.payments.ListPayments(ctx, dealID, false)
	if err != nil {
		return Report{}, fmt.Errorf("load payments: %w", err)
	}
	var external map[int64]decimal.Decimal
	if s.external != nil {
		external, err = s.external.SplitTotals(ctx, dealID)
		if err != nil {
			return Report{}, fmt.Errorf("load external records: %w", err)
		}
	}
	return BuildReport(Input{Terms: terms, Payments: list, Roster: roster, External: external}, s.policy, s.now())
}

// Scan validates many deals. An empty id list scans every deal that is not
// lost. A deal that cannot be validated lands in Failed and the scan moves
// on; observe, when set, sees every report as it is produced.
func (s *Service) Scan(ctx context.Context, dealIDs []int64, observe func(Report)) (ScanResult, error) {
	if len(dealIDs) == 0 {
		ids, err := s.terms.ListDealIDs(ctx, false)
		if err != nil {
			return ScanResult{}, fmt.Errorf("list deals: %w", err)
		}
		dealIDs = ids
	}
	var (
		mu      sync.Mutex
		reports = make([]Report, 0, len(dealIDs))
	)
	runner := batch.NewRunner("reconcile.scan", s.logger)
	res := runner.Run(ctx, dealIDs, func(ctx context.Context, id int64) error {
		rep, err := s.Validate(ctx, id)
		if err != nil {
			return err
		}
		mu.Lock()
		reports = append(reports, rep)
		mu.Unlock()
		if observe != nil {
			observe(rep)
		}
		return nil
	})
	s.logger.Info("reconcile scan finished",
		slog.String("run_id", res.RunID),
		slog.Int("deals", res.Total),
		slog.Int("reports", len(reports)),
		slog.Int("failed", len(res.Failed)),
		slog.Bool("stopped", res.Stopped))
	return ScanResult{Result: res, Reports: reports}, nil
}
