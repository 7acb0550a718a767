package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/batch"
	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/events"
	"github.com/odyssey-erp/commission-engine/internal/shared"
)

// TermsSource reads deal terms and the broker roster. Every operation reads
// fresh terms; nothing here caches them.
type TermsSource interface {
	LoadTerms(ctx context.Context, dealID int64) (commission.DealTerms, error)
	ActiveBrokers(ctx context.Context) (commission.BrokerSet, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Locker serialises writers on one deal.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Observer is told about every committed mutation, keyed by audit action.
type Observer interface {
	ObserveMutation(action string)
}

// ServiceConfig carries optional collaborators.
type ServiceConfig struct {
	Policy    commission.Policy
	Logger    *slog.Logger
	Publisher events.Publisher
	Locker    Locker
	Observer  Observer
}

// Service implements the payment lifecycle and disbursement tracking.
type Service struct {
	repo      Repository
	terms     TermsSource
	audit     AuditPort
	publisher events.Publisher
	locker    Locker
	observer  Observer
	policy    commission.Policy
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs Service.
func NewService(repo Repository, terms TermsSource, audit AuditPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Service{
		repo:      repo,
		terms:     terms,
		audit:     audit,
		publisher: publisher,
		locker:    cfg.Locker,
		observer:  cfg.Observer,
		policy:    cfg.Policy,
		logger:    logger.With(slog.String("component", "payments")),
		now:       time.Now,
	}
}

// WithNow overrides the clock, primarily for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Generate creates one payment per installment with splits from the
// commission template. Calling it on a deal that already has payments,
// archived ones included, is a no-op reporting AlreadyExisted.
func (s *Service) Generate(ctx context.Context, dealID int64) (GenerateResult, error) {
	release, err := s.lock(ctx, dealID)
	if err != nil {
		return GenerateResult{}, err
	}
	defer release()

	terms, err := s.terms.LoadTerms(ctx, dealID)
	if err != nil {
		return GenerateResult{}, err
	}
	n, err := terms.Installments()
	if err != nil {
		return GenerateResult{}, err
	}
	amount, err := terms.InstallmentAmount()
	if err != nil {
		return GenerateResult{}, err
	}
	roster, err := s.terms.ActiveBrokers(ctx)
	if err != nil {
		return GenerateResult{}, err
	}

	now := s.now()
	var result GenerateResult
	var skipped []int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.CountPayments(ctx, dealID)
		if err != nil {
			return err
		}
		if existing > 0 {
			result.AlreadyExisted = true
			return nil
		}
		derived := s.policy.Derive(amount, nil, terms)
		for seq := 1; seq <= n; seq++ {
			p := Payment{
				DealID:         dealID,
				SequenceNumber: seq,
				PaymentAmount:  amount,
				IsActive:       true,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			p.apply(derived)
			inserted, err := tx.InsertPayment(ctx, p)
			if err != nil {
				return err
			}
			_, ids, err := s.seedSplits(ctx, tx, inserted, terms, roster, now)
			if err != nil {
				return err
			}
			skipped = append(skipped, ids...)
			result.Created++
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateSequence) {
		// A concurrent generator committed first.
		return GenerateResult{AlreadyExisted: true}, nil
	}
	if err != nil {
		return GenerateResult{}, err
	}
	result.SkippedBrokers = uniqueIDs(skipped)
	if result.Created > 0 {
		s.logger.Info("payments generated", slog.Int64("deal_id", dealID), slog.Int("created", result.Created))
		evt := events.New(events.PaymentsGenerated, dealID, now)
		evt.Data = map[string]any{"created": result.Created}
		s.after(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   shared.AuditPaymentsGenerated,
			Entity:   shared.AuditEntityDeal,
			EntityID: strconv.FormatInt(dealID, 10),
			Meta:     map[string]any{"created": result.Created, "installment": amount.StringFixed(2)},
			At:       now,
		}, evt)
	}
	return result, nil
}

// UpdateAmounts recomputes every active payment of a deal in place. Payment
// rows are never deleted or recreated; overridden amounts stay frozen while
// their derived fields re-derive; paid and received flags are not touched.
func (s *Service) UpdateAmounts(ctx context.Context, dealID int64) (UpdateResult, error) {
	release, err := s.lock(ctx, dealID)
	if err != nil {
		return UpdateResult{}, err
	}
	defer release()

	terms, err := s.terms.LoadTerms(ctx, dealID)
	if err != nil {
		return UpdateResult{}, err
	}
	roster, err := s.terms.ActiveBrokers(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	// Only needed by payments without an override.
	installment, installmentErr := terms.InstallmentAmount()

	now := s.now()
	var result UpdateResult
	var skipped []int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		list, err := tx.ListActivePayments(ctx, dealID)
		if err != nil {
			return err
		}
		for _, p := range list {
			if !p.AmountOverride && installmentErr != nil {
				return installmentErr
			}
			stored := p
			if !p.AmountOverride {
				p.PaymentAmount = installment
			}
			out, err := s.rederive(ctx, tx, stored, &p, terms, roster, now)
			if err != nil {
				return err
			}
			if out.changed && p.InvoiceRef != nil {
				result.ResyncRequired = append(result.ResyncRequired, p.ID)
			}
			result.SplitsSeeded += out.seeded
			skipped = append(skipped, out.skipped...)
			result.Updated++
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	result.SkippedBrokers = uniqueIDs(skipped)

	evt := events.New(events.PaymentAmountsUpdated, dealID, now)
	evt.Resync = len(result.ResyncRequired) > 0
	evt.Data = map[string]any{"updated": result.Updated, "resyncRequired": result.ResyncRequired}
	s.after(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   shared.AuditAmountsUpdated,
		Entity:   shared.AuditEntityDeal,
		EntityID: strconv.FormatInt(dealID, 10),
		Meta:     map[string]any{"updated": result.Updated, "resync_required": result.ResyncRequired},
		At:       now,
	}, evt)
	return result, nil
}

// Archive soft-deletes every active payment of a deal. Rows stay queryable
// with their original values.
func (s *Service) Archive(ctx context.Context, dealID int64) (ArchiveResult, error) {
	release, err := s.lock(ctx, dealID)
	if err != nil {
		return ArchiveResult{}, err
	}
	defer release()

	now := s.now()
	var result ArchiveResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.ArchivePayments(ctx, dealID, now)
		result.Archived = n
		return err
	})
	if err != nil {
		return ArchiveResult{}, err
	}
	if result.Archived > 0 {
		evt := events.New(events.PaymentsArchived, dealID, now)
		evt.Data = map[string]any{"archived": result.Archived}
		s.after(ctx, shared.AuditLog{
			ActorID:  shared.ActorFromContext(ctx),
			Action:   shared.AuditPaymentsArchived,
			Entity:   shared.AuditEntityDeal,
			EntityID: strconv.FormatInt(dealID, 10),
			Meta:     map[string]any{"archived": result.Archived},
			At:       now,
		}, evt)
	}
	return result, nil
}

// Delete physically removes a payment and its splits. A payment carrying an
// invoice reference, or with splits carrying external references, is refused
// with a *ReferenceConflictError unless force is set.
func (s *Service) Delete(ctx context.Context, paymentID int64, force bool) (DeleteResult, error) {
	var (
		p      Payment
		result DeleteResult
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		p, err = tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		splits, err := tx.ListSplits(ctx, p.ID)
		if err != nil {
			return err
		}
		refs := externalRefs(p, splits)
		if len(refs) > 0 && !force {
			return &ReferenceConflictError{Entity: "payment", ID: p.ID, References: refs}
		}
		if err := tx.DeletePayment(ctx, p.ID); err != nil {
			return err
		}
		result = DeleteResult{Deleted: true, Warnings: refs}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	if len(result.Warnings) > 0 {
		s.logger.Warn("payment force deleted with external references",
			slog.Int64("payment_id", paymentID), slog.Any("references", result.Warnings))
	}
	now := s.now()
	evt := events.New(events.PaymentDeleted, p.DealID, now)
	evt.PaymentID = p.ID
	evt.Resync = len(result.Warnings) > 0
	s.after(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   shared.AuditPaymentDeleted,
		Entity:   shared.AuditEntityPayment,
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     map[string]any{"deal_id": p.DealID, "sequence": p.SequenceNumber, "forced": force, "references": result.Warnings},
		At:       now,
	}, evt)
	return result, nil
}

// DeleteSplit removes one split, guarded like Delete.
func (s *Service) DeleteSplit(ctx context.Context, splitID int64, force bool) (DeleteResult, error) {
	var (
		split  PaymentSplit
		dealID int64
		result DeleteResult
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		split, err = tx.GetSplitForUpdate(ctx, splitID)
		if err != nil {
			return err
		}
		p, err := tx.GetPaymentForUpdate(ctx, split.PaymentID)
		if err != nil {
			return err
		}
		dealID = p.DealID
		var refs []string
		if split.ExternalRef != nil {
			refs = append(refs, "split external ref "+*split.ExternalRef)
		}
		if len(refs) > 0 && !force {
			return &ReferenceConflictError{Entity: "split", ID: split.ID, References: refs}
		}
		if err := tx.DeleteSplit(ctx, split.ID); err != nil {
			return err
		}
		result = DeleteResult{Deleted: true, Warnings: refs}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	now := s.now()
	evt := events.New(events.SplitDeleted, dealID, now)
	evt.PaymentID = split.PaymentID
	evt.SplitID = split.ID
	evt.Resync = len(result.Warnings) > 0
	s.after(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   shared.AuditSplitDeleted,
		Entity:   shared.AuditEntityPaymentSplit,
		EntityID: strconv.FormatInt(split.ID, 10),
		Meta:     map[string]any{"payment_id": split.PaymentID, "broker_id": split.BrokerID, "forced": force},
		At:       now,
	}, evt)
	return result, nil
}

// CreatePayment appends one payment after the deal's highest sequence number.
func (s *Service) CreatePayment(ctx context.Context, dealID int64, in CreateInput) (Payment, error) {
	if in.Amount != nil {
		if err := validateAmount(*in.Amount); err != nil {
			return Payment{}, err
		}
	}
	if in.ReferralFeePercentOverride != nil {
		if err := validatePercent(*in.ReferralFeePercentOverride); err != nil {
			return Payment{}, err
		}
	}
	release, err := s.lock(ctx, dealID)
	if err != nil {
		return Payment{}, err
	}
	defer release()

	terms, err := s.terms.LoadTerms(ctx, dealID)
	if err != nil {
		return Payment{}, err
	}
	roster, err := s.terms.ActiveBrokers(ctx)
	if err != nil {
		return Payment{}, err
	}
	var (
		amount   decimal.Decimal
		override bool
	)
	if in.Amount != nil {
		amount, override = commission.Round2(*in.Amount), true
	} else if amount, err = terms.InstallmentAmount(); err != nil {
		return Payment{}, err
	}

	now := s.now()
	var created Payment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextSequence(ctx, dealID)
		if err != nil {
			return err
		}
		p := Payment{
			DealID:                     dealID,
			SequenceNumber:             seq,
			AmountOverride:             override,
			PaymentAmount:              amount,
			ReferralFeePercentOverride: in.ReferralFeePercentOverride,
			IsActive:                   true,
			CreatedAt:                  now,
			UpdatedAt:                  now,
		}
		p.apply(s.policy.Derive(amount, p.ReferralFeePercentOverride, terms))
		created, err = tx.InsertPayment(ctx, p)
		if err != nil {
			return err
		}
		created.Splits, _, err = s.seedSplits(ctx, tx, created, terms, roster, now)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	evt := events.New(events.PaymentCreated, dealID, now)
	evt.PaymentID = created.ID
	s.after(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   shared.AuditPaymentCreated,
		Entity:   shared.AuditEntityPayment,
		EntityID: strconv.FormatInt(created.ID, 10),
		Meta:     map[string]any{"deal_id": dealID, "sequence": created.SequenceNumber, "override": override},
		At:       now,
	}, evt)
	return created, nil
}

// SetAmountOverride freezes a payment's amount; derived fields and splits re-derive from it.
func (s *Service) SetAmountOverride(ctx context.Context, paymentID int64, amount decimal.Decimal) (Payment, error) {
	if err := validateAmount(amount); err != nil {
		return Payment{}, err
	}
	return s.mutatePayment(ctx, paymentID, shared.AuditAmountOverride, func(p *Payment, _ commission.DealTerms) error {
		p.AmountOverride = true
		p.PaymentAmount = commission.Round2(amount)
		return nil
	})
}

// ClearAmountOverride returns a payment to the deal's installment amount.
func (s *Service) ClearAmountOverride(ctx context.Context, paymentID int64) (Payment, error) {
	return s.mutatePayment(ctx, paymentID, shared.AuditAmountOverride, func(p *Payment, terms commission.DealTerms) error {
		amount, err := terms.InstallmentAmount()
		if err != nil {
			return err
		}
		p.AmountOverride = false
		p.PaymentAmount = amount
		return nil
	})
}

// SetReferralOverride sets or, with nil, clears the payment level referral percentage.
func (s *Service) SetReferralOverride(ctx context.Context, paymentID int64, percent *decimal.Decimal) (Payment, error) {
	if percent != nil {
		if err := validatePercent(*percent); err != nil {
			return Payment{}, err
		}
	}
	return s.mutatePayment(ctx, paymentID, shared.AuditReferralOverride, func(p *Payment, _ commission.DealTerms) error {
		p.ReferralFeePercentOverride = percent
		return nil
	})
}

// UpdateSplitPercents edits one split's percentages and reprices it against
// the stored payment AGCI.
func (s *Service) UpdateSplitPercents(ctx context.Context, splitID int64, percents commission.CategoryPercents) (PaymentSplit, error) {
	if err := validatePercents(percents); err != nil {
		return PaymentSplit{}, err
	}
	now := s.now()
	var (
		split PaymentSplit
		p     Payment
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		split, err = tx.GetSplitForUpdate(ctx, splitID)
		if err != nil {
			return err
		}
		p, err = tx.GetPaymentForUpdate(ctx, split.PaymentID)
		if err != nil {
			return err
		}
		if p.Archived() {
			return ErrArchived
		}
		terms, err := s.terms.LoadTerms(ctx, p.DealID)
		if err != nil {
			return err
		}
		split.apply(commission.ComputeSplit(p.AGCI, terms.Categories, percents))
		split.UpdatedAt = now
		return tx.UpdateSplitAmounts(ctx, split)
	})
	if err != nil {
		return PaymentSplit{}, err
	}
	evt := events.New(events.SplitUpdated, p.DealID, now)
	evt.PaymentID = p.ID
	evt.SplitID = split.ID
	evt.Resync = p.InvoiceRef != nil || split.ExternalRef != nil
	s.after(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   shared.AuditSplitPercents,
		Entity:   shared.AuditEntityPaymentSplit,
		EntityID: strconv.FormatInt(split.ID, 10),
		Meta: map[string]any{
			"origination": percents.Origination.String(),
			"site":        percents.Site.String(),
			"deal":        percents.Deal.String(),
		},
		At: now,
	}, evt)
	return split, nil
}

// ListPayments returns a deal's payments with splits. Archived payments are
// included only when asked.
func (s *Service) ListPayments(ctx context.Context, dealID int64, includeArchived bool) ([]Payment, error) {
	list, err := s.repo.ListPayments(ctx, dealID, includeArchived)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return []Payment{}, nil
	}
	ids := make([]int64, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	splits, err := s.repo.ListSplits(ctx, ids...)
	if err != nil {
		return nil, err
	}
	byPayment := make(map[int64][]PaymentSplit, len(list))
	for _, sp := range splits {
		byPayment[sp.PaymentID] = append(byPayment[sp.PaymentID], sp)
	}
	for i := range list {
		list[i].Splits = byPayment[list[i].ID]
	}
	return list, nil
}

// GetPayment returns one payment with its splits.
func (s *Service) GetPayment(ctx context.Context, paymentID int64) (Payment, error) {
	p, err := s.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	p.Splits, err = s.repo.ListSplits(ctx, p.ID)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}

// RecomputeDeals runs UpdateAmounts over many deals. A failing deal is
// recorded and the run continues; cancelling ctx stops before the next deal.
func (s *Service) RecomputeDeals(ctx context.Context, dealIDs []int64, observe func(id int64, err error)) batch.Result {
	runner := batch.NewRunner("payments.recompute", s.logger)
	runner.OnRecord = observe
	return runner.Run(ctx, dealIDs, func(ctx context.Context, id int64) error {
		_, err := s.UpdateAmounts(ctx, id)
		return err
	})
}

func (s *Service) mutatePayment(ctx context.Context, paymentID int64, action string, mutate func(*Payment, commission.DealTerms) error) (Payment, error) {
	now := s.now()
	var (
		out    Payment
		resync bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Archived() {
			return ErrArchived
		}
		terms, err := s.terms.LoadTerms(ctx, p.DealID)
		if err != nil {
			return err
		}
		roster, err := s.terms.ActiveBrokers(ctx)
		if err != nil {
			return err
		}
		stored := p
		if err := mutate(&p, terms); err != nil {
			return err
		}
		res, err := s.rederive(ctx, tx, stored, &p, terms, roster, now)
		if err != nil {
			return err
		}
		resync = res.changed && p.InvoiceRef != nil
		p.Splits, err = tx.ListSplits(ctx, p.ID)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	evt := events.New(events.PaymentOverridden, out.DealID, now)
	evt.PaymentID = out.ID
	evt.Resync = resync
	s.after(ctx, shared.AuditLog{
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   shared.AuditEntityPayment,
		EntityID: strconv.FormatInt(out.ID, 10),
		Meta: map[string]any{
			"amount_override": out.AmountOverride,
			"payment_amount":  out.PaymentAmount.StringFixed(2),
			"agci":            out.AGCI.StringFixed(2),
		},
		At: now,
	}, evt)
	return out, nil
}

type rederived struct {
	changed bool
	seeded  int
	skipped []int64
}

// rederive recomputes p's derived fields from its (possibly frozen) amount,
// persists the payment when anything differs from stored, then reprices its
// splits from the new AGCI. A payment with no splits is seeded from the
// template. Paid and received flags are never written here.
func (s *Service) rederive(ctx context.Context, tx TxRepository, stored Payment, p *Payment, terms commission.DealTerms, roster commission.BrokerSet, now time.Time) (rederived, error) {
	var out rederived
	p.apply(s.policy.Derive(p.PaymentAmount, p.ReferralFeePercentOverride, terms))
	out.changed = amountsChanged(stored, *p)
	if out.changed || overridesChanged(stored, *p) {
		p.UpdatedAt = now
		if err := tx.UpdatePaymentAmounts(ctx, *p); err != nil {
			return rederived{}, err
		}
	}

	splits, err := tx.ListSplits(ctx, p.ID)
	if err != nil {
		return rederived{}, err
	}
	if len(splits) == 0 {
		seeded, skipped, err := s.seedSplits(ctx, tx, *p, terms, roster, now)
		if err != nil {
			return rederived{}, err
		}
		out.seeded, out.skipped = len(seeded), skipped
		out.changed = out.changed || len(seeded) > 0
		return out, nil
	}
	for _, split := range splits {
		updated := split
		updated.apply(commission.ComputeSplit(p.AGCI, terms.Categories, split.Percents()))
		if updated.sameAmounts(split) {
			continue
		}
		updated.UpdatedAt = now
		if err := tx.UpdateSplitAmounts(ctx, updated); err != nil {
			return rederived{}, err
		}
		out.changed = true
	}
	return out, nil
}

// seedSplits allocates the template against p.AGCI and inserts the splits.
// Skipped template rows are logged and returned; they never fail the payment.
func (s *Service) seedSplits(ctx context.Context, tx TxRepository, p Payment, terms commission.DealTerms, roster commission.BrokerSet, now time.Time) ([]PaymentSplit, []int64, error) {
	alloc := commission.Allocate(p.AGCI, terms.Template, terms.Categories, roster)
	var skipped []int64
	for _, refErr := range alloc.Skipped {
		s.logger.Warn("template row skipped",
			slog.Int64("deal_id", p.DealID),
			slog.Int64("payment_id", p.ID),
			slog.Int64("broker_id", refErr.BrokerID),
			slog.Any("error", refErr))
		skipped = append(skipped, refErr.BrokerID)
	}
	out := make([]PaymentSplit, 0, len(alloc.Lines))
	for _, line := range alloc.Lines {
		split := PaymentSplit{PaymentID: p.ID, BrokerID: line.BrokerID, CreatedAt: now, UpdatedAt: now}
		split.apply(line)
		inserted, err := tx.InsertSplit(ctx, split)
		if err != nil {
			return nil, nil, fmt.Errorf("payments: insert split for broker %d: %w", line.BrokerID, err)
		}
		out = append(out, inserted)
	}
	return out, skipped, nil
}

func (s *Service) lock(ctx context.Context, dealID int64) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	return s.locker.Lock(ctx, shared.DealLockKey(dealID))
}

// after records the audit entry and publishes events once a transaction has
// committed. Failures are logged; the write itself already succeeded.
func (s *Service) after(ctx context.Context, entry shared.AuditLog, evts ...events.Event) {
	if s.observer != nil {
		s.observer.ObserveMutation(entry.Action)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, entry); err != nil {
			s.logger.Error("audit record failed", slog.String("action", entry.Action), slog.Any("error", err))
		}
	}
	if err := s.publisher.Publish(ctx, evts...); err != nil {
		s.logger.Error("publish events failed", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

func externalRefs(p Payment, splits []PaymentSplit) []string {
	var refs []string
	if p.InvoiceRef != nil {
		refs = append(refs, "invoice "+*p.InvoiceRef)
	}
	for _, sp := range splits {
		if sp.ExternalRef != nil {
			refs = append(refs, fmt.Sprintf("split %d external ref %s", sp.ID, *sp.ExternalRef))
		}
	}
	return refs
}
