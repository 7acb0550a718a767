package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/deals"
	"github.com/odyssey-erp/commission-engine/internal/events"
	"github.com/odyssey-erp/commission-engine/internal/shared"
)

type memState struct {
	payments      map[int64]Payment
	splits        map[int64]PaymentSplit
	nextPaymentID int64
	nextSplitID   int64
}

func (s *memState) clone() *memState {
	out := &memState{
		payments:      make(map[int64]Payment, len(s.payments)),
		splits:        make(map[int64]PaymentSplit, len(s.splits)),
		nextPaymentID: s.nextPaymentID,
		nextSplitID:   s.nextSplitID,
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.splits {
		out.splits[k] = v
	}
	return out
}

// memoryRepo commits a transaction's working copy only when fn succeeds.
type memoryRepo struct {
	mu    sync.Mutex
	state *memState
	// failSplitInsert, when set, fails InsertSplit for that broker.
	failSplitInsert int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memState{payments: map[int64]Payment{}, splits: map[int64]PaymentSplit{}}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	work := r.state.clone()
	if err := fn(ctx, &memoryTx{s: work, failSplitInsert: r.failSplitInsert}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (r *memoryRepo) ListPayments(_ context.Context, dealID int64, includeArchived bool) ([]Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Payment
	for _, p := range r.state.payments {
		if p.DealID == dealID && (includeArchived || p.IsActive) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (r *memoryRepo) GetPayment(_ context.Context, id int64) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.state.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListSplits(_ context.Context, paymentIDs ...int64) ([]PaymentSplit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[int64]bool, len(paymentIDs))
	for _, id := range paymentIDs {
		want[id] = true
	}
	var out []PaymentSplit
	for _, sp := range r.state.splits {
		if want[sp.PaymentID] {
			out = append(out, sp)
		}
	}
	sortSplits(out)
	return out, nil
}

// edit mutates committed state directly, standing in for external writers.
func (r *memoryRepo) edit(fn func(s *memState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
}

func (r *memoryRepo) payment(id int64) Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.payments[id]
}

func (r *memoryRepo) split(id int64) PaymentSplit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.splits[id]
}

func (r *memoryRepo) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.state.payments), len(r.state.splits)
}

type memoryTx struct {
	s               *memState
	failSplitInsert int64
}

func (t *memoryTx) CountPayments(_ context.Context, dealID int64) (int, error) {
	n := 0
	for _, p := range t.s.payments {
		if p.DealID == dealID {
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) NextSequence(_ context.Context, dealID int64) (int, error) {
	maxSeq := 0
	for _, p := range t.s.payments {
		if p.DealID == dealID && p.SequenceNumber > maxSeq {
			maxSeq = p.SequenceNumber
		}
	}
	return maxSeq + 1, nil
}

func (t *memoryTx) ListActivePayments(_ context.Context, dealID int64) ([]Payment, error) {
	var out []Payment
	for _, p := range t.s.payments {
		if p.DealID == dealID && p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (t *memoryTx) GetPaymentForUpdate(_ context.Context, id int64) (Payment, error) {
	p, ok := t.s.payments[id]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return p, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p Payment) (Payment, error) {
	for _, existing := range t.s.payments {
		if existing.DealID == p.DealID && existing.SequenceNumber == p.SequenceNumber {
			return Payment{}, ErrDuplicateSequence
		}
	}
	t.s.nextPaymentID++
	p.ID = t.s.nextPaymentID
	p.Splits = nil
	t.s.payments[p.ID] = p
	return p, nil
}

func (t *memoryTx) UpdatePaymentAmounts(_ context.Context, p Payment) error {
	cur, ok := t.s.payments[p.ID]
	if !ok {
		return ErrPaymentNotFound
	}
	cur.AmountOverride = p.AmountOverride
	cur.PaymentAmount = p.PaymentAmount
	cur.ReferralFeePercentOverride = p.ReferralFeePercentOverride
	cur.ReferralFeeUSD = p.ReferralFeeUSD
	cur.GCI = p.GCI
	cur.AGCI = p.AGCI
	cur.UpdatedAt = p.UpdatedAt
	t.s.payments[p.ID] = cur
	return nil
}

func (t *memoryTx) SetPaymentReceived(_ context.Context, id int64, received bool, at *time.Time) error {
	cur, ok := t.s.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	cur.PaymentReceived, cur.PaymentReceivedAt = received, at
	t.s.payments[id] = cur
	return nil
}

func (t *memoryTx) SetReferralPaid(_ context.Context, id int64, paid bool, at *time.Time) error {
	cur, ok := t.s.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	cur.ReferralPaid, cur.ReferralPaidAt = paid, at
	t.s.payments[id] = cur
	return nil
}

func (t *memoryTx) ArchivePayments(_ context.Context, dealID int64, at time.Time) (int, error) {
	n := 0
	for id, p := range t.s.payments {
		if p.DealID == dealID && p.IsActive {
			archivedAt := at
			p.IsActive = false
			p.DeletedAt = &archivedAt
			t.s.payments[id] = p
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) DeletePayment(_ context.Context, id int64) error {
	if _, ok := t.s.payments[id]; !ok {
		return ErrPaymentNotFound
	}
	for sid, sp := range t.s.splits {
		if sp.PaymentID == id {
			delete(t.s.splits, sid)
		}
	}
	delete(t.s.payments, id)
	return nil
}

func (t *memoryTx) ListSplits(_ context.Context, paymentID int64) ([]PaymentSplit, error) {
	var out []PaymentSplit
	for _, sp := range t.s.splits {
		if sp.PaymentID == paymentID {
			out = append(out, sp)
		}
	}
	sortSplits(out)
	return out, nil
}

func (t *memoryTx) GetSplitForUpdate(_ context.Context, id int64) (PaymentSplit, error) {
	sp, ok := t.s.splits[id]
	if !ok {
		return PaymentSplit{}, ErrSplitNotFound
	}
	return sp, nil
}

func (t *memoryTx) InsertSplit(_ context.Context, sp PaymentSplit) (PaymentSplit, error) {
	if t.failSplitInsert != 0 && sp.BrokerID == t.failSplitInsert {
		return PaymentSplit{}, errors.New("insert failed")
	}
	t.s.nextSplitID++
	sp.ID = t.s.nextSplitID
	t.s.splits[sp.ID] = sp
	return sp, nil
}

func (t *memoryTx) UpdateSplitAmounts(_ context.Context, sp PaymentSplit) error {
	cur, ok := t.s.splits[sp.ID]
	if !ok {
		return ErrSplitNotFound
	}
	cur.OriginationPercent, cur.SitePercent, cur.DealPercent = sp.OriginationPercent, sp.SitePercent, sp.DealPercent
	cur.OriginationUSD, cur.SiteUSD, cur.DealUSD = sp.OriginationUSD, sp.SiteUSD, sp.DealUSD
	cur.BrokerTotal = sp.BrokerTotal
	cur.UpdatedAt = sp.UpdatedAt
	t.s.splits[sp.ID] = cur
	return nil
}

func (t *memoryTx) SetSplitPaid(_ context.Context, id int64, paid bool, at *time.Time) error {
	cur, ok := t.s.splits[id]
	if !ok {
		return ErrSplitNotFound
	}
	cur.Paid, cur.PaidAt = paid, at
	t.s.splits[id] = cur
	return nil
}

func (t *memoryTx) DeleteSplit(_ context.Context, id int64) error {
	if _, ok := t.s.splits[id]; !ok {
		return ErrSplitNotFound
	}
	delete(t.s.splits, id)
	return nil
}

func sortSplits(list []PaymentSplit) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].PaymentID != list[j].PaymentID {
			return list[i].PaymentID < list[j].PaymentID
		}
		return list[i].ID < list[j].ID
	})
}

type fakeTerms struct {
	mu     sync.Mutex
	deals  map[int64]commission.DealTerms
	roster commission.BrokerSet
}

func newFakeTerms(roster ...int64) *fakeTerms {
	return &fakeTerms{deals: map[int64]commission.DealTerms{}, roster: commission.NewBrokerSet(roster...)}
}

func (f *fakeTerms) put(t commission.DealTerms) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deals[t.DealID] = t
}

func (f *fakeTerms) update(dealID int64, fn func(*commission.DealTerms)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.deals[dealID]
	fn(&t)
	f.deals[dealID] = t
}

func (f *fakeTerms) LoadTerms(_ context.Context, dealID int64) (commission.DealTerms, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.deals[dealID]
	if !ok {
		return commission.DealTerms{}, deals.ErrDealNotFound
	}
	return t, nil
}

func (f *fakeTerms) ActiveBrokers(context.Context) (commission.BrokerSet, error) {
	return f.roster, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := log.Validate(); err != nil {
		return err
	}
	a.entries = append(a.entries, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evts ...events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evts...)
	return nil
}

func (p *recordingPublisher) last() events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

var testNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo   *memoryRepo
	terms  *fakeTerms
	audit  *recordingAudit
	pub    *recordingPublisher
	svc    *Service
	broker int64
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int { return &n }

// scenarioTerms is a $20,000 deal in four installments with one broker at
// 13.75% / 6.875% / 6.875% of 20% / 10% / 10% category pools.
func scenarioTerms(dealID, broker int64) commission.DealTerms {
	return commission.DealTerms{
		DealID:           dealID,
		Fee:              dec("20000"),
		HouseCutPercent:  "45",
		NumberOfPayments: intPtr(4),
		Categories:       commission.CategoryPercents{Origination: dec("20"), Site: dec("10"), Deal: dec("10")},
		Template: []commission.TemplateRow{
			{BrokerID: broker, OriginationPercent: dec("13.75"), SitePercent: dec("6.875"), DealPercent: dec("6.875")},
		},
	}
}

func newFixture() *fixture {
	f := &fixture{
		repo:   newMemoryRepo(),
		terms:  newFakeTerms(7),
		audit:  &recordingAudit{},
		pub:    &recordingPublisher{},
		broker: 7,
	}
	f.svc = NewService(f.repo, f.terms, f.audit, ServiceConfig{
		Policy:    commission.DefaultPolicy(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher: f.pub,
	})
	f.svc.WithNow(func() time.Time { return testNow })
	f.terms.put(scenarioTerms(1, f.broker))
	return f
}
