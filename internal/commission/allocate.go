package commission

import "github.com/shopspring/decimal"

// SplitLine is one broker's dollar share of a payment.
type SplitLine struct {
	BrokerID           int64           `json:"brokerId"`
	OriginationPercent decimal.Decimal `json:"originationPercent"`
	SitePercent        decimal.Decimal `json:"sitePercent"`
	DealPercent        decimal.Decimal `json:"dealPercent"`
	OriginationUSD     decimal.Decimal `json:"originationUsd"`
	SiteUSD            decimal.Decimal `json:"siteUsd"`
	DealUSD            decimal.Decimal `json:"dealUsd"`
	BrokerTotal        decimal.Decimal `json:"brokerTotal"`
	// RawTotal is the unrounded sum, kept for conservation checks.
	RawTotal decimal.Decimal `json:"-"`
}

// BrokerSet is the active roster. A nil set accepts every broker.
type BrokerSet map[int64]struct{}

// NewBrokerSet builds a roster from ids.
func NewBrokerSet(ids ...int64) BrokerSet {
	set := make(BrokerSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// Has reports roster membership.
func (s BrokerSet) Has(id int64) bool {
	if s == nil {
		return true
	}
	_, ok := s[id]
	return ok
}

// Allocation is the result of distributing one payment's AGCI.
type Allocation struct {
	Lines   []SplitLine
	Skipped []*ReferenceError
}

// ComputeSplit prices one broker's percentages against a payment AGCI.
// Category amounts are rounded individually; the broker total is the rounded
// unrounded sum, so it can differ by a cent from adding the rounded parts.
func ComputeSplit(agci decimal.Decimal, categories CategoryPercents, broker CategoryPercents) SplitLine {
	pools := categories.Pools(agci)
	orig := pools.Origination.Mul(Pct(broker.Origination))
	site := pools.Site.Mul(Pct(broker.Site))
	deal := pools.Deal.Mul(Pct(broker.Deal))
	raw := orig.Add(site).Add(deal)
	return SplitLine{
		OriginationPercent: broker.Origination,
		SitePercent:        broker.Site,
		DealPercent:        broker.Deal,
		OriginationUSD:     Round2(orig),
		SiteUSD:            Round2(site),
		DealUSD:            Round2(deal),
		BrokerTotal:        Round2(raw),
		RawTotal:           raw,
	}
}

// Allocate distributes AGCI across the commission template. Rows naming a
// broker outside the roster, or a broker already allocated, are skipped and
// reported; the remaining rows are still allocated.
func Allocate(agci decimal.Decimal, template []TemplateRow, categories CategoryPercents, roster BrokerSet) Allocation {
	out := Allocation{Lines: make([]SplitLine, 0, len(template))}
	seen := make(map[int64]struct{}, len(template))
	for _, row := range template {
		if !roster.Has(row.BrokerID) {
			out.Skipped = append(out.Skipped, &ReferenceError{BrokerID: row.BrokerID, Err: ErrUnknownBroker})
			continue
		}
		if _, dup := seen[row.BrokerID]; dup {
			out.Skipped = append(out.Skipped, &ReferenceError{BrokerID: row.BrokerID, Err: ErrDuplicateBroker})
			continue
		}
		seen[row.BrokerID] = struct{}{}
		line := ComputeSplit(agci, categories, row.Percents())
		line.BrokerID = row.BrokerID
		out.Lines = append(out.Lines, line)
	}
	return out
}
