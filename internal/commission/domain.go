package commission

import (
	"github.com/shopspring/decimal"
)

// Category names one of the three commission credit pools.
type Category string

const (
	CategoryOrigination Category = "origination"
	CategorySite        Category = "site"
	CategoryDeal        Category = "deal"
)

// Categories lists the pools in display order.
var Categories = []Category{CategoryOrigination, CategorySite, CategoryDeal}

// CategoryPercents holds one percentage per pool.
type CategoryPercents struct {
	Origination decimal.Decimal `json:"origination"`
	Site        decimal.Decimal `json:"site"`
	Deal        decimal.Decimal `json:"deal"`
}

// Get returns the percentage for a category.
func (c CategoryPercents) Get(cat Category) decimal.Decimal {
	switch cat {
	case CategoryOrigination:
		return c.Origination
	case CategorySite:
		return c.Site
	case CategoryDeal:
		return c.Deal
	}
	return decimal.Zero
}

// Sum adds the three percentages.
func (c CategoryPercents) Sum() decimal.Decimal {
	return c.Origination.Add(c.Site).Add(c.Deal)
}

// Pools applies the percentages to a payment AGCI. Results are not rounded.
func (c CategoryPercents) Pools(agci decimal.Decimal) CategoryPercents {
	return CategoryPercents{
		Origination: agci.Mul(Pct(c.Origination)),
		Site:        agci.Mul(Pct(c.Site)),
		Deal:        agci.Mul(Pct(c.Deal)),
	}
}

// TemplateRow is one broker's share of each pool on a deal's commission template.
type TemplateRow struct {
	BrokerID           int64           `json:"brokerId"`
	OriginationPercent decimal.Decimal `json:"originationPercent"`
	SitePercent        decimal.Decimal `json:"sitePercent"`
	DealPercent        decimal.Decimal `json:"dealPercent"`
}

// Percents returns the row as CategoryPercents.
func (r TemplateRow) Percents() CategoryPercents {
	return CategoryPercents{Origination: r.OriginationPercent, Site: r.SitePercent, Deal: r.DealPercent}
}

// DealTerms are the commercial inputs owned by the deal editor.
type DealTerms struct {
	DealID             int64
	Fee                decimal.Decimal
	ReferralFeePercent *decimal.Decimal
	// HouseCutPercent is kept as entered; Policy.HouseCut resolves it.
	HouseCutPercent  string
	NumberOfPayments *int
	// TargetAGCI is only read by the legacy house cut ratio formula.
	TargetAGCI *decimal.Decimal
	Categories CategoryPercents
	Template   []TemplateRow
	Lost       bool
}

// Installments validates NumberOfPayments.
func (t DealTerms) Installments() (int, error) {
	if t.NumberOfPayments == nil {
		return 0, &ConfigurationError{DealID: t.DealID, Reason: "number of payments is not set"}
	}
	if *t.NumberOfPayments <= 0 {
		return 0, &ConfigurationError{DealID: t.DealID, Reason: "number of payments must be positive"}
	}
	return *t.NumberOfPayments, nil
}

// InstallmentAmount is fee / numberOfPayments rounded to cents.
func (t DealTerms) InstallmentAmount() (decimal.Decimal, error) {
	n, err := t.Installments()
	if err != nil {
		return decimal.Zero, err
	}
	return Round2(t.Fee.Div(decimal.NewFromInt(int64(n)))), nil
}

// RosterCoverage sums the template per category across brokers.
func RosterCoverage(template []TemplateRow) CategoryPercents {
	shares := make([]CategoryPercents, 0, len(template))
	for _, row := range template {
		shares = append(shares, row.Percents())
	}
	return Coverage(shares...)
}

// Coverage sums broker shares per category.
func Coverage(shares ...CategoryPercents) CategoryPercents {
	var out CategoryPercents
	for _, share := range shares {
		out.Origination = out.Origination.Add(share.Origination)
		out.Site = out.Site.Add(share.Site)
		out.Deal = out.Deal.Add(share.Deal)
	}
	return out
}
