package commission

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func scenarioTerms() DealTerms {
	return DealTerms{
		DealID:           1,
		Fee:              dec("20000"),
		HouseCutPercent:  "45",
		NumberOfPayments: intPtr(4),
		Categories:       CategoryPercents{Origination: dec("20"), Site: dec("10"), Deal: dec("10")},
		Template: []TemplateRow{
			{BrokerID: 7, OriginationPercent: dec("13.75"), SitePercent: dec("6.875"), DealPercent: dec("6.875")},
		},
	}
}

func TestScenarioSingleBroker(t *testing.T) {
	terms := scenarioTerms()
	policy := DefaultPolicy()

	amount, err := terms.InstallmentAmount()
	require.NoError(t, err)
	requireDec(t, "5000", amount)

	derived := policy.Derive(amount, nil, terms)
	requireDec(t, "0", derived.ReferralFeeUSD)
	requireDec(t, "5000", derived.GCI)
	requireDec(t, "2750", derived.AGCI)

	pools := terms.Categories.Pools(derived.AGCI)
	requireDec(t, "550", pools.Origination)
	requireDec(t, "275", pools.Site)

	alloc := Allocate(derived.AGCI, terms.Template, terms.Categories, NewBrokerSet(7))
	require.Empty(t, alloc.Skipped)
	require.Len(t, alloc.Lines, 1)
	line := alloc.Lines[0]
	require.Equal(t, int64(7), line.BrokerID)
	requireDec(t, "75.63", line.OriginationUSD)
	requireDec(t, "18.91", line.SiteUSD)
	requireDec(t, "18.91", line.DealUSD)
	requireDec(t, "113.44", line.BrokerTotal)
	requireDec(t, "113.4375", line.RawTotal)
}

func TestAllocateSkipsUnknownBrokers(t *testing.T) {
	template := []TemplateRow{
		{BrokerID: 1, OriginationPercent: dec("50"), SitePercent: dec("50"), DealPercent: dec("50")},
		{BrokerID: 99, OriginationPercent: dec("25"), SitePercent: dec("25"), DealPercent: dec("25")},
		{BrokerID: 2, OriginationPercent: dec("25"), SitePercent: dec("25"), DealPercent: dec("25")},
		{BrokerID: 1, OriginationPercent: dec("10"), SitePercent: dec("10"), DealPercent: dec("10")},
	}
	cats := CategoryPercents{Origination: dec("40"), Site: dec("30"), Deal: dec("30")}

	alloc := Allocate(dec("1000"), template, cats, NewBrokerSet(1, 2))

	require.Len(t, alloc.Lines, 2)
	require.Equal(t, int64(1), alloc.Lines[0].BrokerID)
	require.Equal(t, int64(2), alloc.Lines[1].BrokerID)
	requireDec(t, "500", alloc.Lines[0].BrokerTotal)
	requireDec(t, "250", alloc.Lines[1].BrokerTotal)

	require.Len(t, alloc.Skipped, 2)
	require.Equal(t, int64(99), alloc.Skipped[0].BrokerID)
	require.True(t, errors.Is(alloc.Skipped[0], ErrUnknownBroker))
	require.True(t, errors.Is(alloc.Skipped[1], ErrDuplicateBroker))
}

func TestAllocateNilRosterAcceptsAll(t *testing.T) {
	template := []TemplateRow{{BrokerID: 5, OriginationPercent: dec("100")}}
	alloc := Allocate(dec("100"), template, CategoryPercents{Origination: dec("100")}, nil)
	require.Len(t, alloc.Lines, 1)
	requireDec(t, "100", alloc.Lines[0].BrokerTotal)
}

func TestAllocateConservesFullRoster(t *testing.T) {
	template := []TemplateRow{
		{BrokerID: 1, OriginationPercent: dec("60"), SitePercent: dec("50"), DealPercent: dec("100")},
		{BrokerID: 2, OriginationPercent: dec("40"), SitePercent: dec("50"), DealPercent: dec("0")},
	}
	cats := CategoryPercents{Origination: dec("50"), Site: dec("30"), Deal: dec("20")}
	require.True(t, cats.Sum().Equal(decimal.NewFromInt(100)))
	coverage := RosterCoverage(template)
	requireDec(t, "100", coverage.Origination)
	requireDec(t, "100", coverage.Site)
	requireDec(t, "100", coverage.Deal)

	for _, agci := range []string{"1000.01", "2750", "0.03", "48.13"} {
		alloc := Allocate(dec(agci), template, cats, NewBrokerSet(1, 2))
		total := decimal.Zero
		raw := decimal.Zero
		for _, line := range alloc.Lines {
			total = total.Add(line.BrokerTotal)
			raw = raw.Add(line.RawTotal)
		}
		require.True(t, raw.Equal(dec(agci)), "raw sum %s for %s", raw, agci)
		require.True(t, total.Sub(dec(agci)).Abs().LessThanOrEqual(Cent), "total %s for %s", total, agci)
	}
}

func TestParsePercent(t *testing.T) {
	v, ok := ParsePercent("12.5%")
	require.True(t, ok)
	requireDec(t, "12.5", v)

	for _, raw := range []string{"", " ", "%", "abc", "100.01", "-1"} {
		_, ok := ParsePercent(raw)
		require.False(t, ok, raw)
	}
}
