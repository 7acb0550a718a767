// Package deals reads the commercial terms owned by the deal editor. The
// commission engine never caches them: every derivation starts from a fresh
// read so edits made elsewhere are always honoured.
package deals

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/commission-engine/internal/commission"
	"github.com/odyssey-erp/commission-engine/internal/platform/db"
)

// ErrDealNotFound is returned when the deal id does not exist.
var ErrDealNotFound = errors.New("deals: deal not found")

// StatusLost marks a deal that will not close.
const StatusLost = "LOST"

// dealRow mirrors the deals table with NUMERIC columns selected as text.
type dealRow struct {
	ID                 int64
	Status             string
	Fee                string
	ReferralFeePercent *string
	HouseCutPercent    *string
	NumberOfPayments   *int
	AGCI               *string
	OriginationPercent string
	SitePercent        string
	DealPercent        string
}

type templateRow struct {
	BrokerID           int64
	OriginationPercent string
	SitePercent        string
	DealPercent        string
}

func (r dealRow) terms(template []templateRow) (commission.DealTerms, error) {
	fee, err := db.ParseNumeric(r.Fee)
	if err != nil {
		return commission.DealTerms{}, err
	}
	referral, err := db.ParseNullableNumeric(r.ReferralFeePercent)
	if err != nil {
		return commission.DealTerms{}, err
	}
	target, err := db.ParseNullableNumeric(r.AGCI)
	if err != nil {
		return commission.DealTerms{}, err
	}
	cats, err := parsePercents(r.OriginationPercent, r.SitePercent, r.DealPercent)
	if err != nil {
		return commission.DealTerms{}, err
	}
	terms := commission.DealTerms{
		DealID:             r.ID,
		Fee:                fee,
		ReferralFeePercent: referral,
		NumberOfPayments:   r.NumberOfPayments,
		TargetAGCI:         target,
		Categories:         cats,
		Lost:               strings.EqualFold(r.Status, StatusLost),
	}
	if r.HouseCutPercent != nil {
		terms.HouseCutPercent = *r.HouseCutPercent
	}
	terms.Template = make([]commission.TemplateRow, 0, len(template))
	for _, row := range template {
		pcts, err := parsePercents(row.OriginationPercent, row.SitePercent, row.DealPercent)
		if err != nil {
			return commission.DealTerms{}, fmt.Errorf("deals: template broker %d: %w", row.BrokerID, err)
		}
		terms.Template = append(terms.Template, commission.TemplateRow{
			BrokerID:           row.BrokerID,
			OriginationPercent: pcts.Origination,
			SitePercent:        pcts.Site,
			DealPercent:        pcts.Deal,
		})
	}
	return terms, nil
}

func parsePercents(orig, site, deal string) (commission.CategoryPercents, error) {
	var out commission.CategoryPercents
	values := []*decimal.Decimal{&out.Origination, &out.Site, &out.Deal}
	for i, raw := range []string{orig, site, deal} {
		v, err := db.ParseNumeric(raw)
		if err != nil {
			return commission.CategoryPercents{}, err
		}
		*values[i] = v
	}
	return out, nil
}
