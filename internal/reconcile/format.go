package reconcile

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var usd = message.NewPrinter(language.AmericanEnglish)

// FormatUSD renders a dollar amount with grouping, e.g. -$1,234.50.
func FormatUSD(v decimal.Decimal) string {
	f, _ := v.Round(2).Abs().Float64()
	s := usd.Sprintf("$%.2f", f)
	if v.Round(2).IsNegative() {
		return "-" + s
	}
	return s
}

// WriteText prints a report as an operator facing table.
func WriteText(w io.Writer, r Report) error {
	status := "CLEAN"
	if !r.Clean() {
		status = "DISCREPANCIES"
	}
	if _, err := fmt.Fprintf(w, "deal %d: %s (%d correct, %d incorrect rows, total difference %s)\n",
		r.DealID, status, r.CorrectRows, r.IncorrectRows, FormatUSD(r.TotalDifference)); err != nil {
		return err
	}
	if r.External != nil {
		if _, err := fmt.Fprintf(w, "external: %d matched, %d mismatched, %d missing\n",
			r.External.Matched, r.External.Mismatched, r.External.Missing); err != nil {
			return err
		}
	}
	if len(r.Issues) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tPAYMENT\tBROKER\tFIELD\tEXPECTED\tACTUAL\tDIFF")
	for _, issue := range r.Issues {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			issue.Kind, idOrDash(issue.PaymentID), idOrDash(issue.BrokerID), issue.Field,
			FormatUSD(issue.Expected), FormatUSD(issue.Actual), FormatUSD(issue.Difference))
	}
	return tw.Flush()
}

func idOrDash(id int64) string {
	if id == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", id)
}
