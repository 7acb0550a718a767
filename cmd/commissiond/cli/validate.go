package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/commission-engine/internal/reconcile"
)

// Exit codes returned by ValidateCommand.
const (
	ExitClean         = 0
	ExitError         = 1
	ExitDiscrepancies = 10
)

// Validator builds a validation report for one deal.
type Validator interface {
	Validate(ctx context.Context, dealID int64) (reconcile.Report, error)
}

// ValidateOptions defines available flags for the validate command.
type ValidateOptions struct {
	DealIDs    []int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ValidateCLI prints validation reports for operators.
type ValidateCLI struct {
	validator Validator
}

// NewValidateCLI constructs the command.
func NewValidateCLI(validator Validator) *ValidateCLI {
	return &ValidateCLI{validator: validator}
}

// ValidateCommand validates each deal and prints the reports. It returns
// ExitDiscrepancies when any deal has error severity issues.
func (c *ValidateCLI) ValidateCommand(ctx context.Context, opts ValidateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(opts.DealIDs) == 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "validate: at least one --deal is required")
		return ExitError
	}
	reports := make([]reconcile.Report, 0, len(opts.DealIDs))
	failed := false
	for _, id := range opts.DealIDs {
		if id <= 0 {
			_, _ = fmt.Fprintf(opts.Stderr, "validate: invalid deal id %d\n", id)
			return ExitError
		}
		rep, err := c.validator.Validate(ctx, id)
		if err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "validate: deal %d: %v\n", id, err)
			failed = true
			continue
		}
		reports = append(reports, rep)
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(reports); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "validate: encode json: %v\n", err)
			return ExitError
		}
	} else {
		for _, rep := range reports {
			if err := reconcile.WriteText(opts.Stdout, rep); err != nil {
				_, _ = fmt.Fprintf(opts.Stderr, "validate: write report: %v\n", err)
				return ExitError
			}
		}
	}

	if failed {
		return ExitError
	}
	for _, rep := range reports {
		if !rep.Clean() {
			return ExitDiscrepancies
		}
	}
	return ExitClean
}
