// Package equity tracks, per founder, total equity available against
// equity already committed through approved agreements.
package equity

import (
	"fmt"
	"time"

	"github.com/polycentric-game/signet/pkg/domain"
)

// Remaining is the equity a founder can still commit.
func Remaining(f *domain.Founder) domain.Percent {
	return f.TotalEquityAvailable.Sub(f.EquitySwapped)
}

// ValidateSwap checks proposed amounts for both sides against committed
// state. Pending proposals on other agreements are not reserved; only
// equity already committed counts.
func ValidateSwap(founderA, founderB *domain.Founder, amountA, amountB domain.Percent) domain.ValidationErrors {
	var errs domain.ValidationErrors

	if !amountA.IsPositive() {
		errs = append(errs, domain.FieldError{
			Field:   "equityFromCompanyA",
			Message: "equity from Company A must be greater than 0",
		})
	}
	if !amountB.IsPositive() {
		errs = append(errs, domain.FieldError{
			Field:   "equityFromCompanyB",
			Message: "equity from Company B must be greater than 0",
		})
	}

	if amountA.IsPositive() && amountA.GreaterThan(Remaining(founderA)) {
		errs = append(errs, domain.FieldError{
			Field:   "equityFromCompanyA",
			Message: insufficientMessage(founderA),
		})
	}
	if amountB.IsPositive() && amountB.GreaterThan(Remaining(founderB)) {
		errs = append(errs, domain.FieldError{
			Field:   "equityFromCompanyB",
			Message: insufficientMessage(founderB),
		})
	}
	return errs
}

func insufficientMessage(f *domain.Founder) string {
	return fmt.Sprintf("%s does not have enough equity available (%s%% remaining)",
		f.CompanyName, Remaining(f).String())
}

// Commit debits both founders. The state machine guarantees this runs
// exactly once per agreement/version pair, with founders re-read
// immediately before the call.
func Commit(founderA, founderB *domain.Founder, amountA, amountB domain.Percent, now time.Time) {
	founderA.EquitySwapped = founderA.EquitySwapped.Add(amountA)
	founderB.EquitySwapped = founderB.EquitySwapped.Add(amountB)
	founderA.UpdatedAt = now
	founderB.UpdatedAt = now
}
