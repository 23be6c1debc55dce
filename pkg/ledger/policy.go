package ledger

import (
	"time"

	"github.com/tomaspk/lendbook/pkg/models"
	"github.com/tomaspk/lendbook/pkg/money"
)

const (
	// Every weekly loan is structured as 10 equal installments of
	// principal/10, independent of the stored tenure. Tenure only clamps the
	// schedule-implied expectation. TODO: confirm with product whether tenure
	// should drive the divisor before changing this.
	weeklyInstallmentDivisor = 10

	daysPerWeek  = 7
	daysPerMonth = 30
)

// WeeklyInstallment returns the fixed installment amount for a weekly loan.
func WeeklyInstallment(principal money.Money) money.Money {
	return principal.DivInt(weeklyInstallmentDivisor)
}

func daysSince(from, now time.Time) int {
	d := int(now.Sub(from).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// EvaluateStatus classifies a loan's delinquency given a paid total and the
// current time. It is pure: no store access, no mutation.
//
// The administrative states (closed, cancelled, defaulted) are never
// re-evaluated; only active, overdue and completed move automatically. A paid
// total at or above principal always wins, so a payment covering the full
// principal completes the loan regardless of the elapsed-time schedule.
func EvaluateStatus(l *models.Loan, totalPaid money.Money, now time.Time) models.LoanStatus {
	if l.Status.Administrative() {
		return l.Status
	}
	if totalPaid.Cmp(l.Principal) >= 0 {
		return models.StatusCompleted
	}

	days := daysSince(l.LoanDate, now)

	switch l.Type {
	case models.LoanTypeWeekly:
		expected := days / daysPerWeek
		if expected > l.Tenure {
			expected = l.Tenure
		}
		actual := totalPaid.FloorDiv(WeeklyInstallment(l.Principal))
		if actual < int64(expected) {
			return models.StatusOverdue
		}
		return models.StatusActive

	case models.LoanTypeMonthlyInterest:
		remaining := l.Principal.Sub(totalPaid).ClampZero()
		if days/daysPerMonth > l.Tenure && remaining.IsPositive() {
			return models.StatusOverdue
		}
		return models.StatusActive
	}

	return l.Status
}
