// Package projection computes the derived numbers behind the balance
// views: how much should currently sit in an account to cover its
// periodic expenses, and when the next payment will occur.
package projection

import (
	"math"
	"time"

	"hushold/internal/core"
)

// Engine is stateless apart from its clock. Every operation is a pure
// function of the account/expense snapshot and the reference date; the
// clock only supplies the reference date when the caller gives none.
type Engine struct {
	now func() time.Time
}

// NewEngine returns an engine using the system clock.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineAt returns an engine with a fixed clock, for tests and
// what-if evaluations.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// floorDate normalizes a date to the first instant of its month. Only
// year and month are semantically meaningful to the engine.
func floorDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthsBetween returns the whole-month difference from one date to
// another. Both dates are expected to be floored.
func monthsBetween(from, to time.Time) int {
	years := to.Year() - from.Year()
	return int(to.Month()) - int(from.Month()) + 12*years
}

// NextPaymentDateAfter returns the first payment date of the expense
// strictly after the given date. Monthly expenses pay on the first of
// the following month. A payment month equal to the floored reference
// date counts as already passed and rolls to next year. Returns false
// when the expense has no payment dates and is not monthly.
func (en *Engine) NextPaymentDateAfter(e core.Expense, start time.Time) (time.Time, bool) {
	start = floorDate(start)

	if e.IsMonthly() {
		return start.AddDate(0, 1, 0), true
	}

	var next time.Time
	found := false
	for _, d := range e.PaymentDates {
		candidate := time.Date(start.Year(), d.Month, 1, 0, 0, 0, 0, time.UTC)
		if !candidate.After(start) {
			candidate = candidate.AddDate(1, 0, 0)
		}
		if !found || candidate.Before(next) {
			next = candidate
			found = true
		}
	}
	return next, found
}

// NextPaymentDate returns the expense's next payment date from now.
func (en *Engine) NextPaymentDate(e core.Expense) (time.Time, bool) {
	return en.NextPaymentDateAfter(e, en.now())
}

// NextAccountPaymentDate returns the earliest upcoming payment date
// across the account's enabled expenses. Ties keep the first expense
// encountered.
func (en *Engine) NextAccountPaymentDate(a core.Account) (time.Time, bool) {
	var next time.Time
	found := false
	for _, e := range a.Expenses {
		if !e.Enabled {
			continue
		}
		candidate, ok := en.NextPaymentDate(e)
		if !ok {
			continue
		}
		if !found || candidate.Before(next) {
			next = candidate
			found = true
		}
	}
	return next, found
}

// AccountBalanceOn returns the amount that should be on the account as
// of the given date to avoid overdrawing. For each enabled periodic
// expense, the contribution is the expense's amount minus what the
// remaining monthly transfers will still bring in before the next
// payment, rounded up per expense. Monthly expenses are covered by
// ongoing income and never contribute.
func (en *Engine) AccountBalanceOn(a core.Account, date time.Time) float64 {
	date = floorDate(date)
	var balance float64

	for _, e := range a.Expenses {
		if !e.Enabled || e.IsMonthly() {
			continue
		}

		next, ok := en.NextPaymentDateAfter(e, date)
		if !ok {
			continue
		}

		remainingTransfers := monthsBetween(date, next)
		notYetTransferred := e.MonthlyAmountTotalShared() * float64(remainingTransfers)
		balance += math.Ceil(e.Amount - notYetTransferred)
	}

	return balance
}

// CurrentBalance returns the account balance required as of now.
func (en *Engine) CurrentBalance(a core.Account) float64 {
	return en.AccountBalanceOn(a, en.now())
}

// ExpensesIn returns the account's enabled periodic expenses with a
// payment date in the given month, in the account's expense order.
func (en *Engine) ExpensesIn(a core.Account, month time.Month) []core.Expense {
	var expenses []core.Expense
	for _, e := range a.Expenses {
		if !e.Enabled || e.IsMonthly() {
			continue
		}
		if e.PaidIn(month) {
			expenses = append(expenses, e)
		}
	}
	return expenses
}

// MonthlyBudgetTransferAmount returns the recurring monthly transfer
// into the account's sinking fund: the total-shared monthly proration
// of every enabled periodic expense. Monthly bills are excluded since
// they are paid directly from income.
func (en *Engine) MonthlyBudgetTransferAmount(a core.Account) float64 {
	var amount float64
	for _, e := range a.Expenses {
		if !e.Enabled || e.IsMonthly() {
			continue
		}
		amount += e.MonthlyAmountTotalShared()
	}
	return amount
}
