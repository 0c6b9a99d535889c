package core

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMissingName       = errors.New("missing name")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSchedule   = errors.New("invalid combination of months")
	ErrNotFound          = errors.New("not found")
	ErrAccountHasExpenses = errors.New("account still has expenses")
)

type (
	// PaymentDate marks one calendar month in which its expense is paid.
	// Day-of-month carries no meaning; payments land on the first of the month.
	PaymentDate struct {
		ID        int64      `json:"id"`
		ExpenseID int64      `json:"expenseId"`
		Month     time.Month `json:"month"`
		UserIDs   []string   `json:"userIds"`
	}

	// Expense is a recurring cost attached to an account. An expense with
	// zero or twelve payment dates is charged every month in full; any
	// other valid schedule is amortized across the year.
	Expense struct {
		ID           int64         `json:"id"`
		Name         string        `json:"name"`
		Amount       float64       `json:"amount"`
		Tag          string        `json:"tag,omitempty"`
		AccountID    int64         `json:"accountId"`
		Enabled      bool          `json:"enabled"`
		Shared       bool          `json:"shared"`
		PaymentDates []PaymentDate `json:"paymentDates"`
		UserIDs      []string      `json:"userIds"`
	}

	// Account is a named bucket owning a collection of expenses. The
	// expense list is populated on demand; derivations only consider the
	// expenses currently attached.
	Account struct {
		ID       int64     `json:"id"`
		Name     string    `json:"name"`
		UserIDs  []string  `json:"userIds"`
		Expenses []Expense `json:"expenses"`
	}

	// Settings is the per-user settings record.
	Settings struct {
		ID        int64   `json:"id"`
		UserID    string  `json:"userId"`
		Locale    string  `json:"locale"`
		Income    float64 `json:"income"`
		PartnerID string  `json:"partnerId,omitempty"`
	}
)

// IsMonthly reports whether the expense is charged identically every
// calendar month (zero or twelve configured payment months).
func (e Expense) IsMonthly() bool {
	n := len(e.PaymentDates)
	return n == 0 || n == 12
}

// MonthlyAmount returns the per-month cost of the expense on an own-share
// basis: shared expenses are halved before proration.
func (e Expense) MonthlyAmount() float64 {
	return e.monthlyAmount(true)
}

// MonthlyAmountTotalShared returns the per-month cost of the expense for
// the whole household, never halving shared expenses.
func (e Expense) MonthlyAmountTotalShared() float64 {
	return e.monthlyAmount(false)
}

// Order of operations matters: halve first when shared, then divide by
// the number of transfers per year.
func (e Expense) monthlyAmount(divideShared bool) float64 {
	amount := e.Amount
	if divideShared && e.Shared {
		amount /= 2
	}
	if e.IsMonthly() {
		return amount
	}
	transfers := 12 / len(e.PaymentDates)
	return amount / float64(transfers)
}

// Months returns the expense's payment months in payment-date order.
func (e Expense) Months() []time.Month {
	months := make([]time.Month, len(e.PaymentDates))
	for i, d := range e.PaymentDates {
		months[i] = d.Month
	}
	return months
}

// PaidIn reports whether the expense has a payment date in the given month.
func (e Expense) PaidIn(month time.Month) bool {
	for _, d := range e.PaymentDates {
		if d.Month == month {
			return true
		}
	}
	return false
}

// Validate checks the fields a user can get wrong on a form submission.
// The schedule is validated separately, before persistence, via NewSchedule.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return ErrMissingName
	}
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !ValidateCombination(e.Months()) {
		return ErrInvalidSchedule
	}
	return nil
}

// MonthlyAmount returns the sum of own-share monthly amounts over the
// account's enabled expenses. Disabled expenses contribute zero.
func (a Account) MonthlyAmount() float64 {
	var amount float64
	for _, e := range a.Expenses {
		if !e.Enabled {
			continue
		}
		amount += e.MonthlyAmount()
	}
	return amount
}

// Validate checks the account's user-editable fields.
func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrMissingName
	}
	return nil
}
