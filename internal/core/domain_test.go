package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func paymentDates(expenseID int64, months ...time.Month) []PaymentDate {
	dates := make([]PaymentDate, len(months))
	for i, m := range months {
		dates[i] = PaymentDate{ID: int64(i + 1), ExpenseID: expenseID, Month: m}
	}
	return dates
}

func TestExpenseIsMonthly(t *testing.T) {
	tests := []struct {
		name   string
		months []time.Month
		want   bool
	}{
		{"no payment dates", nil, true},
		{"yearly", []time.Month{time.January}, false},
		{"half-yearly", []time.Month{time.January, time.July}, false},
		{"quarterly", []time.Month{time.February, time.May, time.August, time.November}, false},
		{"all twelve months", []time.Month{
			time.January, time.February, time.March, time.April,
			time.May, time.June, time.July, time.August,
			time.September, time.October, time.November, time.December,
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Expense{PaymentDates: paymentDates(1, tt.months...)}
			if got := e.IsMonthly(); got != tt.want {
				t.Errorf("IsMonthly() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpenseMonthlyAmount(t *testing.T) {
	tests := []struct {
		name            string
		amount          float64
		shared          bool
		months          []time.Month
		want            float64
		wantTotalShared float64
	}{
		{
			name:            "monthly expense charged in full",
			amount:          1200,
			months:          nil,
			want:            1200,
			wantTotalShared: 1200,
		},
		{
			name:            "shared monthly expense halves own share only",
			amount:          1200,
			shared:          true,
			months:          nil,
			want:            600,
			wantTotalShared: 1200,
		},
		{
			name:            "yearly expense prorated over twelve months",
			amount:          1200,
			months:          []time.Month{time.January},
			want:            100,
			wantTotalShared: 100,
		},
		{
			name:            "shared yearly expense halved before proration",
			amount:          1200,
			shared:          true,
			months:          []time.Month{time.January},
			want:            50,
			wantTotalShared: 100,
		},
		{
			name:            "half-yearly expense prorated over six months",
			amount:          600,
			months:          []time.Month{time.January, time.July},
			want:            100,
			wantTotalShared: 100,
		},
		{
			name:            "shared half-yearly expense",
			amount:          600,
			shared:          true,
			months:          []time.Month{time.January, time.July},
			want:            50,
			wantTotalShared: 100,
		},
		{
			name:            "quarterly expense prorated over three months",
			amount:          300,
			months:          []time.Month{time.February, time.May, time.August, time.November},
			want:            100,
			wantTotalShared: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Expense{
				Amount:       tt.amount,
				Shared:       tt.shared,
				PaymentDates: paymentDates(1, tt.months...),
			}
			if got := e.MonthlyAmount(); got != tt.want {
				t.Errorf("MonthlyAmount() = %v, want %v", got, tt.want)
			}
			if got := e.MonthlyAmountTotalShared(); got != tt.wantTotalShared {
				t.Errorf("MonthlyAmountTotalShared() = %v, want %v", got, tt.wantTotalShared)
			}
		})
	}
}

func TestAccountMonthlyAmount(t *testing.T) {
	account := Account{
		ID:   1,
		Name: "Budget",
		Expenses: []Expense{
			{Name: "Rent", Amount: 1200, Enabled: true},
			{Name: "Insurance", Amount: 1200, Enabled: true, PaymentDates: paymentDates(2, time.January)},
			{Name: "Old gym", Amount: 500, Enabled: false},
			{Name: "Internet", Amount: 600, Enabled: true, Shared: true},
		},
	}

	// 1200 + 100 + 0 + 300
	if got := account.MonthlyAmount(); got != 1600 {
		t.Fatalf("MonthlyAmount() = %v, want 1600", got)
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{Name: "Insurance", Amount: 450, PaymentDates: paymentDates(1, time.January, time.July)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected valid expense, got %v", err)
	}

	tests := []struct {
		name    string
		expense Expense
		wantErr error
	}{
		{"blank name", Expense{Name: "  ", Amount: 10}, ErrMissingName},
		{"zero amount", Expense{Name: "a", Amount: 0}, ErrInvalidAmount},
		{"negative amount", Expense{Name: "a", Amount: -5}, ErrInvalidAmount},
		{
			"bad schedule",
			Expense{Name: "a", Amount: 10, PaymentDates: paymentDates(1, time.January, time.February)},
			ErrInvalidSchedule,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.expense.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAccountRoundTrip(t *testing.T) {
	account := Account{
		ID:      7,
		Name:    "Shared bills",
		UserIDs: []string{"u1", "u2"},
		Expenses: []Expense{
			{
				ID:        3,
				Name:      "Insurance",
				Amount:    1234.56,
				Tag:       "Home",
				AccountID: 7,
				Enabled:   true,
				Shared:    true,
				PaymentDates: []PaymentDate{
					{ID: 1, ExpenseID: 3, Month: time.March, UserIDs: []string{"u1", "u2"}},
					{ID: 2, ExpenseID: 3, Month: time.September, UserIDs: []string{"u1", "u2"}},
				},
				UserIDs: []string{"u1", "u2"},
			},
		},
	}

	data, err := json.Marshal(account)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Account
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != account.ID || got.Name != account.Name {
		t.Fatalf("account fields lost: %+v", got)
	}
	if len(got.Expenses) != 1 || len(got.Expenses[0].PaymentDates) != 2 {
		t.Fatalf("list lengths lost: %+v", got)
	}
	e := got.Expenses[0]
	if e.Amount != 1234.56 || e.Tag != "Home" || !e.Shared || !e.Enabled {
		t.Fatalf("expense fields lost: %+v", e)
	}
	if e.PaymentDates[0].Month != time.March || e.PaymentDates[1].Month != time.September {
		t.Fatalf("payment months lost: %+v", e.PaymentDates)
	}
}
