package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "yes", want: true},
		{input: "YES", want: true},
		{input: "  Yes ", want: true},
		{input: "no", want: false},
		{input: "y", want: false},
		{input: "true", want: false},
		{input: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseDecision(tt.input); got != tt.want {
				t.Fatalf("ParseDecision(%q) = %t, want %t", tt.input, got, tt.want)
			}
		})
	}
}

func TestSetApprovalMovesStatusWithFlag(t *testing.T) {
	account := NewPendingAccount(1, SavingsAccount, decimal.NewFromInt(10), time.Now())
	if account.Approved || account.Status != AccountStatusDisabled || account.ApprovedBy != nil {
		t.Fatalf("expected new account to be pending, got %+v", account)
	}

	account.SetApproval(true, 9)
	if !account.Approved || account.Status != AccountStatusEnabled || *account.ApprovedBy != 9 {
		t.Fatalf("expected approved by 9, got %+v", account)
	}

	account.SetApproval(false, 10)
	if account.Approved || account.Status != AccountStatusDisabled || *account.ApprovedBy != 10 {
		t.Fatalf("expected pending with last actor 10, got %+v", account)
	}
}

func TestAccountCloneIsDeep(t *testing.T) {
	account := NewPendingAccount(1, CurrentAccount, decimal.Zero, time.Now())
	account.SetApproval(true, 9)
	account.Transactions = []Transaction{{Amount: decimal.NewFromInt(1)}}

	cp := account.Clone()
	*cp.ApprovedBy = 99
	cp.Transactions[0].Amount = decimal.NewFromInt(2)

	if *account.ApprovedBy != 9 || !account.Transactions[0].Amount.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("clone shares memory with the original")
	}
}

func TestNewBeneficiaryIsDateOnly(t *testing.T) {
	now := time.Date(2024, 5, 1, 17, 45, 12, 0, time.UTC)
	b := NewBeneficiary(3, 200, now)
	if b.Approved || !b.Active {
		t.Fatalf("expected unapproved and active, got %+v", b)
	}
	if !b.AddedDate.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected date-only added date, got %s", b.AddedDate)
	}
}

func TestBeneficiaryListOrder(t *testing.T) {
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := &Customer{Beneficiaries: map[int64]*Beneficiary{
		300: {ID: 3, AccountNumber: 300, AddedDate: day},
		100: {ID: 1, AccountNumber: 100, AddedDate: day.AddDate(0, 0, 1)},
		200: {ID: 2, AccountNumber: 200, AddedDate: day},
	}}
	list := c.BeneficiaryList()
	if list[0].ID != 2 || list[1].ID != 3 || list[2].ID != 1 {
		t.Fatalf("unexpected order %+v", list)
	}

	if b, ok := c.BeneficiaryByID(3); !ok || b.AccountNumber != 300 {
		t.Fatalf("expected beneficiary 3, got %+v", b)
	}
	if _, ok := c.BeneficiaryByID(42); ok {
		t.Fatalf("expected miss for unknown id")
	}
}

func TestCustomerHasRole(t *testing.T) {
	c := &Customer{Roles: []Role{RoleCustomer}}
	if c.HasRole(RoleStaff) || !c.HasRole(RoleCustomer) {
		t.Fatalf("unexpected role check for %+v", c.Roles)
	}
}

func TestFitsMoneyScale(t *testing.T) {
	tests := map[string]bool{
		"500":       true,
		"0.0001":    true,
		"12.340000": true,
		"0.00005":   false,
		"-1.23456":  false,
	}
	for raw, want := range tests {
		if got := FitsMoneyScale(decimal.RequireFromString(raw)); got != want {
			t.Fatalf("FitsMoneyScale(%s) = %t, want %t", raw, got, want)
		}
	}
}
