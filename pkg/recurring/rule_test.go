package recurring

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validRule() Rule {
	return Rule{
		ID:        "r1",
		OwnerID:   1,
		Kind:      KindExpense,
		Amount:    decimal.NewFromFloat(49.90),
		Category:  "subscriptions",
		Account:   AccountBank,
		Frequency: Monthly,
		StartDate: date(2024, 1, 1),
		IsActive:  true,
	}
}

func TestRuleValidate(t *testing.T) {
	end := date(2023, 12, 1)
	tests := []struct {
		name      string
		mutate    func(*Rule)
		wantField string
	}{
		{"valid", func(r *Rule) {}, ""},
		{"valid with end date", func(r *Rule) { e := date(2024, 6, 1); r.EndDate = &e }, ""},
		{"end date equals start date", func(r *Rule) { e := date(2024, 1, 1); r.EndDate = &e }, ""},
		{"unknown kind", func(r *Rule) { r.Kind = "transfer" }, "kind"},
		{"empty kind", func(r *Rule) { r.Kind = "" }, "kind"},
		{"unknown account", func(r *Rule) { r.Account = "wallet" }, "account"},
		{"unknown frequency", func(r *Rule) { r.Frequency = "fortnightly" }, "frequency"},
		{"zero amount", func(r *Rule) { r.Amount = decimal.Zero }, "amount"},
		{"negative amount", func(r *Rule) { r.Amount = decimal.NewFromInt(-5) }, "amount"},
		{"missing start date", func(r *Rule) { r.StartDate = time.Time{} }, "startDate"},
		{"end before start", func(r *Rule) { r.EndDate = &end }, "endDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(&r)
			err := r.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}
