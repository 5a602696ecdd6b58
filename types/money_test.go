package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"New uppercase", New(2500, "CHF"), 2500, "chf", "CHF 25.00"},
		{"New default currency", New(100, ""), 100, "eur", "€1.00"},
		{"Zero", Zero("EUR"), 0, "eur", "€0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return EUR(100).Add(EUR(200)) }, EUR(300)},
		{"Subtract", func() Money { return EUR(500).Subtract(EUR(200)) }, EUR(300)},
		{"Multiply", func() Money { return EUR(100).Multiply(3) }, EUR(300)},
		{"Negate", func() Money { return EUR(100).Negate() }, EUR(-100)},
		{"MulRatio exact", func() Money { return EUR(15000).MulRatio(350, 100) }, EUR(52500)},
		{"MulRatio half down to even", func() Money { return EUR(12250).MulRatio(1, 100) }, EUR(122)},
		{"MulRatio half up to even", func() Money { return EUR(12350).MulRatio(1, 100) }, EUR(124)},
		{"MulRatio below half", func() Money { return EUR(12345).MulRatio(1, 100) }, EUR(123)},
		{"MulRatio repeating", func() Money { return EUR(100).MulRatio(1, 3) }, EUR(33)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = EUR(100).Add(USD(100))
}

func TestMoneyMulRatioZeroDenominator(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for zero denominator")
		}
	}()

	_ = EUR(100).MulRatio(1, 0)
}

func TestMoneyCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Money
		want int
	}{
		{"Equal", EUR(100), EUR(100), 0},
		{"Less", EUR(50), EUR(100), -1},
		{"Greater", EUR(200), EUR(100), 1},
		{"Negative less", EUR(-100), EUR(100), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare: got %d, want %d", got, tt.want)
			}
			if got := tt.a.LessThan(tt.b); got != (tt.want < 0) {
				t.Errorf("LessThan: got %v", got)
			}
			if got := tt.a.GreaterThan(tt.b); got != (tt.want > 0) {
				t.Errorf("GreaterThan: got %v", got)
			}
		})
	}
}

func TestMoneyPredicates(t *testing.T) {
	if !EUR(0).IsZero() || EUR(0).IsPositive() || EUR(0).IsNegative() {
		t.Error("zero predicates wrong")
	}
	if !EUR(1).IsPositive() || EUR(1).IsZero() {
		t.Error("positive predicates wrong")
	}
	if !EUR(-1).IsNegative() {
		t.Error("negative predicates wrong")
	}
}

func TestMoneyFormatMajor(t *testing.T) {
	tests := []struct {
		money    Money
		expected string
	}{
		{EUR(52500), "525.00"},
		{EUR(1), "0.01"},
		{EUR(0), "0.00"},
		{EUR(-4900), "-49.00"},
		{EUR(-1), "-0.01"},
		{New(12345, "jpy"), "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.money.FormatMajor(); got != tt.expected {
				t.Errorf("FormatMajor: got %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"150.00", 15000, false},
		{"150", 15000, false},
		{"1.5", 150, false},
		{"0.01", 1, false},
		{"150.005", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in, "EUR")
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(EUR(tt.want)) {
				t.Errorf("got %v, want %v", got, EUR(tt.want))
			}
		})
	}

	if _, err := ParseMoney("1.001", "eur"); !errors.Is(err, ErrPrecision) {
		t.Errorf("expected ErrPrecision, got %v", err)
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(EUR(52500))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	expected := `{"amount":52500,"currency":"eur","display":"€525.00"}`
	if string(data) != expected {
		t.Errorf("JSON: got %s, want %s", string(data), expected)
	}

	var back Money
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !back.Equal(EUR(52500)) {
		t.Errorf("Unmarshal: got %v", back)
	}
}

func TestSum(t *testing.T) {
	tests := []struct {
		name     string
		values   []Money
		expected Money
	}{
		{"Empty", nil, Zero("eur")},
		{"Single", []Money{EUR(100)}, EUR(100)},
		{"Multiple", []Money{EUR(100), EUR(200), EUR(300)}, EUR(600)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := Sum("eur", tt.values...); !result.Equal(tt.expected) {
				t.Errorf("Sum: got %v, want %v", result, tt.expected)
			}
		})
	}
}

func BenchmarkMulRatio(b *testing.B) {
	m := EUR(15000)
	for b.Loop() {
		_ = m.MulRatio(350, 100)
	}
}
