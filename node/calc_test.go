package node

import "testing"

func TestEvalArithmeticBasics(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"2 + 3", 5},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"10 % 3", 1},
		{"-5 + 2", -3},
		{"3.5 + 1.5", 5},
	}
	for _, c := range cases {
		got, err := evalArithmetic(c.expr)
		if err != nil {
			t.Fatalf("evalArithmetic(%q) returned error: %v", c.expr, err)
		}
		if got != c.want {
			t.Errorf("evalArithmetic(%q) = %v, want %v", c.expr, got, c.want)
		}
	}
}

func TestEvalArithmeticRejectsNonNumeric(t *testing.T) {
	cases := []string{
		"",
		"2 +",
		"import os",
		"1; 2",
		"__import__('os')",
		"2 ** 3",
	}
	for _, expr := range cases {
		if _, err := evalArithmetic(expr); err == nil {
			t.Errorf("evalArithmetic(%q) expected an error, got none", expr)
		}
	}
}

func TestEvalArithmeticRejectsDivisionByZero(t *testing.T) {
	if _, err := evalArithmetic("1 / 0"); err == nil {
		t.Fatal("expected division-by-zero error")
	}
}
