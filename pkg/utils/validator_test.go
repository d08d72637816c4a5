package utils

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"valid SOLUSDT", "SOLUSDT", false},
		{"valid lowercase", "solusdt", false},
		{"valid with hyphen", "SOL-USDT", false},
		{"valid with underscore", "SOL_USDT", false},
		{"valid with numbers", "1000PEPEUSDT", false},

		{"empty", "", true},
		{"single char", "S", true},
		{"too long", "SOLUSDTSOLUSDTSOLUSDTSOLUSDTXXX", true},
		{"special chars", "SOL@USDT", true},
		{"spaces", "SOL USDT", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSymbol) {
				t.Errorf("expected ErrInvalidSymbol, got %v", err)
			}
		})
	}
}

func TestNormalizeSymbol(t *testing.T) {
	tests := map[string]string{
		"solusdt":   "SOLUSDT",
		"sol-usdt":  "SOLUSDT",
		"SOL_USDT":  "SOLUSDT",
		"sol/usdt":  "SOLUSDT",
		" SOLUSDT ": "SOLUSDT",
	}
	for in, want := range tests {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateNumbers(t *testing.T) {
	if err := ValidatePrice(0); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("ValidatePrice(0) = %v, want ErrInvalidPrice", err)
	}
	if err := ValidatePrice(1.5); err != nil {
		t.Errorf("ValidatePrice(1.5) = %v", err)
	}
	if err := ValidatePercentage(33, 100); err != nil {
		t.Errorf("ValidatePercentage(33) = %v", err)
	}
	if err := ValidatePercentage(150, 100); !errors.Is(err, ErrInvalidPercentage) {
		t.Errorf("ValidatePercentage(150) = %v", err)
	}
	if err := ValidateLeverage(0); !errors.Is(err, ErrInvalidLeverage) {
		t.Errorf("ValidateLeverage(0) = %v", err)
	}
	if err := ValidateLeverage(3); err != nil {
		t.Errorf("ValidateLeverage(3) = %v", err)
	}
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors

	errs.AddError("symbol", nil)
	if errs.HasErrors() {
		t.Error("AddError(nil) should not add error")
	}

	errs.Add("price", "must be positive")
	errs.AddError("symbol", ErrInvalidSymbol)

	if len(errs) != 2 {
		t.Fatalf("ValidationErrors length = %d, want 2", len(errs))
	}
	msg := errs.Error()
	if !strings.Contains(msg, "price: must be positive") || !strings.Contains(msg, "symbol: invalid symbol") {
		t.Errorf("unexpected message: %s", msg)
	}
}
