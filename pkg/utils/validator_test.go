package utils

import "testing"

func TestValidateSymbol(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{"valid pair", "XBTUSD", false},
		{"valid short", "BTC", false},
		{"empty", "", true},
		{"lowercase", "xbtusd", true},
		{"too long", "ABCDEFGHIJK", true},
		{"special chars", "XBT-USD", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSymbol(tt.symbol)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", tt.symbol, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCycleLegs(t *testing.T) {
	tests := []struct {
		name       string
		currencies []string
		wantErr    bool
	}{
		{"3 legs", []string{"USD", "BTC", "ETH", "USD"}, false},
		{"4 legs", []string{"USD", "BTC", "ETH", "EUR", "USD"}, false},
		{"2 legs", []string{"USD", "BTC", "USD"}, true},
		{"5 legs", []string{"USD", "BTC", "ETH", "EUR", "LTC", "USD"}, true},
		{"not closed", []string{"USD", "BTC", "ETH", "EUR"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCycleLegs(tt.currencies)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCycleLegs(%v) error = %v, wantErr %v", tt.currencies, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTradeAmount(t *testing.T) {
	if err := ValidateTradeAmount(10); err != nil {
		t.Errorf("unexpected error for positive amount: %v", err)
	}
	if err := ValidateTradeAmount(0); err == nil {
		t.Error("expected error for zero amount")
	}
	if err := ValidateTradeAmount(-5); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", "abc123XYZ", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"leading space", " abc123", true},
		{"embedded newline", "abc\n123", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePct(t *testing.T) {
	if err := ValidatePct(0.005, 0, 0.009); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidatePct(0.02, 0, 0.009); err == nil {
		t.Error("expected error for out-of-range percentage")
	}
}
