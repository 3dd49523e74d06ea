package config

import "testing"

func validTrading() TradingConfig {
	return TradingConfig{
		TradeAmount:           10,
		MinProfitThresholdPct: 0.05,
		MaxDailyLossUSD:       30,
		MaxTotalLossUSD:       30,
		MaxRetriesPerLeg:      2,
		OrderTimeoutSeconds:   15,
		BaseCurrency:          BaseCurrencyAll,
		OrderbookDepth:        25,
		MaxPairs:              300,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := &Config{
		Security: SecurityConfig{EncryptionKey: "01234567890123456789012345678901"},
		Trading:  validTrading(),
	}
	if err := cfg.Validate(10000); err != nil {
		t.Errorf("unexpected error for valid config: %v", err)
	}
}

func TestValidateRejectsMissingEncryptionKey(t *testing.T) {
	cfg := &Config{Trading: validTrading()}
	if err := cfg.Validate(10000); err == nil {
		t.Error("expected error for missing ENCRYPTION_KEY")
	}
}

func TestValidateRejectsWrongLengthEncryptionKey(t *testing.T) {
	cfg := &Config{
		Security: SecurityConfig{EncryptionKey: "too-short"},
		Trading:  validTrading(),
	}
	if err := cfg.Validate(10000); err == nil {
		t.Error("expected error for non-32-byte ENCRYPTION_KEY")
	}
}

func TestValidateTradeAmountEnum(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{EncryptionKey: "01234567890123456789012345678901"}, Trading: validTrading()}
	cfg.Trading.TradeAmount = 11
	if err := cfg.Validate(10000); err == nil {
		t.Error("expected error for trade_amount not in preset list")
	}
}

func TestValidateProfitThresholdRange(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{EncryptionKey: "01234567890123456789012345678901"}, Trading: validTrading()}
	cfg.Trading.MinProfitThresholdPct = 0.91
	if err := cfg.Validate(10000); err == nil {
		t.Error("expected error for min_profit_threshold above 0.9")
	}
}

func TestValidateRetriesBoundary(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{EncryptionKey: "01234567890123456789012345678901"}, Trading: validTrading()}
	cfg.Trading.MaxRetriesPerLeg = 5
	if err := cfg.Validate(10000); err != nil {
		t.Errorf("max_retries_per_leg=5 (upper boundary) should be accepted: %v", err)
	}
	cfg.Trading.MaxRetriesPerLeg = 6
	if err := cfg.Validate(10000); err == nil {
		t.Error("max_retries_per_leg=6 should be rejected")
	}
}

func TestValidateBaseCurrencyCustomRequiresList(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{EncryptionKey: "01234567890123456789012345678901"}, Trading: validTrading()}
	cfg.Trading.BaseCurrency = BaseCurrencyCustom
	if err := cfg.Validate(10000); err == nil {
		t.Error("expected error for CUSTOM base_currency with empty custom_currencies")
	}
	cfg.Trading.CustomCurrencies = []string{"USD"}
	if err := cfg.Validate(10000); err != nil {
		t.Errorf("unexpected error once custom_currencies is populated: %v", err)
	}
}

func TestValidateBaseCurrencyInvalidValue(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{EncryptionKey: "01234567890123456789012345678901"}, Trading: validTrading()}
	cfg.Trading.BaseCurrency = "JPY"
	if err := cfg.Validate(10000); err == nil {
		t.Error("expected error for unrecognized base_currency value")
	}
}

func TestValidateScanIntervalEnum(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{EncryptionKey: "01234567890123456789012345678901"}, Trading: validTrading()}
	if err := cfg.Validate(3000); err == nil {
		t.Error("expected error for scan_interval_ms not in enum")
	}
}

func TestValidateOrderbookDepthEnum(t *testing.T) {
	cfg := &Config{Security: SecurityConfig{EncryptionKey: "01234567890123456789012345678901"}, Trading: validTrading()}
	cfg.Trading.OrderbookDepth = 50
	if err := cfg.Validate(10000); err == nil {
		t.Error("expected error for orderbook_depth not in enum")
	}
}

func TestSplitNonEmptyDefault(t *testing.T) {
	if got := splitNonEmptyDefault("", []string{"USD"}); len(got) != 1 || got[0] != "USD" {
		t.Errorf("got %v, want [USD]", got)
	}
	if got := splitNonEmptyDefault("BTC, ETH ,USD", nil); len(got) != 3 {
		t.Errorf("got %v, want 3 elements", got)
	}
}
