package models

// Currency is a short symbolic identifier (e.g. "USD", "BTC"). The
// canonical name is used throughout the core; ToWire/FromWire translate to
// and from the exchange's own symbol (e.g. BTC <-> XBT on Kraken-style
// venues).
type Currency string

// QuoteCurrencySet drives buy-vs-sell direction inference for leg
// planning (spec §4.5): if the "from" currency of a hop is in this set,
// the hop is realized by buying the pair to/from; otherwise by selling
// from/to.
type QuoteCurrencySet map[Currency]struct{}

// NewQuoteCurrencySet builds a set from a slice, generalizing the
// teacher's config-driven currency lists into a lookup structure.
func NewQuoteCurrencySet(symbols ...Currency) QuoteCurrencySet {
	s := make(QuoteCurrencySet, len(symbols))
	for _, c := range symbols {
		s[c] = struct{}{}
	}
	return s
}

// Contains reports whether c is a recognized quote currency.
func (s QuoteCurrencySet) Contains(c Currency) bool {
	_, ok := s[c]
	return ok
}

// DefaultQuoteCurrencies mirrors spec §4.3's default base set — fiat,
// stable, and the base quote cryptos that most pairs are quoted against.
var DefaultQuoteCurrencies = NewQuoteCurrencySet("USD", "USDT", "EUR", "BTC", "ETH")

// Pair is a unique ordered (base, quote) pair with a canonical wire
// identifier. Static attributes come from the bootstrap REST catalog
// fetch (spec §4.1 Startup).
type Pair struct {
	Symbol          string // canonical identifier, e.g. "XBTUSD"
	Base            Currency
	Quote           Currency
	PricePrecision  int32 // decimal places for price
	VolumePrecision int32 // decimal places for size
	MinOrderSize    float64
}

// WireSymbol maps a canonical currency to the exchange's own spelling for
// this pair's venue (e.g. BTC -> XBT on Kraken). Populated from the
// bootstrap catalog; falls back to the canonical name when no mapping is
// registered.
type WireSymbolTable map[Currency]string

func (t WireSymbolTable) ToWire(c Currency) string {
	if w, ok := t[c]; ok {
		return w
	}
	return string(c)
}

// FromWire is the inverse lookup: the canonical currency for an
// exchange spelling, or the spelling itself when no mapping exists.
func (t WireSymbolTable) FromWire(w string) Currency {
	for c, wire := range t {
		if wire == w {
			return c
		}
	}
	return Currency(w)
}
