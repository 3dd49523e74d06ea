package exchange

import (
	"context"
	"time"
)

// Adapter is the narrow interface spec §9 calls ExchangeAdapter: the
// single seam behind which exchange-specific pair naming, fee parsing,
// and WS framing live, generalized from the teacher's wider per-exchange
// Exchange interface (internal/exchange's former futures-oriented shape)
// down to the capability set an implementer of a spot triangular-arb
// engine actually needs. A second adapter could be added without
// touching the graph/scanner/guard/executor.
type Adapter interface {
	Name() string

	// ListPairs fetches the active-pair catalog (precision, min size),
	// capped at maxPairs entries, for bootstrap discovery (spec §4.1
	// Startup). Which pairs survive the cap is up to the adapter.
	ListPairs(ctx context.Context, maxPairs int) ([]PairInfo, error)

	// StreamBooks connects to the public feed and invokes onUpdate for
	// every successfully applied snapshot or incremental update.
	StreamBooks(ctx context.Context, pairs []string, onUpdate func(BookMessage)) error

	// PlaceOrder issues AddOrder (spec §6): market or limit, buy or sell.
	PlaceOrder(ctx context.Context, req OrderRequest) (txID string, err error)

	// QueryOrder issues QueryOrders (spec §6).
	QueryOrder(ctx context.Context, txID string) (OrderStatus, error)

	// CancelOrder issues CancelOrder (spec §6).
	CancelOrder(ctx context.Context, txID string) error

	// Balance issues Balance() (spec §6).
	Balance(ctx context.Context) (map[string]float64, error)

	// Fees returns the current taker/maker fee tier (spec §6 TradeVolume).
	Fees(ctx context.Context, pair string) (taker, maker float64, err error)

	// Ticker returns the current top-of-book quote for pair via public
	// REST — a one-shot valuation lookup for callers that run before the
	// streaming books exist (startup recovery's held-position snapshot).
	Ticker(ctx context.Context, pair string) (bid, ask float64, err error)

	// Ping is the lightweight liveness probe TradeGuard runs before
	// committing to an execution (spec §4.4 check 5). It must hit an
	// unauthenticated endpoint so a failed probe means the venue is
	// unreachable, not that credentials are bad.
	Ping(ctx context.Context) error

	Close() error
}

// PairInfo is one row of the bootstrap pair catalog.
type PairInfo struct {
	Symbol          string
	Base            string
	Quote           string
	PricePrecision  int32
	VolumePrecision int32
	MinOrderSize    float64
}

// BookMessage is either a full snapshot (Snapshot=true, replaces the
// local book) or an incremental add/modify/delete (spec §4.1/§6).
type BookMessage struct {
	Pair       string
	Snapshot   bool
	Sequence   uint64
	Bids       []LevelUpdate
	Asks       []LevelUpdate
	ReceivedAt time.Time
}

// LevelUpdate is one price-level mutation; Size == 0 means delete.
type LevelUpdate struct {
	Price float64
	Size  float64
}

// OrderRequest is the AddOrder payload.
type OrderRequest struct {
	Pair      string
	Side      string // "buy" | "sell"
	OrderType string // "market" | "limit"
	Volume    float64
	Price     float64 // only meaningful when OrderType == "limit"
}

// OrderState mirrors the status enum QueryOrders exposes.
type OrderState string

const (
	OrderOpen     OrderState = "open"
	OrderClosed   OrderState = "closed"
	OrderCanceled OrderState = "canceled"
	OrderExpired  OrderState = "expired"
)

// OrderStatus is the QueryOrders reply (spec §6).
type OrderStatus struct {
	State       OrderState
	Price       float64
	VolumeExec  float64
	Fee         float64
	FeeCurrency string
}

// Error represents a private-channel failure, preserving the exchange's
// own error text for audit records (spec §7 "user-visible failure").
type Error struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *Error) Error() string { return e.Exchange + ": " + e.Message }

// Unwrap supports errors.Is()/errors.As().
func (e *Error) Unwrap() error { return e.Original }
