package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arbitrage/internal/breaker"
	"arbitrage/internal/models"
	"arbitrage/internal/scanner"
)

// PartialResolver is the operator entry point for unwinding a PARTIAL
// trade; internal/engine satisfies it.
type PartialResolver interface {
	ResolvePartial(ctx context.Context, tradeID string) (*models.Trade, error)
}

// Dependencies carries the status surface's backing collaborators.
// There is no CRUD here: the operator UI, exchange connection
// management, and pair configuration that the teacher's Dependencies
// wired through handlers/services are all out of this engine's scope
// (spec §1 Non-goals) — trading knobs are set once via internal/config
// and changed by redeploying, not by API call. The one mutating route
// is the partial-trade resolution spec §4.5 explicitly makes an
// operator-initiated entry point.
type Dependencies struct {
	Breaker  *breaker.Breaker
	Scanner  *scanner.Scanner
	Resolver PartialResolver
}

// SetupRoutes builds the engine's thin HTTP surface:
//
//	GET /health          - liveness probe
//	GET /status          - breaker state + cached opportunity count
//	GET /metrics         - Prometheus exposition
//	GET /debug/pprof/*   - profiling endpoints
//	GET /debug/runtime   - goroutine/heap counters
//	POST /trades/{id}/resolve - operator resolution of a PARTIAL trade
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		statusHandler(deps, w, r)
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/trades/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		resolveHandler(deps, w, r)
	}).Methods("POST")

	debug := router.PathPrefix("/debug/pprof").Subrouter()
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.HandleFunc("/heap", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("heap").ServeHTTP(w, r) })
	debug.HandleFunc("/goroutine", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("goroutine").ServeHTTP(w, r) })
	debug.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("block").ServeHTTP(w, r) })
	debug.HandleFunc("/threadcreate", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("threadcreate").ServeHTTP(w, r) })
	debug.HandleFunc("/mutex", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("mutex").ServeHTTP(w, r) })
	debug.HandleFunc("/allocs", func(w http.ResponseWriter, r *http.Request) { pprof.Handler("allocs").ServeHTTP(w, r) })

	router.HandleFunc("/debug/runtime", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{`))
		w.Write([]byte(`"goroutines":` + itoa(runtime.NumGoroutine()) + `,`))
		w.Write([]byte(`"heap_alloc_mb":` + ftoa(float64(m.HeapAlloc)/1024/1024) + `,`))
		w.Write([]byte(`"heap_sys_mb":` + ftoa(float64(m.HeapSys)/1024/1024) + `,`))
		w.Write([]byte(`"num_gc":` + itoa(int(m.NumGC)) + `,`))
		w.Write([]byte(`"gc_pause_total_ms":` + ftoa(float64(m.PauseTotalNs)/1e6)))
		w.Write([]byte(`}`))
	}).Methods("GET")

	return router
}

type statusResponse struct {
	IsBroken            bool    `json:"is_broken"`
	BrokenReason        string  `json:"broken_reason,omitempty"`
	IsExecuting         bool    `json:"is_executing"`
	DailyProfit         float64 `json:"daily_profit"`
	DailyLoss           float64 `json:"daily_loss"`
	TotalProfit         float64 `json:"total_profit"`
	TotalLoss           float64 `json:"total_loss"`
	PartialTrades       int     `json:"partial_trades"`
	CachedOpportunities int     `json:"cached_opportunities"`
	CacheAgeMS          int64   `json:"cache_age_ms"`
}

func statusHandler(deps *Dependencies, w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{}
	if deps != nil && deps.Breaker != nil {
		s := deps.Breaker.Snapshot()
		resp.IsBroken = s.IsBroken
		resp.BrokenReason = s.BrokenReason
		resp.IsExecuting = s.IsExecuting
		resp.DailyProfit = s.DailyProfit
		resp.DailyLoss = s.DailyLoss
		resp.TotalProfit = s.TotalProfit
		resp.TotalLoss = s.TotalLoss
		resp.PartialTrades = s.PartialTrades
	}
	if deps != nil && deps.Scanner != nil {
		opps, age := deps.Scanner.CachedOpportunities()
		resp.CachedOpportunities = len(opps)
		resp.CacheAgeMS = age
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func resolveHandler(deps *Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps == nil || deps.Resolver == nil {
		http.Error(w, "resolution not available", http.StatusServiceUnavailable)
		return
	}
	id := mux.Vars(r)["id"]
	t, err := deps.Resolver.ResolvePartial(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"trade_id":        t.ID,
		"status":          string(t.Status),
		"amount_out":      t.AmountOut,
		"profit_loss":     t.ProfitLoss,
		"profit_loss_pct": t.ProfitLossPct,
	})
}

// itoa/ftoa avoid pulling in fmt for the two integer/float fields the
// runtime debug endpoint formats, matching the teacher's
// allocation-free JSON assembly in this same file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	pos := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		b[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		b[pos] = '-'
	}
	return string(b[pos:])
}

func ftoa(f float64) string {
	i := int(f * 100)
	whole := i / 100
	frac := i % 100
	if frac < 0 {
		frac = -frac
	}
	fracStr := itoa(frac)
	if len(fracStr) == 1 {
		fracStr = "0" + fracStr
	}
	return itoa(whole) + "." + fracStr
}
