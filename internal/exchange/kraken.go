package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"arbitrage/internal/models"
	"arbitrage/pkg/ratelimit"
)

// krakenWireSymbols covers the assets Kraken spells differently from
// their canonical tickers (spec §3's exchange-specific mapping table).
var krakenWireSymbols = models.WireSymbolTable{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// canonicalAsset strips Kraken's X/Z asset-class prefix (XXBT, ZUSD)
// and resolves the venue spelling to the canonical currency name used
// throughout the core.
func canonicalAsset(code string) string {
	if len(code) == 4 && (code[0] == 'X' || code[0] == 'Z') {
		code = code[1:]
	}
	return string(krakenWireSymbols.FromWire(code))
}

var kJSON = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	krakenBaseURL  = "https://api.kraken.com"
	krakenWSPublic = "wss://ws.kraken.com"
	krakenWSAuth   = "wss://ws-auth.kraken.com"
)

// Kraken implements Adapter against Kraken's REST + WebSocket APIs: the
// wire framing, HMAC signing, and nonce discipline this spec's private
// channel section describes. Grounded on the teacher's
// internal/exchange/bybit.go doRequest/sign skeleton, adapted to Kraken's
// own request-signing scheme (HMAC-SHA512 over SHA256(nonce+body), API-Sign
// header) per original_source's kraken_client.py.
type Kraken struct {
	apiKey    string
	apiSecret []byte // decoded base64 secret

	httpClient *HTTPClient
	logger     *zap.Logger

	wsPublic *WSReconnectManager

	nonce int64 // strictly monotonic nonce, seeded from wall time ms (spec §6)

	// restCounter models the venue's account-wide decay counter for
	// private queries; orderGate separately paces AddOrder/CancelOrder,
	// which Kraken throttles per-pair outside that counter.
	restCounter *ratelimit.Counter
	orderGate   *ratelimit.Counter

	bookDepth int

	onUpdate func(BookMessage)
}

// NewKraken builds an unauthenticated Kraken client; call Connect before
// issuing signed private-channel requests.
func NewKraken(logger *zap.Logger) *Kraken {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kraken{
		httpClient:  GetGlobalHTTPClient(),
		logger:      logger,
		nonce:       time.Now().UnixMilli(),
		restCounter: ratelimit.NewCounter(ratelimit.IntermediateTier()),
		// ~1 order call/s sustained with a burst of 4, conservative
		// against the venue's per-pair order rate rules.
		orderGate: ratelimit.NewCounter(ratelimit.Tier{Ceiling: 4, Decay: 1}),
		bookDepth: 25,
	}
}

func (k *Kraken) Name() string { return "kraken" }

// SetBookDepth selects the L2 depth requested on the public book
// subscription. Must be one of Kraken's supported depths (10, 25, 100,
// 500, 1000); call before StreamBooks.
func (k *Kraken) SetBookDepth(depth int) {
	if depth > 0 {
		k.bookDepth = depth
	}
}

// Connect decodes the base64 API secret and persists the api key. The
// nonce generator is already seeded from wall-clock time in
// NewKraken, satisfying the "strictly monotonic across restarts" contract
// when no persisted nonce store is available (spec §6).
func (k *Kraken) Connect(apiKey, apiSecretB64 string) error {
	secret, err := base64.StdEncoding.DecodeString(apiSecretB64)
	if err != nil {
		return fmt.Errorf("decode kraken api secret: %w", err)
	}
	k.apiKey = apiKey
	k.apiSecret = secret
	return nil
}

func (k *Kraken) nextNonce() int64 {
	return atomic.AddInt64(&k.nonce, 1)
}

// sign implements Kraken's documented API-Sign scheme:
// HMAC-SHA512(secret, path + SHA256(nonce + postdata)).
func (k *Kraken) sign(path string, nonce int64, postData string) string {
	sha := sha256.New()
	sha.Write([]byte(strconv.FormatInt(nonce, 10) + postData))
	hashed := sha.Sum(nil)

	mac := hmac.New(sha512.New, k.apiSecret)
	mac.Write([]byte(path))
	mac.Write(hashed)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (k *Kraken) privateRequest(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := k.throttle(ctx, path); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	nonce := k.nextNonce()
	params.Set("nonce", strconv.FormatInt(nonce, 10))
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, krakenBaseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build kraken request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", k.apiKey)
	req.Header.Set("API-Sign", k.sign(path, nonce, body))

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kraken request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read kraken response: %w", err)
	}

	var envelope struct {
		Error  []string            `json:"error"`
		Result jsoniter.RawMessage `json:"result"`
	}
	if err := kJSON.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode kraken envelope: %w", err)
	}
	if len(envelope.Error) > 0 {
		return nil, &Error{Exchange: "kraken", Message: strings.Join(envelope.Error, "; ")}
	}
	return envelope.Result, nil
}

// throttle routes a private endpoint to the right pacer: order
// placement/cancellation go through the order gate, everything else
// books one point against the account decay counter.
func (k *Kraken) throttle(ctx context.Context, path string) error {
	switch path {
	case "/0/private/AddOrder", "/0/private/CancelOrder":
		return k.orderGate.Wait(ctx, 1)
	default:
		return k.restCounter.Wait(ctx, 1)
	}
}

// ListPairs fetches AssetPairs (precision, min size) in one bootstrap
// REST call and returns at most maxPairs of them (all when maxPairs <= 0),
// in the iteration order of the decoded response map. It makes no Ticker
// call and does not rank pairs by 24h volume.
func (k *Kraken) ListPairs(ctx context.Context, maxPairs int) ([]PairInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, krakenBaseURL+"/0/public/AssetPairs", nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			WSName       string `json:"wsname"`
			Base         string `json:"base"`
			Quote        string `json:"quote"`
			PairDecimals int32  `json:"pair_decimals"`
			LotDecimals  int32  `json:"lot_decimals"`
			OrderMin     string `json:"ordermin"`
		} `json:"result"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := kJSON.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode asset pairs: %w", err)
	}
	if len(envelope.Error) > 0 {
		return nil, &Error{Exchange: "kraken", Message: strings.Join(envelope.Error, "; ")}
	}

	out := make([]PairInfo, 0, len(envelope.Result))
	for symbol, info := range envelope.Result {
		minSize, _ := strconv.ParseFloat(info.OrderMin, 64)
		// The wsname ("XBT/USD") is the identifier the public book feed
		// frames carry, so it becomes the pair's canonical Symbol; the
		// REST map key is a fallback for dark/legacy rows without one.
		if info.WSName != "" {
			symbol = info.WSName
		}
		out = append(out, PairInfo{
			Symbol:          symbol,
			Base:            canonicalAsset(info.Base),
			Quote:           canonicalAsset(info.Quote),
			PricePrecision:  info.PairDecimals,
			VolumePrecision: info.LotDecimals,
			MinOrderSize:    minSize,
		})
		if maxPairs > 0 && len(out) >= maxPairs {
			break
		}
	}
	return out, nil
}

// StreamBooks connects to Kraken's public WebSocket feed and subscribes
// to the "book" channel for every pair, dispatching snapshot/update
// messages to onUpdate. Reconnection, ping keepalive, and resubscribe-
// on-reconnect are delegated to WSReconnectManager (spec §4.1 Steady
// state / Failures).
func (k *Kraken) StreamBooks(ctx context.Context, pairs []string, onUpdate func(BookMessage)) error {
	k.onUpdate = onUpdate

	mgr := NewWSReconnectManager("kraken-public", krakenWSPublic, DefaultWSReconnectConfig(), k.logger)
	k.wsPublic = mgr

	mgr.SetOnMessage(k.handlePublicMessage)

	// Registered before Connect so the manager's resubscribe replays it
	// on the initial dial and again after every reconnect.
	mgr.AddSubscription(map[string]interface{}{
		"event": "subscribe",
		"pair":  pairs,
		"subscription": map[string]interface{}{
			"name":  "book",
			"depth": k.bookDepth,
		},
	})

	if err := mgr.Connect(); err != nil {
		return fmt.Errorf("connect kraken public feed: %w", err)
	}

	<-ctx.Done()
	return mgr.Close()
}

func (k *Kraken) handlePublicMessage(raw []byte) {
	if k.onUpdate == nil {
		return
	}
	// Kraken frames array-shaped channel updates as
	// [channelID, data, channelName, pair]; snapshots carry "as"/"bs",
	// incrementals carry "a"/"b". Parsed generically here and left to
	// the ingress to apply against its own sequence counters.
	var frame []jsoniter.RawMessage
	if err := kJSON.Unmarshal(raw, &frame); err != nil || len(frame) < 4 {
		return
	}
	var pair string
	_ = kJSON.Unmarshal(frame[len(frame)-1], &pair)

	var payload map[string]jsoniter.RawMessage
	if err := kJSON.Unmarshal(frame[1], &payload); err != nil {
		return
	}

	msg := BookMessage{Pair: pair, ReceivedAt: time.Now()}
	if asks, ok := payload["as"]; ok {
		msg.Snapshot = true
		msg.Asks = decodeLevels(asks)
		if bids, ok := payload["bs"]; ok {
			msg.Bids = decodeLevels(bids)
		}
	} else {
		if asks, ok := payload["a"]; ok {
			msg.Asks = decodeLevels(asks)
		}
		if bids, ok := payload["b"]; ok {
			msg.Bids = decodeLevels(bids)
		}
	}
	k.onUpdate(msg)
}

func decodeLevels(raw jsoniter.RawMessage) []LevelUpdate {
	var rows [][]string
	if err := kJSON.Unmarshal(raw, &rows); err != nil {
		return nil
	}
	out := make([]LevelUpdate, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, _ := strconv.ParseFloat(row[0], 64)
		size, _ := strconv.ParseFloat(row[1], 64)
		out = append(out, LevelUpdate{Price: price, Size: size})
	}
	return out
}

// restPair converts a canonical "XBT/USD" symbol into the altname form
// the REST endpoints accept.
func restPair(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// PlaceOrder issues AddOrder.
func (k *Kraken) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	params := url.Values{}
	params.Set("pair", restPair(req.Pair))
	params.Set("type", req.Side)
	params.Set("ordertype", req.OrderType)
	params.Set("volume", strconv.FormatFloat(req.Volume, 'f', -1, 64))
	if req.OrderType == "limit" {
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
	}

	result, err := k.privateRequest(ctx, "/0/private/AddOrder", params)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Txid []string `json:"txid"`
	}
	if err := kJSON.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("decode AddOrder result: %w", err)
	}
	if len(parsed.Txid) == 0 {
		return "", &Error{Exchange: "kraken", Message: "AddOrder returned no txid"}
	}
	return parsed.Txid[0], nil
}

// QueryOrder issues QueryOrders.
func (k *Kraken) QueryOrder(ctx context.Context, txID string) (OrderStatus, error) {
	params := url.Values{}
	params.Set("txid", txID)

	result, err := k.privateRequest(ctx, "/0/private/QueryOrders", params)
	if err != nil {
		return OrderStatus{}, err
	}
	var parsed map[string]struct {
		Status  string `json:"status"`
		Price   string `json:"price"`
		VolExec string `json:"vol_exec"`
		Fee     string `json:"fee"`
	}
	if err := kJSON.Unmarshal(result, &parsed); err != nil {
		return OrderStatus{}, fmt.Errorf("decode QueryOrders result: %w", err)
	}
	row, ok := parsed[txID]
	if !ok {
		return OrderStatus{}, &Error{Exchange: "kraken", Message: "unknown txid " + txID}
	}
	price, _ := strconv.ParseFloat(row.Price, 64)
	volExec, _ := strconv.ParseFloat(row.VolExec, 64)
	fee, _ := strconv.ParseFloat(row.Fee, 64)
	return OrderStatus{
		State:      krakenStateToOrderState(row.Status),
		Price:      price,
		VolumeExec: volExec,
		Fee:        fee,
	}, nil
}

func krakenStateToOrderState(s string) OrderState {
	switch s {
	case "closed":
		return OrderClosed
	case "canceled":
		return OrderCanceled
	case "expired":
		return OrderExpired
	default:
		return OrderOpen
	}
}

// CancelOrder issues CancelOrder.
func (k *Kraken) CancelOrder(ctx context.Context, txID string) error {
	params := url.Values{}
	params.Set("txid", txID)
	_, err := k.privateRequest(ctx, "/0/private/CancelOrder", params)
	return err
}

// Balance issues Balance().
func (k *Kraken) Balance(ctx context.Context) (map[string]float64, error) {
	result, err := k.privateRequest(ctx, "/0/private/Balance", nil)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := kJSON.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("decode Balance result: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for sym, s := range raw {
		v, _ := strconv.ParseFloat(s, 64)
		out[canonicalAsset(sym)] = v
	}
	return out, nil
}

// Fees issues TradeVolume for the given pair.
func (k *Kraken) Fees(ctx context.Context, pair string) (taker, maker float64, err error) {
	params := url.Values{}
	params.Set("pair", restPair(pair))
	params.Set("fee-info", "true")

	result, rerr := k.privateRequest(ctx, "/0/private/TradeVolume", params)
	if rerr != nil {
		return 0, 0, rerr
	}
	var parsed struct {
		Fees map[string]struct {
			Fee string `json:"fee"`
		} `json:"fees"`
		FeesMaker map[string]struct {
			Fee string `json:"fee"`
		} `json:"fees_maker"`
	}
	if err := kJSON.Unmarshal(result, &parsed); err != nil {
		return 0, 0, fmt.Errorf("decode TradeVolume result: %w", err)
	}
	if f, ok := parsed.Fees[restPair(pair)]; ok {
		taker, _ = strconv.ParseFloat(f.Fee, 64)
	}
	if f, ok := parsed.FeesMaker[restPair(pair)]; ok {
		maker, _ = strconv.ParseFloat(f.Fee, 64)
	}
	return taker, maker, nil
}

// Ticker returns the top-of-book quote for pair from the public Ticker
// endpoint — the one-shot valuation lookup used when no live book is
// available (startup recovery's held-position snapshot).
func (k *Kraken) Ticker(ctx context.Context, pair string) (bid, ask float64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		krakenBaseURL+"/0/public/Ticker?pair="+url.QueryEscape(restPair(pair)), nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("ticker %s: %w", pair, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, err
	}
	var envelope struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			B []string `json:"b"` // [price, whole lot volume, lot volume]
			A []string `json:"a"`
		} `json:"result"`
	}
	if err := kJSON.Unmarshal(body, &envelope); err != nil {
		return 0, 0, fmt.Errorf("decode ticker: %w", err)
	}
	if len(envelope.Error) > 0 {
		return 0, 0, &Error{Exchange: "kraken", Message: strings.Join(envelope.Error, "; ")}
	}
	for _, row := range envelope.Result {
		if len(row.B) > 0 {
			bid, _ = strconv.ParseFloat(row.B[0], 64)
		}
		if len(row.A) > 0 {
			ask, _ = strconv.ParseFloat(row.A[0], 64)
		}
		return bid, ask, nil
	}
	return 0, 0, &Error{Exchange: "kraken", Message: "ticker returned no rows for " + pair}
}

// Ping hits the public Time endpoint, the cheapest unauthenticated call
// Kraken exposes, as the pre-trade liveness probe.
func (k *Kraken) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, krakenBaseURL+"/0/public/Time", nil)
	if err != nil {
		return err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kraken liveness probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &Error{Exchange: "kraken", Message: "liveness probe returned " + resp.Status}
	}
	return nil
}

func (k *Kraken) Close() error {
	if k.wsPublic != nil {
		return k.wsPublic.Close()
	}
	return nil
}
