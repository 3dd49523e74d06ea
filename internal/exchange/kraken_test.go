package exchange

import (
	"encoding/base64"
	"testing"

	"go.uber.org/zap"
)

func TestCanonicalAsset(t *testing.T) {
	tests := []struct {
		wire string
		want string
	}{
		{"XXBT", "BTC"},
		{"XBT", "BTC"},
		{"ZUSD", "USD"},
		{"ZEUR", "EUR"},
		{"XETH", "ETH"},
		{"XXDG", "DOGE"},
		{"USDT", "USDT"},
		{"SOL", "SOL"},
	}
	for _, tt := range tests {
		if got := canonicalAsset(tt.wire); got != tt.want {
			t.Errorf("canonicalAsset(%q) = %q, want %q", tt.wire, got, tt.want)
		}
	}
}

func TestSignDeterministicForSameInputs(t *testing.T) {
	k := NewKraken(zap.NewNop())
	if err := k.Connect("key", base64.StdEncoding.EncodeToString([]byte("secret-bytes"))); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	a := k.sign("/0/private/AddOrder", 1700000000001, "nonce=1700000000001&pair=XBTUSD")
	b := k.sign("/0/private/AddOrder", 1700000000001, "nonce=1700000000001&pair=XBTUSD")
	if a != b {
		t.Error("signature must be deterministic for identical path/nonce/body")
	}
	c := k.sign("/0/private/AddOrder", 1700000000002, "nonce=1700000000002&pair=XBTUSD")
	if a == c {
		t.Error("a different nonce must produce a different signature")
	}
}

func TestNextNonceStrictlyMonotonic(t *testing.T) {
	k := NewKraken(zap.NewNop())
	prev := k.nextNonce()
	for i := 0; i < 100; i++ {
		n := k.nextNonce()
		if n <= prev {
			t.Fatalf("nonce %d not strictly greater than %d", n, prev)
		}
		prev = n
	}
}

func TestKrakenStateToOrderState(t *testing.T) {
	tests := []struct {
		in   string
		want OrderState
	}{
		{"closed", OrderClosed},
		{"canceled", OrderCanceled},
		{"expired", OrderExpired},
		{"open", OrderOpen},
		{"pending", OrderOpen},
	}
	for _, tt := range tests {
		if got := krakenStateToOrderState(tt.in); got != tt.want {
			t.Errorf("krakenStateToOrderState(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDecodeLevels(t *testing.T) {
	raw := []byte(`[["30000.1","1.5","1700000000.123"],["29999.9","0"]]`)
	levels := decodeLevels(raw)
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(levels))
	}
	if levels[0].Price != 30000.1 || levels[0].Size != 1.5 {
		t.Errorf("level 0 = %+v, want 30000.1/1.5", levels[0])
	}
	if levels[1].Size != 0 {
		t.Errorf("zero-size level must survive decoding as a delete marker, got %+v", levels[1])
	}
}

func TestHandlePublicMessageSnapshotAndUpdate(t *testing.T) {
	k := NewKraken(zap.NewNop())
	var got []BookMessage
	k.onUpdate = func(m BookMessage) { got = append(got, m) }

	snapshot := []byte(`[42,{"as":[["30010.0","1.0","1700000000.1"]],"bs":[["30000.0","2.0","1700000000.1"]]},"book-25","XBT/USD"]`)
	k.handlePublicMessage(snapshot)

	update := []byte(`[42,{"b":[["30005.0","1.0","1700000001.1"]]},"book-25","XBT/USD"]`)
	k.handlePublicMessage(update)

	if len(got) != 2 {
		t.Fatalf("expected 2 decoded messages, got %d", len(got))
	}
	if !got[0].Snapshot || got[0].Pair != "XBT/USD" {
		t.Errorf("first message should be a snapshot for XBT/USD, got %+v", got[0])
	}
	if len(got[0].Bids) != 1 || got[0].Bids[0].Price != 30000 {
		t.Errorf("snapshot bids = %+v", got[0].Bids)
	}
	if got[1].Snapshot {
		t.Error("second message should be an incremental update")
	}
	if len(got[1].Bids) != 1 || got[1].Bids[0].Price != 30005 {
		t.Errorf("update bids = %+v", got[1].Bids)
	}
}
