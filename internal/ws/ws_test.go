package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/optionflow/internal/flow"
	"github.com/dgnsrekt/optionflow/internal/scanner"
	"github.com/dgnsrekt/optionflow/internal/service"
	"github.com/dgnsrekt/optionflow/internal/session"
	"github.com/dgnsrekt/optionflow/internal/universe"
)

type stubSource struct {
	mu     sync.Mutex
	trades []flow.Flagged
}

func (s *stubSource) add(f flow.Flagged) {
	s.mu.Lock()
	s.trades = append(s.trades, f)
	s.mu.Unlock()
}

func (s *stubSource) Stream(ctx context.Context, req scanner.Request, emit func(flow.Flagged)) (*service.Report, error) {
	s.mu.Lock()
	trades := append([]flow.Flagged(nil), s.trades...)
	s.mu.Unlock()

	want := make(map[string]bool)
	for _, sym := range req.Symbols {
		want[sym] = true
	}
	var out []flow.Flagged
	for _, f := range trades {
		if want[f.Contract.Underlying] {
			out = append(out, f)
			emit(f)
		}
	}
	return &service.Report{Trades: out, Summary: flow.Summarize(out, nil)}, nil
}

type liveWindow struct{}

func (liveWindow) WindowAt(time.Time) (session.Window, error) {
	return session.Window{State: session.Live, Date: "2025-11-14"}, nil
}

func flagged(underlying string, price float64, at time.Time) flow.Flagged {
	c := universe.Contract{Ticker: underlying + "251219C00105000", Underlying: underlying, Strike: 105, Kind: universe.Call}
	return flow.Flagged{Trade: flow.NewTrade(c, price, 500, at, 100, 4, flow.SideBuy, nil), Tier: 1}
}

func validSymbol(s string) bool {
	return s != "" && !strings.ContainsAny(s, "_ ")
}

type harness struct {
	hub      *Hub
	streamer *Streamer
	source   *stubSource
	codec    *Codec
	server   *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(codec.Close)

	hub := NewHub("flow", codec, validSymbol, zap.NewNop())
	go hub.Run(ctx)

	src := &stubSource{}
	streamer, err := NewStreamer(hub, src, liveWindow{}, time.Hour, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)
	return &harness{hub: hub, streamer: streamer, source: src, codec: codec, server: server}
}

func (h *harness) dial(t *testing.T, query string, subprotocols ...string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + query
	dialer := websocket.Dialer{Subprotocols: subprotocols, HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	protocol := ProtocolJSON
	if resp.Header.Get("Sec-WebSocket-Protocol") == SubprotocolProtobuf {
		protocol = ProtocolProtobuf
	}
	return conn, protocol
}

func (h *harness) read(t *testing.T, conn *websocket.Conn, protocol string) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	msg, err := h.codec.Decode(protocol, data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return msg
}

func TestCodec_RoundTrip(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	msg, err := tradeMessage(flagged("SPY", 2.5, time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatal(err)
	}

	for _, protocol := range []string{ProtocolJSON, ProtocolProtobuf} {
		frame, err := codec.Encode(protocol, msg)
		if err != nil {
			t.Fatalf("%s encode: %v", protocol, err)
		}
		got, err := codec.Decode(protocol, frame)
		if err != nil {
			t.Fatalf("%s decode: %v", protocol, err)
		}
		if got["group"] != "SPY" || got["dataType"] != "trade" {
			t.Errorf("%s: unexpected envelope %v", protocol, got)
		}
		data, _ := got["data"].(map[string]any)
		if data["premium"] != 125000.0 || data["side"] != "buy" || data["tier"] != 1.0 {
			t.Errorf("%s: unexpected payload %v", protocol, data)
		}
	}
}

func TestRouteUpstream(t *testing.T) {
	msg, err := routeUpstream(map[string]any{"type": "subscribe", "symbol": " spy ", "ackId": 3.0})
	if err != nil {
		t.Fatal(err)
	}
	sub, ok := msg.(*subscribeRequest)
	if !ok || sub.symbol != "SPY" || sub.ackID == nil || *sub.ackID != 3 {
		t.Errorf("unexpected request %+v", msg)
	}

	if _, err := routeUpstream(map[string]any{"type": "publish"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestServeWS_BackfillOnConnect(t *testing.T) {
	h := newHarness(t)
	at := time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC)
	h.source.add(flagged("SPY", 2.5, at))
	h.source.add(flagged("QQQ", 3.0, at))

	conn, protocol := h.dial(t, "?symbols=spy", SubprotocolProtobuf)
	if protocol != ProtocolProtobuf {
		t.Fatalf("expected protobuf protocol, got %s", protocol)
	}

	if msg := h.read(t, conn, protocol); msg["event"] != "connected" {
		t.Fatalf("expected connected message first, got %v", msg)
	}
	trade := h.read(t, conn, protocol)
	if trade["dataType"] != "trade" || trade["group"] != "SPY" {
		t.Fatalf("expected SPY trade, got %v", trade)
	}
	summary := h.read(t, conn, protocol)
	if summary["dataType"] != "summary" {
		t.Fatalf("expected summary, got %v", summary)
	}
	data, _ := summary["data"].(map[string]any)
	if data["trades"] != 1.0 {
		t.Errorf("summary should count only SPY, got %v", data)
	}
}

func TestStreamer_BroadcastsOnlyNewTrades(t *testing.T) {
	h := newHarness(t)
	at := time.Date(2025, 11, 14, 15, 0, 0, 0, time.UTC)
	h.source.add(flagged("SPY", 2.5, at))

	conn, protocol := h.dial(t, "?symbols=SPY")
	h.read(t, conn, protocol) // connected
	h.read(t, conn, protocol) // backfilled trade
	h.read(t, conn, protocol) // summary

	h.source.add(flagged("SPY", 4.0, at.Add(time.Minute)))
	h.streamer.broadcastNext(context.Background())

	msg := h.read(t, conn, protocol)
	data, _ := msg["data"].(map[string]any)
	if msg["dataType"] != "trade" || data["price"] != 4.0 {
		t.Fatalf("expected only the new trade, got %v", msg)
	}
}

func TestStreamer_SeenAgesFromObservation(t *testing.T) {
	h := newHarness(t)
	observed := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	now := observed
	h.streamer.now = func() time.Time { return now }

	old := flagged("SPY", 2.5, observed.Add(-72*time.Hour))
	if !h.streamer.markSeen(old) {
		t.Fatal("first sighting should be new")
	}

	now = observed.Add(seenRetention - time.Minute)
	h.streamer.prune()
	if h.streamer.markSeen(old) {
		t.Error("trade observed within retention must stay deduplicated")
	}

	now = observed.Add(seenRetention + time.Minute)
	h.streamer.prune()
	if !h.streamer.markSeen(old) {
		t.Error("entry should be pruned once retention has passed since observation")
	}
}

func TestClient_SubscribeAck(t *testing.T) {
	h := newHarness(t)
	conn, protocol := h.dial(t, "", SubprotocolJSON)
	h.read(t, conn, protocol) // connected

	send := func(body string) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	waitAck := func(id float64) bool {
		for i := 0; i < 5; i++ {
			msg := h.read(t, conn, protocol)
			if msg["type"] == "ack" && msg["ackId"] == id {
				ok, _ := msg["success"].(bool)
				return ok
			}
		}
		t.Fatalf("no ack %v received", id)
		return false
	}

	send(`{"type":"subscribe","symbol":"qqq","ackId":7}`)
	if !waitAck(7) {
		t.Error("expected subscribe to succeed")
	}
	send(`{"type":"subscribe","symbol":"bad_sym","ackId":8}`)
	if waitAck(8) {
		t.Error("expected invalid symbol to be rejected")
	}

	groups := h.hub.GetActiveGroups()
	if len(groups) != 1 || groups[0] != "QQQ" {
		t.Errorf("unexpected groups %v", groups)
	}
}

func TestNewStreamer_RejectsZeroInterval(t *testing.T) {
	codec, err := NewCodec()
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()
	if _, err := NewStreamer(NewHub("flow", codec, nil, zap.NewNop()), &stubSource{}, liveWindow{}, 0, zap.NewNop()); err == nil {
		t.Error("expected error for zero interval")
	}
}
