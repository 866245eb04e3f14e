package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	appconfig "predflow/config"
	"predflow/internal/channel"
	"predflow/models"
)

func testVenueConfig(restURL string) appconfig.VenueConfig {
	return appconfig.VenueConfig{
		Enabled:           true,
		RestURL:           restURL,
		PollInterval:      10 * time.Millisecond,
		PollLimit:         50,
		RequestsPerSecond: 100,
		Burst:             100,
		ReconnectMin:      10 * time.Millisecond,
		ReconnectMax:      50 * time.Millisecond,
	}
}

const eventsPayload = `[
  {
    "id": "ev1",
    "title": "Fed decision",
    "category": "economics",
    "volume": "125000.5",
    "tags": [{"label": "fed"}, {"label": "rates"}],
    "markets": [
      {"conditionId": "0xabc", "question": "Will the Fed cut rates in March?", "volume": "100000"},
      {"conditionId": "0xdef", "question": "Will the Fed hike rates in March?", "volume": "25000.5"}
    ]
  }
]`

const tradesPayload = `[
  {
    "transactionHash": "0xt1",
    "conditionId": "0xabc",
    "title": "Will the Fed cut rates in March?",
    "side": "BUY",
    "price": "0.42",
    "size": "100",
    "timestamp": 1700000000,
    "proxyWallet": "0xAbCd"
  }
]`

func restServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/events"):
			w.Write([]byte(eventsPayload))
		case strings.HasPrefix(r.URL.Path, "/trades"):
			w.Write([]byte(tradesPayload))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestFetchEvents(t *testing.T) {
	srv := restServer(t)
	defer srv.Close()

	c := NewClient(testVenueConfig(srv.URL))
	markets, err := c.FetchEvents(context.Background())
	if err != nil {
		t.Fatalf("FetchEvents: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("expected 2 markets, got %d", len(markets))
	}
	m := markets[0]
	if m.Venue != Venue || m.MarketID != "0xabc" {
		t.Errorf("unexpected market identity: %+v", m)
	}
	if m.Title != "Fed decision" || m.Category != "economics" {
		t.Errorf("event metadata not carried over: %+v", m)
	}
	if m.VolumeUSD != 100000 {
		t.Errorf("string volume not parsed: %v", m.VolumeUSD)
	}
	if len(m.Tags) != 2 || m.Tags[0] != "fed" {
		t.Errorf("tags not extracted: %v", m.Tags)
	}
}

func TestFetchTradesNormalized(t *testing.T) {
	srv := restServer(t)
	defer srv.Close()

	c := NewClient(testVenueConfig(srv.URL))
	trades, err := c.FetchTrades(context.Background())
	if err != nil {
		t.Fatalf("FetchTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if tr.Side != "buy" {
		t.Errorf("side not normalized: %q", tr.Side)
	}
	if tr.Price != 0.42 || tr.Size != 100 {
		t.Errorf("numeric fields wrong: %+v", tr)
	}
	if tr.NotionalUSD != 42 {
		t.Errorf("notional not backfilled: %v", tr.NotionalUSD)
	}
	if tr.TradeID != "0xt1" {
		t.Errorf("trade id wrong: %q", tr.TradeID)
	}
	if tr.Wallet != "0xabcd" {
		t.Errorf("wallet not lowercased: %q", tr.Wallet)
	}
}

func TestPollerEmitsListingsAndTrades(t *testing.T) {
	srv := restServer(t)
	defer srv.Close()

	ch := channel.NewChannels(16, 16, 16)
	p := NewPoller(testVenueConfig(srv.URL), ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start poller: %v", err)
	}
	defer p.Stop()

	select {
	case u := <-ch.Listings:
		if u.Venue != Venue || len(u.Markets) != 2 {
			t.Fatalf("unexpected listing: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no listing received")
	}

	select {
	case tr := <-ch.Trades:
		if tr.TradeID != "0xt1" {
			t.Fatalf("unexpected trade: %+v", tr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trade received")
	}

	// the seen ring must suppress the same trade on later polls
	select {
	case tr := <-ch.Trades:
		t.Fatalf("duplicate trade re-emitted: %+v", tr)
	case <-time.After(100 * time.Millisecond):
	}
}

func wsEcho(t *testing.T, onConnect func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		onConnect(conn)
	}))
}

func TestTradeStreamPush(t *testing.T) {
	srv := wsEcho(t, func(conn *websocket.Conn) {
		defer conn.Close()
		// wait for the subscription before pushing
		var sub wsSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"topic": "activity",
			"type":  "trades",
			"payload": map[string]interface{}{
				"transactionHash": "0xpush",
				"conditionId":     "0xabc",
				"title":           "Will the Fed cut rates in March?",
				"side":            "SELL",
				"price":           "0.38",
				"size":            "10",
				"timestamp":       1700000001,
			},
		})
		conn.WriteMessage(websocket.TextMessage, payload)
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	cfg := testVenueConfig("")
	cfg.TradeWSURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ch := channel.NewChannels(4, 4, 4)
	s := NewTradeStream(cfg, ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start stream: %v", err)
	}

	var got models.RawTradeEvent
	select {
	case got = <-ch.Trades:
	case <-time.After(2 * time.Second):
		t.Fatal("no pushed trade received")
	}
	cancel()
	s.Stop()

	if got.TradeID != "0xpush" || got.Side != "sell" {
		t.Fatalf("unexpected trade: %+v", got)
	}
}

func TestBookStreamLastTradePrice(t *testing.T) {
	srv := wsEcho(t, func(conn *websocket.Conn) {
		defer conn.Close()
		var sub bookSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		payload := `[{"event_type":"book","market":"0xabc"},
			{"event_type":"last_trade_price","market":"0xabc","price":"0.55","size":"20","side":"BUY","timestamp":"1700000002000"}]`
		conn.WriteMessage(websocket.TextMessage, []byte(payload))
		time.Sleep(200 * time.Millisecond)
	})
	defer srv.Close()

	cfg := testVenueConfig("")
	cfg.BookWSURL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ch := channel.NewChannels(4, 4, 4)
	s := NewBookStream(cfg, ch)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start stream: %v", err)
	}

	var got models.RawTradeEvent
	select {
	case got = <-ch.Trades:
	case <-time.After(2 * time.Second):
		t.Fatal("no trade derived from book stream")
	}
	cancel()
	s.Stop()

	if got.MarketID != "0xabc" || got.Price != 0.55 || got.Side != "buy" {
		t.Fatalf("unexpected trade: %+v", got)
	}
	if got.NotionalUSD != 11 {
		t.Fatalf("notional not computed: %v", got.NotionalUSD)
	}
}
