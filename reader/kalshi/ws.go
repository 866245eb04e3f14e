package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "predflow/config"
	"predflow/internal/channel"
	"predflow/logger"
	"predflow/models"
	"predflow/reader"
)

type wsCommand struct {
	ID     int      `json:"id"`
	Cmd    string   `json:"cmd"`
	Params wsParams `json:"params"`
}

type wsParams struct {
	Channels []string `json:"channels"`
}

type wsEnvelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

type wsTrade struct {
	MarketTicker string  `json:"market_ticker"`
	YesPrice     float64 `json:"yes_price"`
	Count        float64 `json:"count"`
	TakerSide    string  `json:"taker_side"`
	TS           int64   `json:"ts"`
}

type wsTicker struct {
	MarketTicker string  `json:"market_ticker"`
	Volume       float64 `json:"volume"`
	DollarVolume float64 `json:"dollar_volume"`
}

// WSStream subscribes to the venue's push channels. Trade messages feed
// the trade queue; ticker messages carry volume refreshes into the
// listing queue. One stream instance serves either mode, selected by the
// channels it subscribes to.
type WSStream struct {
	cfg        appconfig.VenueConfig
	wsChannels []string
	channels   *channel.Channels
	ctx        context.Context
	wg         *sync.WaitGroup
	mu         sync.RWMutex
	running    bool
	log        *logger.Log
}

// NewTradeStream subscribes to the trade push channel.
func NewTradeStream(cfg appconfig.VenueConfig, ch *channel.Channels) *WSStream {
	return newWSStream(cfg, ch, []string{"trade"})
}

// NewTickerStream subscribes to the ticker channel, the venue's order-book
// push mode, which carries per-market volume updates.
func NewTickerStream(cfg appconfig.VenueConfig, ch *channel.Channels) *WSStream {
	return newWSStream(cfg, ch, []string{"ticker"})
}

func newWSStream(cfg appconfig.VenueConfig, ch *channel.Channels, wsChannels []string) *WSStream {
	return &WSStream{
		cfg:        cfg,
		wsChannels: wsChannels,
		channels:   ch,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}
}

func (s *WSStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("kalshi ws stream already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("kalshi_ws_stream").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"url":      s.wsURL(),
		"channels": s.wsChannels,
	}).Info("starting kalshi ws stream")

	s.wg.Add(1)
	go s.streamWorker()

	log.Info("kalshi ws stream started successfully")
	return nil
}

func (s *WSStream) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("kalshi_ws_stream").Info("stopping kalshi ws stream")
	s.wg.Wait()
	s.log.WithComponent("kalshi_ws_stream").Info("kalshi ws stream stopped")
}

func (s *WSStream) wsURL() string {
	if len(s.wsChannels) > 0 && s.wsChannels[0] == "ticker" && s.cfg.BookWSURL != "" {
		return s.cfg.BookWSURL
	}
	return s.cfg.TradeWSURL
}

func (s *WSStream) streamWorker() {
	defer s.wg.Done()

	log := s.log.WithComponent("kalshi_ws_stream").WithFields(logger.Fields{
		"worker":   "ws_push",
		"channels": s.wsChannels,
	})

	backoff := reader.NewBackoff(s.cfg.ReconnectMin, s.cfg.ReconnectMax)

	for {
		if s.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.wsURL(), nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, backing off")
			if !reader.Sleep(s.ctx, backoff.Next()) {
				return
			}
			continue
		}

		cmd := wsCommand{ID: 1, Cmd: "subscribe", Params: wsParams{Channels: s.wsChannels}}
		if err := conn.WriteJSON(cmd); err != nil {
			log.WithError(err).Warn("failed to subscribe, reconnecting")
			conn.Close()
			if !reader.Sleep(s.ctx, backoff.Next()) {
				return
			}
			continue
		}

		log.Info("subscribed to push channels")
		backoff.Reset()

		if !s.readLoop(conn, log) {
			return
		}

		conn.Close()
		if !reader.Sleep(s.ctx, backoff.Next()) {
			return
		}
	}
}

func (s *WSStream) readLoop(conn *websocket.Conn, log *logger.Entry) bool {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if s.ctx.Err() != nil {
				log.Info("read loop stopped due to context cancellation")
				return false
			}
			log.WithError(err).Warn("websocket read failed, reconnecting")
			return true
		}

		switch env.Type {
		case "trade":
			var t wsTrade
			if err := json.Unmarshal(env.Msg, &t); err != nil {
				log.WithError(err).Warn("malformed trade message skipped")
				continue
			}
			if t.MarketTicker == "" {
				continue
			}
			ts := time.Unix(t.TS, 0).UTC()
			trade := models.RawTradeEvent{
				Venue:    Venue,
				MarketID: t.MarketTicker,
				// push trades carry no id, synthesize a stable one
				TradeID:   fmt.Sprintf("ws-%s-%d-%s-%.0f", t.MarketTicker, t.TS, t.TakerSide, t.Count),
				Price:     t.YesPrice / 100, // yes_price is quoted in cents
				Size:      t.Count,
				Side:      t.TakerSide,
				Timestamp: ts,
			}
			trade.Normalize()
			if !s.channels.SendTrade(s.ctx, trade) && s.ctx.Err() != nil {
				return false
			}
		case "ticker":
			var tk wsTicker
			if err := json.Unmarshal(env.Msg, &tk); err != nil {
				log.WithError(err).Warn("malformed ticker message skipped")
				continue
			}
			if tk.MarketTicker == "" {
				continue
			}
			volume := tk.DollarVolume
			if volume == 0 {
				volume = tk.Volume
			}
			update := models.ListingUpdate{
				Venue: Venue,
				Markets: []models.MarketMeta{{
					Venue:     Venue,
					MarketID:  tk.MarketTicker,
					VolumeUSD: volume,
				}},
			}
			if !s.channels.SendListing(s.ctx, update) && s.ctx.Err() != nil {
				return false
			}
		}
	}
}
