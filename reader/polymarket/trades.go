package polymarket

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
	"predflow/reader"
)

type wsSubscription struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
}

type wsSubscribe struct {
	Action        string           `json:"action"`
	Subscriptions []wsSubscription `json:"subscriptions"`
}

type wsMessage struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// TradeStream receives pushed trade notifications over the venue's
// websocket and feeds them into the trade queue. Disconnects trigger
// reconnection with exponential backoff and a fresh subscription.
type TradeStream struct {
	cfg      appconfig.VenueConfig
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewTradeStream(cfg appconfig.VenueConfig, ch *channel.Channels) *TradeStream {
	return &TradeStream{
		cfg:      cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (s *TradeStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("polymarket trade stream already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("polymarket_trade_stream").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"url": s.cfg.TradeWSURL}).Info("starting polymarket trade stream")

	s.wg.Add(1)
	go s.streamWorker()

	log.Info("polymarket trade stream started successfully")
	return nil
}

func (s *TradeStream) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("polymarket_trade_stream").Info("stopping polymarket trade stream")
	s.wg.Wait()
	s.log.WithComponent("polymarket_trade_stream").Info("polymarket trade stream stopped")
}

func (s *TradeStream) streamWorker() {
	defer s.wg.Done()

	log := s.log.WithComponent("polymarket_trade_stream").WithFields(logger.Fields{
		"worker": "trade_push",
	})

	backoff := reader.NewBackoff(s.cfg.ReconnectMin, s.cfg.ReconnectMax)

	for {
		if s.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.cfg.TradeWSURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, backing off")
			if !reader.Sleep(s.ctx, backoff.Next()) {
				return
			}
			continue
		}

		sub := wsSubscribe{
			Action:        "subscribe",
			Subscriptions: []wsSubscription{{Topic: "activity", Type: "trades"}},
		}
		if err := conn.WriteJSON(sub); err != nil {
			log.WithError(err).Warn("failed to subscribe, reconnecting")
			conn.Close()
			if !reader.Sleep(s.ctx, backoff.Next()) {
				return
			}
			continue
		}

		log.Info("subscribed to trade activity")
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

// readLoop consumes messages until the connection breaks. It reports false
// when the stream should stop entirely.
func (s *TradeStream) readLoop(conn *websocket.Conn, log *logger.Entry) bool {
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
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if s.ctx.Err() != nil {
				log.Info("read loop stopped due to context cancellation")
				return false
			}
			log.WithError(err).Warn("websocket read failed, reconnecting")
			return true
		}

		if msg.Topic != "activity" || msg.Type != "trades" {
			continue
		}

		var t apiTrade
		if err := json.Unmarshal(msg.Payload, &t); err != nil {
			log.WithError(err).Warn("malformed trade payload skipped")
			continue
		}
		if t.TransactionHash == "" {
			continue
		}

		ev := tradeEvent(t)
		if !s.channels.SendTrade(s.ctx, ev) && s.ctx.Err() != nil {
			return false
		}
	}
}
