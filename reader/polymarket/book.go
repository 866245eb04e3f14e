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
	"predflow/models"
	"predflow/reader"
)

type bookSubscribe struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids,omitempty"`
}

type bookEvent struct {
	EventType string      `json:"event_type"`
	Market    string      `json:"market"`
	AssetID   string      `json:"asset_id"`
	Price     stringFloat `json:"price"`
	Size      stringFloat `json:"size"`
	Side      string      `json:"side"`
	Timestamp stringFloat `json:"timestamp"`
}

// BookStream subscribes to the order-book market channel. Last-trade-price
// events surface as trades; plain book updates only feed liveness, they
// carry no executed volume.
type BookStream struct {
	cfg      appconfig.VenueConfig
	channels *channel.Channels
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewBookStream(cfg appconfig.VenueConfig, ch *channel.Channels) *BookStream {
	return &BookStream{
		cfg:      cfg,
		channels: ch,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (s *BookStream) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("polymarket book stream already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("polymarket_book_stream").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"url": s.cfg.BookWSURL}).Info("starting polymarket book stream")

	s.wg.Add(1)
	go s.streamWorker()

	log.Info("polymarket book stream started successfully")
	return nil
}

func (s *BookStream) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.WithComponent("polymarket_book_stream").Info("stopping polymarket book stream")
	s.wg.Wait()
	s.log.WithComponent("polymarket_book_stream").Info("polymarket book stream stopped")
}

func (s *BookStream) streamWorker() {
	defer s.wg.Done()

	log := s.log.WithComponent("polymarket_book_stream").WithFields(logger.Fields{
		"worker": "book_push",
	})

	backoff := reader.NewBackoff(s.cfg.ReconnectMin, s.cfg.ReconnectMax)

	for {
		if s.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.cfg.BookWSURL, nil)
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, backing off")
			if !reader.Sleep(s.ctx, backoff.Next()) {
				return
			}
			continue
		}

		if err := conn.WriteJSON(bookSubscribe{Type: "market"}); err != nil {
			log.WithError(err).Warn("failed to subscribe, reconnecting")
			conn.Close()
			if !reader.Sleep(s.ctx, backoff.Next()) {
				return
			}
			continue
		}

		log.Info("subscribed to market channel")
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

func (s *BookStream) readLoop(conn *websocket.Conn, log *logger.Entry) bool {
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
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				log.Info("read loop stopped due to context cancellation")
				return false
			}
			log.WithError(err).Warn("websocket read failed, reconnecting")
			return true
		}

		// the channel batches events into arrays, single events also occur
		var events []bookEvent
		if err := json.Unmarshal(payload, &events); err != nil {
			var single bookEvent
			if err := json.Unmarshal(payload, &single); err != nil {
				log.WithError(err).Warn("malformed book payload skipped")
				continue
			}
			events = []bookEvent{single}
		}

		for _, ev := range events {
			if ev.EventType != "last_trade_price" || ev.Market == "" {
				continue
			}
			ts := time.UnixMilli(int64(ev.Timestamp)).UTC()
			trade := models.RawTradeEvent{
				Venue:    Venue,
				MarketID: ev.Market,
				// book trades have no stable hash, synthesize one
				TradeID:   fmt.Sprintf("book-%s-%d-%s", ev.Market, ts.UnixMilli(), ev.Side),
				Price:     float64(ev.Price),
				Size:      float64(ev.Size),
				Side:      ev.Side,
				Timestamp: ts,
			}
			trade.Normalize()
			if !s.channels.SendTrade(s.ctx, trade) && s.ctx.Err() != nil {
				return false
			}
		}
	}
}
