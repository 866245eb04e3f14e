package kalshi

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	appconfig "predflow/config"
	"predflow/internal/channel"
	"predflow/logger"
	"predflow/reader"
)

const discoveryEvery = 12

// Poller ingests Kalshi by REST: trades every poll interval with a
// timestamp watermark so overlapping windows stay cheap, the market
// listing on a slower cycle.
type Poller struct {
	cfg      appconfig.VenueConfig
	client   *Client
	channels *channel.Channels
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewPoller(cfg appconfig.VenueConfig, ch *channel.Channels) *Poller {
	return &Poller{
		cfg:      cfg,
		client:   NewClient(cfg),
		channels: ch,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("kalshi poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("kalshi_poller").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"interval": p.cfg.PollInterval,
		"limit":    p.cfg.PollLimit,
	}).Info("starting kalshi poller")

	p.wg.Add(1)
	go p.pollWorker()

	log.Info("kalshi poller started successfully")
	return nil
}

func (p *Poller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("kalshi_poller").Info("stopping kalshi poller")
	p.wg.Wait()
	p.log.WithComponent("kalshi_poller").Info("kalshi poller stopped")
}

func (p *Poller) pollWorker() {
	defer p.wg.Done()

	log := p.log.WithComponent("kalshi_poller").WithFields(logger.Fields{
		"worker": "rest_poll",
	})

	backoff := reader.NewBackoff(p.cfg.ReconnectMin, p.cfg.ReconnectMax)
	seen := reader.NewSeenRing(0)
	var watermark int64
	cycle := 0

	for {
		if p.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}

		if cycle%discoveryEvery == 0 {
			if err := p.pollMarkets(); err != nil {
				log.WithError(err).Warn("market poll failed, backing off")
				if !reader.Sleep(p.ctx, backoff.Next()) {
					return
				}
				continue
			}
		}

		next, err := p.pollTrades(seen, watermark)
		if err != nil {
			log.WithError(err).Warn("trade poll failed, backing off")
			if !reader.Sleep(p.ctx, backoff.Next()) {
				return
			}
			continue
		}
		watermark = next

		backoff.Reset()
		cycle++
		if !reader.Sleep(p.ctx, p.cfg.PollInterval) {
			return
		}
	}
}

func (p *Poller) pollMarkets() error {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return err
	}
	markets, err := p.client.FetchMarkets(p.ctx)
	if err != nil {
		return err
	}

	p.channels.SendListing(p.ctx, listingUpdate(markets))
	p.log.WithComponent("kalshi_poller").WithFields(logger.Fields{
		"markets": len(markets),
	}).Debug("market poll complete")
	return nil
}

// pollTrades fetches trades newer than the watermark and returns the next
// watermark. The seen ring covers trades sharing the watermark second.
func (p *Poller) pollTrades(seen *reader.SeenRing, watermark int64) (int64, error) {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return watermark, err
	}
	trades, err := p.client.FetchTrades(p.ctx, watermark)
	if err != nil {
		return watermark, err
	}

	fresh := 0
	next := watermark
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if ts := t.Timestamp.Unix(); ts > next {
			next = ts
		}
		if t.TradeID == "" || !seen.Observe(t.TradeID) {
			continue
		}
		if !p.channels.SendTrade(p.ctx, t) {
			return next, p.ctx.Err()
		}
		fresh++
	}

	p.log.WithComponent("kalshi_poller").WithFields(logger.Fields{
		"fetched":   len(trades),
		"fresh":     fresh,
		"watermark": next,
	}).Debug("trade poll complete")
	return next, nil
}
