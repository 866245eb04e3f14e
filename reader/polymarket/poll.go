package polymarket

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

// discovery runs on every discoveryEvery-th poll cycle
const discoveryEvery = 12

// Poller ingests Polymarket by REST: trades every poll interval, the event
// listing on a slower cycle. Failures back off exponentially and never
// stop the other streams.
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
		return fmt.Errorf("polymarket poller already running")
	}
	p.running = true
	p.ctx = ctx
	p.mu.Unlock()

	log := p.log.WithComponent("polymarket_poller").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{
		"interval": p.cfg.PollInterval,
		"limit":    p.cfg.PollLimit,
	}).Info("starting polymarket poller")

	p.wg.Add(1)
	go p.pollWorker()

	log.Info("polymarket poller started successfully")
	return nil
}

func (p *Poller) Stop() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.log.WithComponent("polymarket_poller").Info("stopping polymarket poller")
	p.wg.Wait()
	p.log.WithComponent("polymarket_poller").Info("polymarket poller stopped")
}

func (p *Poller) pollWorker() {
	defer p.wg.Done()

	log := p.log.WithComponent("polymarket_poller").WithFields(logger.Fields{
		"worker": "rest_poll",
	})

	backoff := reader.NewBackoff(p.cfg.ReconnectMin, p.cfg.ReconnectMax)
	seen := reader.NewSeenRing(0)
	cycle := 0

	for {
		if p.ctx.Err() != nil {
			log.Info("worker stopped due to context cancellation")
			return
		}

		if cycle%discoveryEvery == 0 {
			if err := p.pollListings(); err != nil {
				log.WithError(err).Warn("listing poll failed, backing off")
				if !reader.Sleep(p.ctx, backoff.Next()) {
					return
				}
				continue
			}
		}

		if err := p.pollTrades(seen); err != nil {
			log.WithError(err).Warn("trade poll failed, backing off")
			if !reader.Sleep(p.ctx, backoff.Next()) {
				return
			}
			continue
		}

		backoff.Reset()
		cycle++
		if !reader.Sleep(p.ctx, p.cfg.PollInterval) {
			return
		}
	}
}

func (p *Poller) pollListings() error {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return err
	}
	markets, err := p.client.FetchEvents(p.ctx)
	if err != nil {
		return err
	}

	p.channels.SendListing(p.ctx, listingUpdate(markets))
	p.log.WithComponent("polymarket_poller").WithFields(logger.Fields{
		"markets": len(markets),
	}).Debug("listing poll complete")
	return nil
}

func (p *Poller) pollTrades(seen *reader.SeenRing) error {
	if err := p.limiter.Wait(p.ctx); err != nil {
		return err
	}
	trades, err := p.client.FetchTrades(p.ctx)
	if err != nil {
		return err
	}

	fresh := 0
	// the API serves newest first, replay oldest first
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		if t.TradeID == "" || !seen.Observe(t.TradeID) {
			continue
		}
		if !p.channels.SendTrade(p.ctx, t) {
			return p.ctx.Err()
		}
		fresh++
	}

	p.log.WithComponent("polymarket_poller").WithFields(logger.Fields{
		"fetched": len(trades),
		"fresh":   fresh,
	}).Debug("trade poll complete")
	return nil
}
