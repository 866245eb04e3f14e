// Package processor sequences the pipeline: it consumes listing updates and
// raw trades, applies discovery filtering and classification, evaluates
// trade interest, assigns clusters, and emits finished records.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"predflow/classifier"
	appconfig "predflow/config"
	"predflow/cluster"
	"predflow/detector"
	"predflow/filter"
	"predflow/internal/channel"
	"predflow/logger"
	"predflow/models"
)

// dedupeLimit bounds how many recent trade identifiers are remembered for
// idempotent re-ingestion after connector restarts.
const dedupeLimit = 5000

type Orchestrator struct {
	config   *appconfig.Config
	channels *channel.Channels
	registry *cluster.Registry
	detector *detector.Detector
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// market metadata and classification, keyed venue|market_id
	cacheMu sync.RWMutex
	meta    map[string]models.MarketMeta
	class   map[string]models.MarketClassification

	// recent-trade dedupe ring, FIFO eviction
	seen    map[string]struct{}
	ring    []string
	ringIdx int

	tradesProcessed   int64
	tradesDeduped     int64
	listingsProcessed int64
	clusterFailures   int64
	alertsRaised      int64
}

func NewOrchestrator(cfg *appconfig.Config, channels *channel.Channels, registry *cluster.Registry) *Orchestrator {
	var det *detector.Detector
	if cfg.Detector.Enabled {
		det = detector.New(cfg.Detector)
	}
	return &Orchestrator{
		config:   cfg,
		channels: channels,
		registry: registry,
		detector: det,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		meta:     make(map[string]models.MarketMeta),
		class:    make(map[string]models.MarketClassification),
		seen:     make(map[string]struct{}, dedupeLimit),
		ring:     make([]string, 0, dedupeLimit),
	}
}

func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.ctx = ctx
	o.mu.Unlock()

	log := o.log.WithComponent("orchestrator").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting orchestrator")

	o.wg.Add(1)
	go o.run()
	go o.metricsReporter(ctx)

	log.Info("orchestrator started successfully")
	return nil
}

func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	o.log.WithComponent("orchestrator").Info("stopping orchestrator")
	o.wg.Wait()
	o.log.WithComponent("orchestrator").Info("orchestrator stopped")
}

func (o *Orchestrator) run() {
	defer o.wg.Done()

	log := o.log.WithComponent("orchestrator")

	for {
		select {
		case <-o.ctx.Done():
			log.Info("orchestrator stopped due to context cancellation")
			return
		case update, ok := <-o.channels.Listings:
			if !ok {
				log.Info("listing channel closed, orchestrator stopping")
				return
			}
			o.handleListing(update)
		case trade, ok := <-o.channels.Trades:
			if !ok {
				log.Info("trade channel closed, orchestrator stopping")
				return
			}
			o.handleTrade(trade)
		}
	}
}

// handleListing filters a discovery batch and refreshes the metadata and
// classification caches for every retained market.
func (o *Orchestrator) handleListing(update models.ListingUpdate) {
	// push streams send volume-only refreshes with no text, those bypass
	// the discovery filter and update already-cached markets in place
	listed := make([]models.MarketMeta, 0, len(update.Markets))
	var refreshes []models.MarketMeta
	for _, m := range update.Markets {
		if m.Title == "" && m.Question == "" {
			refreshes = append(refreshes, m)
		} else {
			listed = append(listed, m)
		}
	}

	filters := o.venueFilters(update.Venue)
	retained := filter.Apply(listed, filters, update.Venue)

	o.cacheMu.Lock()
	for _, m := range retained {
		key := cacheKey(m.Venue, m.MarketID)
		o.meta[key] = m
		o.class[key] = classifier.Classify(&m, o.config.Market)
	}
	for _, m := range refreshes {
		key := cacheKey(m.Venue, m.MarketID)
		cached, ok := o.meta[key]
		if !ok {
			continue
		}
		cached.VolumeUSD = m.VolumeUSD
		o.meta[key] = cached
		o.class[key] = classifier.Classify(&cached, o.config.Market)
	}
	o.cacheMu.Unlock()

	o.mu.Lock()
	o.listingsProcessed++
	o.mu.Unlock()

	o.log.WithComponent("orchestrator").WithFields(logger.Fields{
		"venue":    update.Venue,
		"listed":   len(update.Markets),
		"retained": len(retained),
	}).Debug("processed listing update")
}

// handleTrade runs one trade through dedupe, classification lookup,
// interest evaluation, and cluster assignment, then emits the record.
func (o *Orchestrator) handleTrade(trade models.RawTradeEvent) {
	log := o.log.WithComponent("orchestrator").WithFields(logger.Fields{
		"venue":    trade.Venue,
		"market":   trade.MarketID,
		"trade_id": trade.TradeID,
	})

	trade.Normalize()

	if !o.remember(cacheKey(trade.Venue, trade.TradeID)) {
		o.mu.Lock()
		o.tradesDeduped++
		o.mu.Unlock()
		log.Debug("duplicate trade skipped")
		return
	}

	key := cacheKey(trade.Venue, trade.MarketID)
	o.cacheMu.RLock()
	meta, haveMeta := o.meta[key]
	class, haveClass := o.class[key]
	o.cacheMu.RUnlock()

	if !haveClass {
		// market was never listed through discovery, classify from the
		// trade's own question text
		m := models.MarketMeta{
			Venue:    trade.Venue,
			MarketID: trade.MarketID,
			Title:    trade.Question,
			Question: trade.Question,
		}
		class = classifier.Classify(&m, o.config.Market)
		o.cacheMu.Lock()
		o.class[key] = class
		if !haveMeta {
			o.meta[key] = m
			meta = m
		}
		o.cacheMu.Unlock()
	}

	question := trade.Question
	if question == "" {
		question = meta.QuestionText()
	}

	if o.detector != nil {
		for _, alert := range o.detector.Observe(trade) {
			o.mu.Lock()
			o.alertsRaised++
			o.mu.Unlock()
			log.WithComponent("detector").WithFields(logger.Fields{
				"kind":      string(alert.Kind),
				"side":      alert.Side,
				"wallet":    alert.Wallet,
				"zscore":    alert.ZScore,
				"total_usd": alert.TotalUSD,
				"trades":    alert.Trades,
			}).Warn("anomalous trading activity")
		}
	}

	record := models.TradeRecord{
		RawTradeEvent:   trade,
		Classification:  class,
		MarketVolumeUSD: meta.VolumeUSD,
		ProcessedAt:     time.Now(),
	}
	record.Question = question
	record.Interesting = IsInteresting(
		trade.NotionalUSD, meta.VolumeUSD,
		o.config.Trades.USDThreshold, o.config.Trades.ShareThreshold,
	)

	if o.config.Cluster.Enabled && o.registry != nil {
		if id, err := o.registry.Assign(question); err != nil {
			o.mu.Lock()
			o.clusterFailures++
			o.mu.Unlock()
			log.WithError(err).Warn("cluster assignment skipped, persisting with null cluster id")
		} else {
			record.ClusterID = &id
		}
	}

	if o.channels.SendRecord(o.ctx, record) {
		o.mu.Lock()
		o.tradesProcessed++
		o.mu.Unlock()
	}
}

// remember returns true when the key was not seen before, adding it to the
// ring and evicting the oldest remembered key once the limit is reached.
func (o *Orchestrator) remember(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, dup := o.seen[key]; dup {
		return false
	}

	if len(o.ring) < dedupeLimit {
		o.ring = append(o.ring, key)
	} else {
		delete(o.seen, o.ring[o.ringIdx])
		o.ring[o.ringIdx] = key
		o.ringIdx = (o.ringIdx + 1) % dedupeLimit
	}
	o.seen[key] = struct{}{}
	return true
}

func (o *Orchestrator) venueFilters(venue string) appconfig.FilterConfig {
	switch venue {
	case "kalshi":
		return o.config.Venues.Kalshi.Filters
	default:
		return o.config.Venues.Polymarket.Filters
	}
}

// Classification returns the cached classification for a market.
func (o *Orchestrator) Classification(venue, marketID string) (models.MarketClassification, bool) {
	o.cacheMu.RLock()
	defer o.cacheMu.RUnlock()
	c, ok := o.class[cacheKey(venue, marketID)]
	return c, ok
}

func cacheKey(venue, id string) string {
	return venue + "|" + id
}

func (o *Orchestrator) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.reportMetrics()
		}
	}
}

func (o *Orchestrator) reportMetrics() {
	o.mu.RLock()
	tradesProcessed := o.tradesProcessed
	tradesDeduped := o.tradesDeduped
	listingsProcessed := o.listingsProcessed
	clusterFailures := o.clusterFailures
	alertsRaised := o.alertsRaised
	o.mu.RUnlock()

	o.cacheMu.RLock()
	cachedMarkets := len(o.class)
	o.cacheMu.RUnlock()

	clusters := 0
	if o.registry != nil {
		clusters = o.registry.Size()
	}

	o.log.LogMetric("orchestrator", "trades_processed", tradesProcessed, "counter", logger.Fields{})
	o.log.LogMetric("orchestrator", "trades_deduped", tradesDeduped, "counter", logger.Fields{})
	o.log.LogMetric("orchestrator", "listings_processed", listingsProcessed, "counter", logger.Fields{})
	o.log.LogMetric("orchestrator", "cluster_failures", clusterFailures, "counter", logger.Fields{})
	o.log.LogMetric("orchestrator", "alerts_raised", alertsRaised, "counter", logger.Fields{})
	o.log.LogMetric("orchestrator", "cached_markets", cachedMarkets, "gauge", logger.Fields{})
	o.log.LogMetric("orchestrator", "clusters", clusters, "gauge", logger.Fields{})

	o.log.WithComponent("orchestrator").WithFields(logger.Fields{
		"trades_processed":   tradesProcessed,
		"trades_deduped":     tradesDeduped,
		"listings_processed": listingsProcessed,
		"cluster_failures":   clusterFailures,
		"cached_markets":     cachedMarkets,
		"clusters":           clusters,
		"trade_channel_len":  len(o.channels.Trades),
		"trade_channel_cap":  cap(o.channels.Trades),
	}).Info("orchestrator metrics")
}
