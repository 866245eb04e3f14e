// Package channel owns the bounded queues connecting venue connectors,
// the orchestrator, and the persistence writers.
package channel

import (
	"context"
	"sync"

	"predflow/logger"
	"predflow/models"
)

type ChannelStats struct {
	TradesSent      int64
	TradesDropped   int64
	ListingsSent    int64
	ListingsDropped int64
	RecordsSent     int64
}

// Channels carries raw trades and listing updates into the orchestrator and
// finished records out to the sink. Trade and listing queues are bounded
// with a drop-oldest overflow policy so connectors never block; the record
// queue blocks, records are never dropped once produced.
type Channels struct {
	Trades   chan models.RawTradeEvent
	Listings chan models.ListingUpdate
	Records  chan models.TradeRecord

	stats      ChannelStats
	statsMutex sync.RWMutex
	log        *logger.Log
}

func NewChannels(tradeBuffer, listingBuffer, recordBuffer int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Trades:   make(chan models.RawTradeEvent, tradeBuffer),
		Listings: make(chan models.ListingUpdate, listingBuffer),
		Records:  make(chan models.TradeRecord, recordBuffer),
		log:      log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"trade_buffer":   tradeBuffer,
		"listing_buffer": listingBuffer,
		"record_buffer":  recordBuffer,
	}).Info("pipeline channels initialized")

	return c
}

func (c *Channels) Close() {
	close(c.Trades)
	close(c.Listings)
	close(c.Records)
	c.log.WithComponent("channels").Info("pipeline channels closed")
}

// SendTrade enqueues a trade without ever blocking the connector. When the
// queue is full the oldest buffered trade is evicted and the drop logged,
// favoring freshness over completeness.
func (c *Channels) SendTrade(ctx context.Context, trade models.RawTradeEvent) bool {
	for {
		select {
		case c.Trades <- trade:
			c.incrementTradesSent()
			logger.IncrementTradeIngested(1)
			logger.RecordChannelMessage("trades", 1)
			return true
		case <-ctx.Done():
			return false
		default:
		}

		select {
		case dropped := <-c.Trades:
			c.incrementTradesDropped()
			logger.IncrementEventDropped()
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"venue":    dropped.Venue,
				"trade_id": dropped.TradeID,
			}).Warn("trade queue full, dropped oldest buffered trade")
		default:
			// a consumer raced us to the oldest entry, retry the send
		}
	}
}

// SendListing enqueues a listing update with the same drop-oldest policy.
func (c *Channels) SendListing(ctx context.Context, update models.ListingUpdate) bool {
	for {
		select {
		case c.Listings <- update:
			c.incrementListingsSent()
			logger.IncrementListingIngested(len(update.Markets))
			logger.RecordChannelMessage("listings", len(update.Markets))
			return true
		case <-ctx.Done():
			return false
		default:
		}

		select {
		case dropped := <-c.Listings:
			c.incrementListingsDropped()
			logger.IncrementEventDropped()
			c.log.WithComponent("channels").WithFields(logger.Fields{
				"venue":   dropped.Venue,
				"markets": len(dropped.Markets),
			}).Warn("listing queue full, dropped oldest buffered update")
		default:
		}
	}
}

// SendRecord blocks until the record is accepted or the context ends.
// Finished records are never dropped.
func (c *Channels) SendRecord(ctx context.Context, record models.TradeRecord) bool {
	select {
	case c.Records <- record:
		c.incrementRecordsSent()
		logger.RecordChannelMessage("records", 1)
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channels) incrementTradesSent() {
	c.statsMutex.Lock()
	c.stats.TradesSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementTradesDropped() {
	c.statsMutex.Lock()
	c.stats.TradesDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementListingsSent() {
	c.statsMutex.Lock()
	c.stats.ListingsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementListingsDropped() {
	c.statsMutex.Lock()
	c.stats.ListingsDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) incrementRecordsSent() {
	c.statsMutex.Lock()
	c.stats.RecordsSent++
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
