package writer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "predflow/config"
	"predflow/logger"
	"predflow/models"
)

const tradeRecordsSchema = `
CREATE TABLE IF NOT EXISTS trade_records (
	venue             TEXT NOT NULL,
	trade_id          TEXT NOT NULL,
	market_id         TEXT NOT NULL,
	question          TEXT,
	price             DOUBLE PRECISION NOT NULL,
	size              DOUBLE PRECISION NOT NULL,
	side              TEXT NOT NULL,
	wallet            TEXT,
	notional_usd      DOUBLE PRECISION NOT NULL,
	traded_at         TIMESTAMPTZ NOT NULL,
	niche             BOOLEAN NOT NULL,
	stock             BOOLEAN NOT NULL,
	excluded          BOOLEAN NOT NULL,
	interesting       BOOLEAN NOT NULL,
	cluster_id        BIGINT,
	market_volume_usd DOUBLE PRECISION NOT NULL,
	processed_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (venue, trade_id)
)`

const insertTradeRecord = `
INSERT INTO trade_records (
	venue, trade_id, market_id, question, price, size, side, wallet,
	notional_usd, traded_at, niche, stock, excluded, interesting,
	cluster_id, market_volume_usd, processed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (venue, trade_id) DO NOTHING`

// Store persists processed trade records to Postgres. Writes are batched
// and idempotent on (venue, trade_id), so redelivered trades collapse to
// no-ops at the database.
type Store struct {
	config      *appconfig.Config
	records     <-chan models.TradeRecord
	pool        *pgxpool.Pool
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	batch       []models.TradeRecord
	batchMu     sync.Mutex
	flushTicker *time.Ticker
}

// NewStore connects to the configured database and ensures the schema
// exists. A sink that cannot reach its database at startup is a fatal
// condition for the caller.
func NewStore(cfg *appconfig.Config, records <-chan models.TradeRecord) (*Store, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	poolCfg, err := pgxpool.ParseConfig(cfg.Sink.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, tradeRecordsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.WithComponent("store").WithFields(logger.Fields{
		"batch_size":     cfg.Sink.BatchSize,
		"flush_interval": cfg.Sink.FlushInterval,
	}).Info("store initialized")

	return &Store{
		config:  cfg,
		records: records,
		pool:    pool,
		wg:      &sync.WaitGroup{},
		log:     log,
		batch:   make([]models.TradeRecord, 0, cfg.Sink.BatchSize),
	}, nil
}

func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("store already running")
	}
	s.running = true
	s.ctx = ctx
	s.mu.Unlock()

	log := s.log.WithComponent("store").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting store")

	s.flushTicker = time.NewTicker(s.config.Sink.FlushInterval)

	s.wg.Add(1)
	go s.worker()

	s.wg.Add(1)
	go s.flushWorker()

	log.Info("store started successfully")
	return nil
}

func (s *Store) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}

	s.log.WithComponent("store").Info("stopping store")
	s.wg.Wait()
	s.flush("shutdown")
	s.pool.Close()
	s.log.WithComponent("store").Info("store stopped")
}

func (s *Store) worker() {
	defer s.wg.Done()

	log := s.log.WithComponent("store").WithFields(logger.Fields{"worker": "sink"})
	log.Info("starting sink worker")

	for {
		select {
		case <-s.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case record, ok := <-s.records:
			if !ok {
				log.Info("record channel closed, worker stopping")
				return
			}
			s.addRecord(record)
		}
	}
}

func (s *Store) flushWorker() {
	defer s.wg.Done()

	log := s.log.WithComponent("store").WithFields(logger.Fields{"worker": "flush"})

	for {
		select {
		case <-s.ctx.Done():
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-s.flushTicker.C:
			s.flush("interval")
		}
	}
}

func (s *Store) addRecord(record models.TradeRecord) {
	s.batchMu.Lock()
	s.batch = append(s.batch, record)
	full := len(s.batch) >= s.config.Sink.BatchSize
	s.batchMu.Unlock()

	if full {
		s.flush("batch_size")
	}
}

// flush takes ownership of the current batch and writes it out, retrying
// failed writes with capped backoff. A batch that still fails after the
// configured attempts is reported with its trade ids, never dropped
// quietly.
func (s *Store) flush(reason string) {
	s.batchMu.Lock()
	if len(s.batch) == 0 {
		s.batchMu.Unlock()
		return
	}
	batch := s.batch
	s.batch = make([]models.TradeRecord, 0, s.config.Sink.BatchSize)
	s.batchMu.Unlock()

	log := s.log.WithComponent("store").WithFields(logger.Fields{
		"records": len(batch),
		"reason":  reason,
	})

	attempts := s.config.Sink.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := s.config.Sink.RetryDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var inserted int
		inserted, err = s.insertBatch(batch)
		if err == nil {
			logger.IncrementRecordPersisted(inserted)
			log.WithFields(logger.Fields{
				"inserted":   inserted,
				"duplicates": len(batch) - inserted,
			}).Debug("batch persisted")
			return
		}

		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
		}).Warn("batch insert failed, retrying")

		if attempt < attempts {
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
			}
			delay *= 2
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
		}
	}

	log.WithError(err).WithEnv("PREDFLOW_DB_URL").WithFields(logger.Fields{
		"trade_ids": tradeIDs(batch),
	}).Error("batch insert failed after all retries, records lost")
}

func (s *Store) insertBatch(records []models.TradeRecord) (int, error) {
	batch := &pgx.Batch{}
	for i := range records {
		batch.Queue(insertTradeRecord, recordArgs(&records[i])...)
	}

	ctx := context.WithoutCancel(s.ctx)
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range records {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to insert trade record: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}
	return inserted, nil
}

func recordArgs(r *models.TradeRecord) []any {
	return []any{
		r.Venue,
		r.TradeID,
		r.MarketID,
		r.Question,
		r.Price,
		r.Size,
		r.Side,
		r.Wallet,
		r.NotionalUSD,
		r.Timestamp,
		r.Classification.Niche,
		r.Classification.Stock,
		r.Classification.Excluded,
		r.Interesting,
		r.ClusterID,
		r.MarketVolumeUSD,
		r.ProcessedAt,
	}
}

func tradeIDs(records []models.TradeRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, fmt.Sprintf("%s:%s", r.Venue, r.TradeID))
	}
	return ids
}
