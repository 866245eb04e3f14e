package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "predflow/config"
	"predflow/logger"
	"predflow/models"
)

// ArchiveRecord is the parquet row layout for archived trades. ClusterID
// zero means the trade carried no cluster assignment.
type ArchiveRecord struct {
	Venue           string  `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketID        string  `parquet:"name=market_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TradeID         string  `parquet:"name=trade_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Question        string  `parquet:"name=question, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price           float64 `parquet:"name=price, type=DOUBLE"`
	Size            float64 `parquet:"name=size, type=DOUBLE"`
	Side            string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Wallet          string  `parquet:"name=wallet, type=BYTE_ARRAY, convertedtype=UTF8"`
	NotionalUSD     float64 `parquet:"name=notional_usd, type=DOUBLE"`
	Timestamp       int64   `parquet:"name=timestamp, type=INT64"`
	Niche           bool    `parquet:"name=niche, type=BOOLEAN"`
	Stock           bool    `parquet:"name=stock, type=BOOLEAN"`
	Excluded        bool    `parquet:"name=excluded, type=BOOLEAN"`
	Interesting     bool    `parquet:"name=interesting, type=BOOLEAN"`
	ClusterID       int64   `parquet:"name=cluster_id, type=INT64"`
	MarketVolumeUSD float64 `parquet:"name=market_volume_usd, type=DOUBLE"`
	ProcessedAt     int64   `parquet:"name=processed_at, type=INT64"`
}

// memoryFile implements the ParquetFile interface over a byte buffer so
// files are encoded fully in memory before upload.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(name string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(name string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFile) Seek(offset int64, whence int) (int64, error) {
	return int64(m.buffer.Len()), nil
}
func (m *memoryFile) Read(b []byte) (int, error)  { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error) { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                { return nil }
func (m *memoryFile) Bytes() []byte               { return m.buffer.Bytes() }

// Archive writes processed trade records to S3 as parquet files,
// partitioned by venue and date. It is optional and off by default.
type Archive struct {
	config      *appconfig.Config
	records     <-chan models.TradeRecord
	s3Client    *s3.Client
	ctx         context.Context
	wg          *sync.WaitGroup
	mu          sync.RWMutex
	running     bool
	log         *logger.Log
	buffer      map[string][]models.TradeRecord
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
}

func NewArchive(cfg *appconfig.Config, records <-chan models.TradeRecord) (*Archive, error) {
	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Archive.S3.Region),
	}
	if cfg.Archive.S3.AccessKeyID != "" && cfg.Archive.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Archive.S3.AccessKeyID,
				cfg.Archive.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Archive.S3.PathStyle
	})

	log.WithComponent("archive").WithFields(logger.Fields{
		"bucket":     cfg.Archive.S3.Bucket,
		"region":     cfg.Archive.S3.Region,
		"endpoint":   cfg.Archive.S3.Endpoint,
		"path_style": cfg.Archive.S3.PathStyle,
	}).Info("archive writer initialized")

	return &Archive{
		config:   cfg,
		records:  records,
		s3Client: s3Client,
		wg:       &sync.WaitGroup{},
		log:      log,
		buffer:   make(map[string][]models.TradeRecord),
	}, nil
}

func (a *Archive) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archive writer already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"operation": "start"})
	log.Info("starting archive writer")

	a.flushTicker = time.NewTicker(a.config.Archive.FlushInterval)

	a.wg.Add(1)
	go a.worker()

	a.wg.Add(1)
	go a.flushWorker()

	log.Info("archive writer started successfully")
	return nil
}

func (a *Archive) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	if a.flushTicker != nil {
		a.flushTicker.Stop()
	}

	a.log.WithComponent("archive").Info("stopping archive writer")
	a.wg.Wait()
	a.flushBuffers("shutdown")
	a.log.WithComponent("archive").Info("archive writer stopped")
}

func (a *Archive) worker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "archive"})
	log.Info("starting archive worker")

	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case record, ok := <-a.records:
			if !ok {
				log.Info("record channel closed, worker stopping")
				return
			}
			a.addRecord(record)
		}
	}
}

func (a *Archive) flushWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("archive").WithFields(logger.Fields{"worker": "flush"})

	for {
		select {
		case <-a.ctx.Done():
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-a.flushTicker.C:
			a.flushBuffers("interval")
		}
	}
}

func (a *Archive) addRecord(record models.TradeRecord) {
	a.bufferMu.Lock()
	a.buffer[record.Venue] = append(a.buffer[record.Venue], record)
	full := len(a.buffer[record.Venue]) >= a.config.Archive.BatchSize
	a.bufferMu.Unlock()

	if full {
		a.flushBuffers("batch_size")
	}
}

func (a *Archive) flushBuffers(reason string) {
	a.bufferMu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]models.TradeRecord)
	a.bufferMu.Unlock()

	if len(buffers) == 0 {
		return
	}

	a.log.WithComponent("archive").WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Info("flushing archive buffers")

	for venue, records := range buffers {
		if len(records) == 0 {
			continue
		}
		a.processBatch(venue, records)
	}
}

func (a *Archive) processBatch(venue string, records []models.TradeRecord) {
	key := archiveKey(venue, time.Now().UTC())
	log := a.log.WithComponent("archive").WithFields(logger.Fields{
		"venue":        venue,
		"record_count": len(records),
		"s3_key":       key,
		"operation":    "process_batch",
	})

	data, err := encodeParquet(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return
	}

	if err := a.upload(key, data); err != nil {
		log.WithError(err).
			WithEnv("S3_BUCKET").
			WithFields(logger.Fields{"bucket": a.config.Archive.S3.Bucket}).
			Error("failed to upload archive file")
		return
	}

	logger.IncrementArchiveWrite(int64(len(data)))
	log.WithFields(logger.Fields{"file_size": len(data)}).Info("archive batch uploaded")
}

func archiveKey(venue string, ts time.Time) string {
	return path.Join(
		fmt.Sprintf("venue=%s", venue),
		fmt.Sprintf("date=%s", ts.Format("2006-01-02")),
		fmt.Sprintf("%s_trades_%s_%s.parquet", venue, ts.Format("20060102150405"), uuid.New().String()),
	)
}

func encodeParquet(records []models.TradeRecord) ([]byte, error) {
	fw := newMemoryFile()

	pw, err := parquetwriter.NewParquetWriter(fw, new(ArchiveRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i := range records {
		if err := pw.Write(archiveRecord(&records[i])); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func archiveRecord(r *models.TradeRecord) ArchiveRecord {
	var clusterID int64
	if r.ClusterID != nil {
		clusterID = *r.ClusterID
	}
	return ArchiveRecord{
		Venue:           r.Venue,
		MarketID:        r.MarketID,
		TradeID:         r.TradeID,
		Question:        r.Question,
		Price:           r.Price,
		Size:            r.Size,
		Side:            r.Side,
		Wallet:          r.Wallet,
		NotionalUSD:     r.NotionalUSD,
		Timestamp:       r.Timestamp.UnixMilli(),
		Niche:           r.Classification.Niche,
		Stock:           r.Classification.Stock,
		Excluded:        r.Classification.Excluded,
		Interesting:     r.Interesting,
		ClusterID:       clusterID,
		MarketVolumeUSD: r.MarketVolumeUSD,
		ProcessedAt:     r.ProcessedAt.UnixMilli(),
	}
}

func (a *Archive) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Archive.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":     "parquet",
			"predflow-version": a.config.Predflow.Version,
		},
	}

	ctx := context.WithoutCancel(a.ctx)
	if _, err := a.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.config.Archive.S3.Bucket, err)
	}
	return nil
}
