package writer

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	parquetwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "tradeflow/config"
	"tradeflow/internal/channel"
	"tradeflow/logger"
	"tradeflow/models"
)

// BarRecord is the parquet row layout for archived OHLCV bars.
type BarRecord struct {
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timeframe string  `parquet:"name=timeframe, type=BYTE_ARRAY, convertedtype=UTF8"`
	Open      float64 `parquet:"name=open, type=DOUBLE"`
	High      float64 `parquet:"name=high, type=DOUBLE"`
	Low       float64 `parquet:"name=low, type=DOUBLE"`
	Close     float64 `parquet:"name=close, type=DOUBLE"`
	Volume    float64 `parquet:"name=volume, type=DOUBLE"`
	Start     int64   `parquet:"name=start, type=INT64"`
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error)  { return mfw, nil }
func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}
func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

// Archiver drains finalized bars from the bar channel, buffers them per
// (symbol, timeframe) and flushes to S3 as parquet files on an interval or
// when a buffer reaches the batch size, whichever comes first.
type Archiver struct {
	config   *appconfig.Config
	channels *channel.Channels
	s3Client *s3.Client
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	log      *logger.Entry

	bufMu  sync.Mutex
	buffer map[string][]models.Bar
}

func NewArchiver(cfg *appconfig.Config, channels *channel.Channels) (*Archiver, error) {
	log := logger.GetLogger().WithComponent("archiver")
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
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

	log.WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"region": cfg.Storage.S3.Region,
	}).Info("Bar archiver initialized")

	return &Archiver{
		config:   cfg,
		channels: channels,
		s3Client: s3.NewFromConfig(awsCfg),
		log:      log,
		buffer:   make(map[string][]models.Bar),
	}, nil
}

func (a *Archiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("archiver already running")
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(2)
	go a.worker()
	go a.flushWorker()

	a.log.Info("Bar archiver started")
	return nil
}

func (a *Archiver) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	a.flushBuffers("shutdown")
	a.log.Info("Bar archiver stopped")
}

func (a *Archiver) worker() {
	defer a.wg.Done()

	batchSize := a.config.Storage.S3.BatchSize
	if batchSize < 1 {
		batchSize = 500
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case bar, ok := <-a.channels.Bars:
			if !ok {
				return
			}
			key := bufferKey(bar.Symbol, bar.Timeframe)
			a.bufMu.Lock()
			a.buffer[key] = append(a.buffer[key], bar)
			full := len(a.buffer[key]) >= batchSize
			a.bufMu.Unlock()
			if full {
				a.flushBuffers("batch_size")
			}
		}
	}
}

func (a *Archiver) flushWorker() {
	defer a.wg.Done()

	interval := a.config.Storage.S3.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.flushBuffers("interval")
		}
	}
}

func bufferKey(symbol string, tf models.Timeframe) string {
	return symbol + "|" + string(tf)
}

func (a *Archiver) flushBuffers(reason string) {
	a.bufMu.Lock()
	buffers := a.buffer
	a.buffer = make(map[string][]models.Bar)
	a.bufMu.Unlock()

	if len(buffers) == 0 {
		return
	}
	a.log.WithFields(logger.Fields{
		"flushed_buffers": len(buffers),
		"reason":          reason,
	}).Debug("Flushing bar buffers")

	for _, bars := range buffers {
		if len(bars) == 0 {
			continue
		}
		a.processBatch(bars)
	}
}

func (a *Archiver) processBatch(bars []models.Bar) {
	first := bars[0]
	key := a.objectKey(first.Symbol, first.Timeframe, time.Now())
	log := a.log.WithFields(logger.Fields{
		"symbol":    first.Symbol,
		"timeframe": string(first.Timeframe),
		"bars":      len(bars),
		"s3_key":    key,
	})

	data, err := createParquetFile(bars)
	if err != nil {
		log.WithError(err).Error("Failed to create parquet file")
		return
	}
	if err := a.upload(key, data); err != nil {
		log.WithError(err).Error("Failed to upload bars to S3")
		return
	}

	logger.IncrementPersistWrite(len(data))
	log.WithFields(logger.Fields{"file_size": len(data)}).Info("Bar batch archived")
}

func (a *Archiver) objectKey(symbol string, tf models.Timeframe, ts time.Time) string {
	parts := []string{
		fmt.Sprintf("symbol=%s", symbol),
		fmt.Sprintf("timeframe=%s", tf),
		fmt.Sprintf("%04d/%02d/%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("bars_%s_%s_%s.parquet", symbol, tf, ts.UTC().Format("20060102150405")),
	}
	if prefix := a.config.Storage.S3.Prefix; prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return filepath.ToSlash(filepath.Join(parts...))
}

func createParquetFile(bars []models.Bar) ([]byte, error) {
	fw := newMemoryFileWriter()
	pw, err := parquetwriter.NewParquetWriter(fw, new(BarRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, bar := range bars {
		record := BarRecord{
			Symbol:    bar.Symbol,
			Timeframe: string(bar.Timeframe),
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
			Start:     bar.Start.UnixMilli(),
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return fw.Bytes(), nil
}

func (a *Archiver) upload(key string, data []byte) error {
	ctx := context.WithoutCancel(a.ctx)
	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"tradeflow-version": a.config.Tradeflow.Version,
		},
	})
	return err
}
