// Sales data ingestion pipeline.
// Buffers validated records and flushes them to the relational store in
// batches, either on size or on a timer.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sales-forecasting-platform/config"
	"sales-forecasting-platform/store"
)

// StoreWriter abstracts the persistence layer for buffered flushes.
type StoreWriter interface {
	UpsertSales(records []store.SalesRecord) error
}

// Stats is a snapshot of processor counters.
type Stats struct {
	TotalIngested    int64 `json:"total_ingested"`
	TotalPersisted   int64 `json:"total_persisted"`
	TotalRejected    int64 `json:"total_rejected"`
	BatchesPersisted int64 `json:"batches_persisted"`
}

// Processor buffers incoming sales records and writes them to the store in
// batches.
type Processor struct {
	writer        StoreWriter
	validator     *Validator
	log           *logrus.Entry
	bufferSize    int
	batchSize     int
	flushInterval time.Duration

	mu        sync.Mutex
	buffer    []store.SalesRecord
	isRunning bool
	stopChan  chan struct{}
	wg        sync.WaitGroup

	stats   Stats
	statsMu sync.RWMutex
}

// NewProcessor creates an ingestion processor.
func NewProcessor(writer StoreWriter, cfg config.IngestionConfig, log *logrus.Logger) *Processor {
	return &Processor{
		writer:        writer,
		validator:     NewValidator(cfg.ValidationRules),
		log:           log.WithField("component", "ingestion"),
		bufferSize:    cfg.BufferSize,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval.Duration,
		buffer:        make([]store.SalesRecord, 0, cfg.BufferSize),
		stopChan:      make(chan struct{}),
	}
}

// Start launches the background flush routine.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return fmt.Errorf("ingestion processor already running")
	}
	p.isRunning = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.flushRoutine(ctx)

	p.log.WithFields(logrus.Fields{
		"batch_size":     p.batchSize,
		"flush_interval": p.flushInterval,
	}).Info("ingestion processor started")
	return nil
}

// Stop drains the buffer and stops the flush routine.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return
	}
	p.isRunning = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	p.Flush()

	p.log.Info("ingestion processor stopped")
}

// Ingest validates and buffers a single record.
func (p *Processor) Ingest(record Record) error {
	if err := p.validator.Validate(record); err != nil {
		p.bumpRejected(1)
		return fmt.Errorf("validation failed: %w", err)
	}

	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return fmt.Errorf("ingestion processor not running")
	}
	p.buffer = append(p.buffer, record.toStore())
	shouldFlush := len(p.buffer) >= p.batchSize || len(p.buffer) >= p.bufferSize
	p.mu.Unlock()

	p.bumpIngested(1)
	if shouldFlush {
		p.Flush()
	}
	return nil
}

// IngestBatch validates and buffers many records at once. It is all-or-nothing:
// if any record fails validation, none are buffered and the first error is
// returned with its index.
func (p *Processor) IngestBatch(records []Record) error {
	for i, record := range records {
		if err := p.validator.Validate(record); err != nil {
			p.bumpRejected(1)
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	converted := make([]store.SalesRecord, len(records))
	for i, record := range records {
		converted[i] = record.toStore()
	}

	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return fmt.Errorf("ingestion processor not running")
	}
	p.buffer = append(p.buffer, converted...)
	shouldFlush := len(p.buffer) >= p.batchSize
	p.mu.Unlock()

	p.bumpIngested(int64(len(records)))
	if shouldFlush {
		p.Flush()
	}
	return nil
}

// IngestJSON decodes and ingests a JSON array of records.
func (p *Processor) IngestJSON(data []byte) (int, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("decode sales payload: %w", err)
	}
	if err := p.IngestBatch(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

// Flush writes all buffered records to the store.
func (p *Processor) Flush() {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := make([]store.SalesRecord, len(p.buffer))
	copy(batch, p.buffer)
	p.buffer = p.buffer[:0]
	p.mu.Unlock()

	if err := p.writer.UpsertSales(batch); err != nil {
		p.log.WithError(err).WithField("records", len(batch)).Error("batch persist failed")
		p.bumpRejected(int64(len(batch)))
		return
	}

	p.statsMu.Lock()
	p.stats.TotalPersisted += int64(len(batch))
	p.stats.BatchesPersisted++
	p.statsMu.Unlock()

	p.log.WithField("records", len(batch)).Debug("batch persisted")
}

func (p *Processor) flushRoutine(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.Flush()
		}
	}
}

// Stats returns a snapshot of the processor counters.
func (p *Processor) Stats() Stats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

// BufferLen returns current buffer utilization.
func (p *Processor) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// IsRunning reports whether the processor is active.
func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

func (p *Processor) bumpIngested(n int64) {
	p.statsMu.Lock()
	p.stats.TotalIngested += n
	p.statsMu.Unlock()
}

func (p *Processor) bumpRejected(n int64) {
	p.statsMu.Lock()
	p.stats.TotalRejected += n
	p.statsMu.Unlock()
}
