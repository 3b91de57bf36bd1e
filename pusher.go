package kustoingest

import (
	"context"
	"time"
)

// StreamIngester submits a prepared body to a table.
type StreamIngester interface {
	StreamIngest(ctx context.Context, table, format string, body []byte, gzipped bool) (*StreamIngestResponse, error)
}

// BulkPusher sends a record batch to the store as one request. Pushes are
// never retried.
type BulkPusher struct {
	Ingester StreamIngester
	Database string
	Table    string
	Format   string
	Gzip     bool
	Metrics  *Metrics
}

func NewBulkPusher(ingester StreamIngester, cfg *Config, metrics *Metrics) *BulkPusher {
	return &BulkPusher{
		Ingester: ingester,
		Database: cfg.Database,
		Table:    cfg.Table,
		Format:   defaultDataFormat,
		Gzip:     cfg.GzipCompression,
		Metrics:  metrics,
	}
}

// Push submits batch. An empty batch is not sent and yields a skipped result.
// A structured store failure is returned as *PushError.
func (p *BulkPusher) Push(ctx context.Context, batch *RecordBatch) (*IngestionResult, error) {
	logger := LoggerFromContext(ctx)
	result := &IngestionResult{
		Database: p.Database,
		Table:    p.Table,
		Format:   p.Format,
	}
	if batch.Len() == 0 {
		logger.Info("nothing to push")
		result.Skipped = true
		return result, nil
	}

	encoded, err := encodeBatch(batch, p.Gzip)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.Ingester.StreamIngest(ctx, p.Table, p.Format, encoded.body, encoded.gzipped)
	result.Duration = time.Since(start)
	if err != nil {
		err = newPushError(err)
		if pushErr, ok := err.(*PushError); ok {
			logger.Error("push failed",
				"semantic_error", pushErr.SemanticError,
				"partial_results", pushErr.HasPartialResults,
				"partial_rows", pushErr.PartialRows,
				"error", pushErr.Err.Error())
		} else {
			logger.Error("push failed", "error", err.Error())
		}
		return nil, err
	}
	p.Metrics.observePush(int64(len(encoded.body)), result.Duration)

	result.RequestID = resp.RequestID
	result.ExtentID = resp.ExtentID
	result.Acknowledged = resp.ConsumedRecords
	result.Rows = encoded.rows
	result.Bytes = int64(len(encoded.body))
	logger.Info("pushed batch", "rows", result.Rows, "bytes", result.Bytes, "request_id", result.RequestID, "duration", result.Duration)
	return result, nil
}
