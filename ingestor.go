package kustoingest

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Report is the outcome of one ingestion run.
type Report struct {
	RunID     string
	CSV       string
	Database  string
	Table     string
	Watermark Watermark
	Rows      FilterStats
	DryRun    bool
	// Ingestion is nil when nothing was pushed.
	Ingestion *IngestionResult
	Elapsed   time.Duration
}

// Ingestor runs the watermark, filter and push steps for one input file.
type Ingestor struct {
	Resolver *WatermarkResolver
	Pusher   *BulkPusher
	Parser   TimeParser
	Metrics  *Metrics
	// DryRun stops the run before the push.
	DryRun bool
}

// NewIngestor wires an Ingestor to the cluster described by cfg.
func NewIngestor(cfg *Config, creds Credentials, metrics *Metrics) (*Ingestor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := NewAPIClientFromConfig(cfg, creds)
	if client.accessTokenLoader == nil {
		return nil, ErrMissingCredentials
	}
	return &Ingestor{
		Resolver: NewWatermarkResolver(client, cfg, metrics),
		Pusher:   NewBulkPusher(client, cfg, metrics),
		Parser:   NewTimeParser(cfg),
		Metrics:  metrics,
		DryRun:   cfg.DryRun,
	}, nil
}

// Run ingests the rows of csvPath newer than the stored watermark. It
// returns a nil report when the input cannot be read, and the report built
// so far together with the error when the push fails.
func (in *Ingestor) Run(ctx context.Context, csvPath string) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:    uuid.NewString(),
		CSV:      csvPath,
		Database: in.Pusher.Database,
		Table:    in.Pusher.Table,
		DryRun:   in.DryRun,
	}
	ctx = context.WithValue(ctx, RunIDKey, report.RunID)
	ctx = context.WithValue(ctx, TableKey, report.Table)
	logger := withContextAttrs(LoggerFromContext(ctx), ctx)
	ctx = WithLogger(ctx, logger)

	wm, err := in.Resolver.Resolve(ctx)
	if err != nil {
		in.Metrics.observeError("watermark", err)
		return nil, err
	}
	report.Watermark = wm

	batch, err := ReadCSV(csvPath, in.Parser)
	if err != nil {
		in.Metrics.observeError("read", err)
		logger.Error("failed to read input", "csv", csvPath, "error", err.Error())
		return nil, err
	}

	filtered, stats := FilterRecords(batch, wm)
	in.Metrics.observeFilter(wm, stats)
	report.Rows = stats
	logger.Info("filtered input",
		"read", stats.Read, "not_after_watermark", stats.NotAfterWatermark, "missing", stats.Missing, "kept", stats.Kept)

	if in.DryRun {
		logger.Info("dry run, skipping push")
		report.Elapsed = time.Since(start)
		return report, nil
	}

	result, err := in.Pusher.Push(ctx, filtered)
	report.Elapsed = time.Since(start)
	if err != nil {
		in.Metrics.observeError("push", err)
		return report, err
	}
	report.Ingestion = result
	in.Metrics.observeSuccess(time.Now())
	return report, nil
}

// ResolveWatermark runs only the watermark step.
func (in *Ingestor) ResolveWatermark(ctx context.Context) (Watermark, error) {
	wm, err := in.Resolver.Resolve(ctx)
	if err != nil {
		in.Metrics.observeError("watermark", err)
	}
	return wm, err
}
