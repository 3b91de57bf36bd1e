package kustoingest

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
)

// Watermark is the timestamp of the most recent record already stored.
// The zero value means no watermark.
type Watermark struct {
	Time  time.Time
	Valid bool
}

func NewWatermark(t time.Time) Watermark {
	return Watermark{Time: t.UTC(), Valid: true}
}

func (w Watermark) String() string {
	if !w.Valid {
		return "none"
	}
	return formatTimestamp(w.Time)
}

// Querier runs a query against the remote store.
type Querier interface {
	Query(ctx context.Context, csl string) (*QueryResponse, error)
}

// WatermarkResolver finds the latest stored value of a timestamp column,
// retrying transient failures and empty results with a fixed delay.
type WatermarkResolver struct {
	Querier  Querier
	Table    string
	Column   string
	Attempts uint
	Delay    time.Duration
	// Strict makes a transient failure on the last attempt an error instead
	// of falling back to no watermark.
	Strict  bool
	Parser  TimeParser
	Metrics *Metrics
}

func NewWatermarkResolver(q Querier, cfg *Config, metrics *Metrics) *WatermarkResolver {
	return &WatermarkResolver{
		Querier:  q,
		Table:    cfg.Table,
		Column:   cfg.TimestampColumn,
		Attempts: cfg.RetryAttempts,
		Delay:    cfg.RetryDelay,
		Strict:   cfg.StrictWatermark,
		Parser:   NewTimeParser(cfg),
		Metrics:  metrics,
	}
}

// Resolve returns the watermark. When every attempt returns no rows, or the
// last attempt fails transiently and Strict is unset, it returns no
// watermark and a nil error. Auth and query errors are returned at once.
func (r *WatermarkResolver) Resolve(ctx context.Context) (Watermark, error) {
	logger := LoggerFromContext(ctx)
	csl := watermarkQuery(r.Table, r.Column)
	attempts := r.Attempts
	if attempts == 0 {
		attempts = defaultRetryAttempts
	}

	var (
		wm      Watermark
		attempt uint
	)
	start := time.Now()
	err := retry.Do(
		func() error {
			attempt++
			resp, err := r.Querier.Query(ctx, csl)
			if err == nil {
				wm, err = r.decode(resp)
			}
			switch kind := Classify(err); {
			case err == nil:
			case kind == KindEmptyResult:
				logger.Debug("watermark query returned no rows", "attempt", attempt, "attempts", attempts)
			default:
				logger.Warn("watermark query failed",
					"attempt", attempt, "attempts", attempts, "kind", kind.String(), "error", err.Error())
			}
			return err
		},
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && Classify(err).Retryable()
		}),
		retry.Attempts(attempts),
		retry.Delay(r.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	r.Metrics.observeWatermark(attempt, time.Since(start))

	if err == nil {
		logger.Info("resolved watermark", "watermark", wm.String(), "attempts", attempt)
		return wm, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Watermark{}, errors.Wrap(ctxErr, "watermark query interrupted")
	}

	switch kind := Classify(err); kind {
	case KindEmptyResult:
		logger.Info("no watermark, all rows of the input are new", "attempts", attempt)
		return Watermark{}, nil
	case KindTransient:
		if r.Strict {
			return Watermark{}, fmt.Errorf("failed to resolve watermark after %d attempts: %w", attempt, err)
		}
		logger.Warn("watermark unavailable, continuing without one", "attempts", attempt, "error", err.Error())
		return Watermark{}, nil
	default:
		return Watermark{}, fmt.Errorf("failed to resolve watermark: %w", err)
	}
}

func (r *WatermarkResolver) decode(resp *QueryResponse) (Watermark, error) {
	table, err := resp.PrimaryResult()
	if err != nil {
		return Watermark{}, err
	}
	if len(table.Rows) == 0 {
		return Watermark{}, ErrEmptyResult
	}
	idx := table.ColumnIndex(r.Column)
	if idx < 0 {
		return Watermark{}, errors.Wrapf(ErrNoTimestampColumn, "column %s", r.Column)
	}
	row := table.Rows[0]
	if idx >= len(row) {
		return Watermark{}, errors.Wrapf(ErrNoTimestampColumn, "short result row for column %s", r.Column)
	}
	t, ok, err := decodeTimestampCell(table.Columns[idx], row[idx], r.Parser)
	if err != nil {
		return Watermark{}, err
	}
	if !ok {
		return Watermark{}, ErrEmptyResult
	}
	return NewWatermark(t), nil
}
