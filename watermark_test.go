package kustoingest

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type querierFunc func(ctx context.Context, csl string) (*QueryResponse, error)

func (f querierFunc) Query(ctx context.Context, csl string) (*QueryResponse, error) {
	return f(ctx, csl)
}

func datetimeResult(column string, rows ...interface{}) *QueryResponse {
	table := DataTable{
		TableName: "Table_0",
		Columns:   []DataColumn{{ColumnName: column, DataType: "DateTime", ColumnType: "datetime"}},
		Rows:      [][]interface{}{},
	}
	for _, v := range rows {
		table.Rows = append(table.Rows, []interface{}{v})
	}
	return &QueryResponse{Tables: []DataTable{table}}
}

func newTestResolver(q Querier) *WatermarkResolver {
	return &WatermarkResolver{
		Querier:  q,
		Table:    "Sensors",
		Column:   "DateTime",
		Attempts: 4,
		Delay:    20 * time.Millisecond,
	}
}

func TestResolveWatermark(t *testing.T) {
	var gotCSL string
	r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		gotCSL = csl
		return datetimeResult("DateTime", "2024-01-02T00:00:00Z"), nil
	}))

	wm, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, wm.Valid)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), wm.Time)
	assert.Equal(t, "2024-01-02T00:00:00Z", wm.String())
	assert.Equal(t, "['Sensors'] | order by ['DateTime'] desc | take 1 | project ['DateTime']", gotCSL)
}

func TestResolveWatermarkEmptyExhaustsAttempts(t *testing.T) {
	var calls int32
	r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		atomic.AddInt32(&calls, 1)
		return datetimeResult("DateTime"), nil
	}))
	r.Metrics = NewMetrics()

	start := time.Now()
	wm, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.False(t, wm.Valid)
	assert.Equal(t, "none", wm.String())
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
	assert.GreaterOrEqual(t, time.Since(start), 3*r.Delay)
	assert.Equal(t, float64(4), testutil.ToFloat64(r.Metrics.WatermarkAttempts))
}

func TestResolveWatermarkNullCellIsEmpty(t *testing.T) {
	var calls int32
	r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return datetimeResult("DateTime", nil), nil
		}
		return datetimeResult("DateTime", "2024-03-01T12:30:00.5Z"), nil
	}))

	wm, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, wm.Valid)
	assert.Equal(t, 500*time.Millisecond, wm.Time.Sub(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)))
	assert.Equal(t, int32(3), calls)
}

func TestResolveWatermarkTransientRecovers(t *testing.T) {
	var calls int32
	r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, NewAPIError("please retry again later", http.StatusServiceUnavailable, nil)
		}
		return datetimeResult("DateTime", "2024-01-02T00:00:00Z"), nil
	}))

	wm, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.True(t, wm.Valid)
	assert.Equal(t, int32(3), calls)
}

func TestResolveWatermarkTransientExhausted(t *testing.T) {
	var calls int32
	q := querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.Join(ErrDoRequest, errors.New("connection refused"))
	})

	r := newTestResolver(q)
	wm, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.False(t, wm.Valid)
	assert.Equal(t, int32(4), calls)

	atomic.StoreInt32(&calls, 0)
	r.Strict = true
	_, err = r.Resolve(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindTransient, Classify(err))
	assert.Equal(t, int32(4), calls)
}

func TestResolveWatermarkNotRetried(t *testing.T) {
	tests := []struct {
		name string
		resp *QueryResponse
		err  error
		kind ErrorKind
	}{
		{"unauthorized", nil, NewAPIError("", http.StatusUnauthorized, nil), KindAuth},
		{"authentication", nil, errors.Join(ErrAuthentication, errors.New("invalid client secret")), KindAuth},
		{"bad query", nil, NewAPIError("please check your arguments", http.StatusBadRequest, nil), KindQuery},
		{"missing column", datetimeResult("Other", "2024-01-02T00:00:00Z"), nil, KindQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
				atomic.AddInt32(&calls, 1)
				return tt.resp, tt.err
			}))
			r.Metrics = NewMetrics()

			_, err := r.Resolve(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.kind, Classify(err))
			assert.Equal(t, int32(1), calls)
			assert.Equal(t, float64(1), testutil.ToFloat64(r.Metrics.WatermarkAttempts))
		})
	}
}

func TestResolveWatermarkMissingColumn(t *testing.T) {
	r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		return datetimeResult("Other", "2024-01-02T00:00:00Z"), nil
	}))
	_, err := r.Resolve(context.Background())
	assert.True(t, errors.Is(err, ErrNoTimestampColumn))
}

func TestResolveWatermarkStringColumn(t *testing.T) {
	r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		return &QueryResponse{Tables: []DataTable{{
			TableName: "Table_0",
			Columns:   []DataColumn{{ColumnName: "DateTime", DataType: "String"}},
			Rows:      [][]interface{}{{"2024-01-02 06:00:00"}},
		}}}, nil
	}))
	r.Parser = TimeParser{Location: time.FixedZone("UTC+6", 6*3600)}

	wm, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), wm.Time)
}

func TestResolveWatermarkCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		cancel()
		return datetimeResult("DateTime"), nil
	}))
	r.Delay = time.Hour

	_, err := r.Resolve(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResolveWatermarkFakeStore(t *testing.T) {
	store := newFakeStore(t, "DateTime")
	store.stored = []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	cfg := store.config()
	client := NewAPIClientFromConfig(cfg, Credentials{})

	wm, err := NewWatermarkResolver(client, cfg, nil).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, NewWatermark(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), wm)
	assert.Equal(t, 1, store.queryCount())
}

func TestResolveWatermarkLogging(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	r := newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		return datetimeResult("DateTime"), nil
	}))
	r.Delay = time.Millisecond
	_, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "no watermark")

	buf.Reset()
	r = newTestResolver(querierFunc(func(ctx context.Context, csl string) (*QueryResponse, error) {
		return datetimeResult("Other", "2024-01-02T00:00:00Z"), nil
	}))
	_, err = r.Resolve(ctx)
	require.Error(t, err)
	out := strings.TrimSpace(buf.String())
	require.NotEmpty(t, out)
	for _, line := range strings.Split(out, "\n") {
		assert.True(t, strings.HasPrefix(line, "time="), "unexpected log line %q", line)
	}
	assert.Contains(t, out, "timestamp column missing")
}
