package kustoingest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
)

type ingestCall struct {
	Path    string
	Query   string
	Header  http.Header
	Body    []byte
	Records [][]string
}

// fakeStore mimics the query and streaming ingestion endpoints of a
// cluster holding a single table with a datetime column.
type fakeStore struct {
	t      *testing.T
	srv    *httptest.Server
	column string

	mu      sync.Mutex
	stored  []time.Time
	queries []QueryRequest
	ingests []ingestCall

	// when set they replace the default behaviour of the endpoints
	onQuery  func(n int, req QueryRequest) (int, interface{})
	onIngest func(call ingestCall) (int, interface{})
}

func newFakeStore(t *testing.T, column string) *fakeStore {
	s := &fakeStore{t: t, column: column}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/rest/query", s.handleQuery)
	mux.HandleFunc("/v1/rest/ingest/", s.handleIngest)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *fakeStore) config() *Config {
	cfg := NewConfig()
	cfg.QueryEndpoint = s.srv.URL
	cfg.Scheme = "http"
	cfg.Database = "db"
	cfg.Table = "Sensors"
	cfg.TimestampColumn = s.column
	cfg.AccessToken = "test-token"
	cfg.RetryDelay = 5 * time.Millisecond
	return cfg
}

func (s *fakeStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *fakeStore) query(i int) QueryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[i]
}

func (s *fakeStore) ingestCalls() []ingestCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ingestCall(nil), s.ingests...)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *fakeStore) handleQuery(w http.ResponseWriter, r *http.Request) {
	assert.Equal(s.t, http.MethodPost, r.Method)
	assert.Equal(s.t, "Bearer test-token", r.Header.Get(Authorization))
	assert.NotEmpty(s.t, r.Header.Get(ClientRequestIDHeader))

	var req QueryRequest
	if !assert.NoError(s.t, json.NewDecoder(r.Body).Decode(&req)) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.queries = append(s.queries, req)
	n := len(s.queries)
	onQuery := s.onQuery
	s.mu.Unlock()

	if onQuery != nil {
		status, body := onQuery(n, req)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, s.maxRow())
}

func (s *fakeStore) maxRow() QueryResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	table := DataTable{
		TableName: "Table_0",
		Columns:   []DataColumn{{ColumnName: s.column, DataType: "DateTime", ColumnType: "datetime"}},
		Rows:      [][]interface{}{},
	}
	if len(s.stored) > 0 {
		max := s.stored[0]
		for _, ts := range s.stored[1:] {
			if ts.After(max) {
				max = ts
			}
		}
		table.Rows = append(table.Rows, []interface{}{max.UTC().Format(time.RFC3339Nano)})
	}
	return QueryResponse{Tables: []DataTable{table}}
}

func (s *fakeStore) handleIngest(w http.ResponseWriter, r *http.Request) {
	assert.Equal(s.t, http.MethodPost, r.Method)
	assert.Equal(s.t, "Bearer test-token", r.Header.Get(Authorization))

	var reader io.Reader = r.Body
	if r.Header.Get(ContentEncoding) == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		if !assert.NoError(s.t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reader = gz
	}
	body, err := io.ReadAll(reader)
	if !assert.NoError(s.t, err) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	records, err := csv.NewReader(bytes.NewReader(body)).ReadAll()
	if !assert.NoError(s.t, err) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	call := ingestCall{
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Header:  r.Header.Clone(),
		Body:    body,
		Records: records,
	}
	s.mu.Lock()
	s.ingests = append(s.ingests, call)
	onIngest := s.onIngest
	s.mu.Unlock()

	if onIngest != nil {
		status, resp := onIngest(call)
		writeJSON(w, status, resp)
		return
	}

	s.mu.Lock()
	for _, rec := range records {
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if assert.NoError(s.t, err) {
			s.stored = append(s.stored, ts)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, QueryResponse{Tables: []DataTable{{
		TableName: "Table_0",
		Columns:   []DataColumn{{ColumnName: "ConsumedRecordsCount", DataType: "Int64"}, {ColumnName: "UpdatePolicyStatus", DataType: "String"}},
		Rows:      [][]interface{}{{len(records), "Inactive"}},
	}}})
}

func serviceErrorBody(code, typ, message string, permanent bool) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"@type":      typ,
			"@message":   message,
			"@permanent": permanent,
		},
	}
}
