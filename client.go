package kustoingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type ContextKey string

// ContextUserAgentID is the context key of a suffix appended to the
// User-Agent header, naming the program that drives the client.
const ContextUserAgentID ContextKey = "USER-AGENT"

// streamFormats maps data format names onto the streamFormat values
// accepted by the streaming ingestion endpoint.
var streamFormats = map[string]string{
	"csv":       "Csv",
	"tsv":       "Tsv",
	"psv":       "Psv",
	"json":      "Json",
	"multijson": "MultiJson",
}

type APIClient struct {
	cli *http.Client

	queryEndpoint  string
	ingestEndpoint string
	database       string
	params         map[string]string

	accessTokenLoader AccessTokenLoader

	// only used for testing mocks
	doRequestFunc func(method, path string, req interface{}, resp interface{}) error
}

type requestOptions struct {
	operation       string
	requestID       string
	contentType     string
	contentEncoding string
}

// StreamIngestResponse is the acknowledgement of a streaming ingestion request.
type StreamIngestResponse struct {
	RequestID       string
	ConsumedRecords int64
	ExtentID        string
}

func NewAPIHttpClientFromConfig(cfg *Config) *http.Client {
	cli := &http.Client{
		Timeout: cfg.Timeout,
	}
	if cfg.EnableOpenTelemetry {
		cli.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return cli
}

// NewAPIClientFromConfig creates a client for the cluster described by cfg.
// Tokens come from cfg when it names one, otherwise from creds.
func NewAPIClientFromConfig(cfg *Config, creds Credentials) *APIClient {
	cli := NewAPIHttpClientFromConfig(cfg)
	return &APIClient{
		cli:            cli,
		queryEndpoint:  cfg.QueryURL(),
		ingestEndpoint: cfg.IngestURL(),
		database:       cfg.Database,
		params:         cfg.Params,

		// the token endpoint gets a client without the request timeout override
		accessTokenLoader: initAccessTokenLoader(cfg, creds, &http.Client{Transport: cli.Transport}, cfg.QueryURL()),
	}
}

func (c *APIClient) nextRequestID(operation string) string {
	return fmt.Sprintf("KIG.%s;%s", operation, uuid.NewString())
}

func (c *APIClient) doRequest(ctx context.Context, method, url string, req interface{}, resp interface{}, opts requestOptions) error {
	if c.doRequestFunc != nil {
		return c.doRequestFunc(method, url, req, resp)
	}

	var err error
	reqBody := []byte{}
	switch body := req.(type) {
	case nil:
	case []byte:
		reqBody = body
	default:
		reqBody, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	logger := LoggerFromContext(ctx)
	maxRetries := 2
	for i := 1; i <= maxRetries; i++ {
		// do not retry if context is canceled
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(reqBody))
		if err != nil {
			return fmt.Errorf("failed to create http request: %w", err)
		}
		headers, err := c.makeHeaders(ctx, opts)
		if err != nil {
			return fmt.Errorf("failed to make request headers: %w", err)
		}
		httpReq.Header = headers

		logger.Debug("sending request", "method", method, "url", url, "request_id", headers.Get(ClientRequestIDHeader), "bytes", len(reqBody))
		httpResp, err := c.cli.Do(httpReq)
		if err != nil {
			return errors.Join(ErrDoRequest, err)
		}
		httpRespBody, err := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		if err != nil {
			return errors.Join(ErrReadResponse, err)
		}

		if httpResp.StatusCode == http.StatusUnauthorized {
			if c.accessTokenLoader != nil && i < maxRetries {
				// retry with a rotated access token
				logger.Debug("access token rejected, rotating", "request_id", headers.Get(ClientRequestIDHeader))
				if _, err := c.accessTokenLoader.LoadAccessToken(ctx, true); err != nil {
					return fmt.Errorf("failed to rotate access token: %w", err)
				}
				continue
			}
			return NewAPIError("authorization failed", httpResp.StatusCode, httpRespBody)
		} else if httpResp.StatusCode == http.StatusForbidden {
			return NewAPIError("principal is not allowed to access the database", httpResp.StatusCode, httpRespBody)
		} else if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
			return NewAPIError("please retry again later", httpResp.StatusCode, httpRespBody)
		} else if httpResp.StatusCode >= 400 {
			return NewAPIError("please check your arguments", httpResp.StatusCode, httpRespBody)
		} else if httpResp.StatusCode != http.StatusOK {
			return NewAPIError("unexpected HTTP StatusCode", httpResp.StatusCode, httpRespBody)
		}

		if resp != nil {
			contentType := httpResp.Header.Get("Content-Type")
			if strings.HasPrefix(contentType, "application/json") {
				if err := json.Unmarshal(httpRespBody, &resp); err != nil {
					return fmt.Errorf("failed to unmarshal response body: %w", err)
				}
			}
		}
		return nil
	}
	return fmt.Errorf("failed to do request after %d retries", maxRetries)
}

func (c *APIClient) makeHeaders(ctx context.Context, opts requestOptions) (http.Header, error) {
	headers := http.Header{}
	headers.Set(UserAgent, fmt.Sprintf("%s/%s", applicationName, version))
	if userAgent, ok := ctx.Value(ContextUserAgentID).(string); ok {
		headers.Set(UserAgent, fmt.Sprintf("%s/%s/%s", applicationName, version, userAgent))
	}
	headers.Set(ApplicationHeader, applicationName)
	headers.Set(ClientVersionHeader, fmt.Sprintf("Kusto.Go.Ingest:%s", version))

	if opts.requestID != "" {
		headers.Set(ClientRequestIDHeader, opts.requestID)
	} else {
		headers.Set(ClientRequestIDHeader, c.nextRequestID(opts.operation))
	}

	if opts.contentType == "" {
		opts.contentType = jsonContentType
	}
	headers.Set(contentType, opts.contentType)
	headers.Set(accept, jsonContentType)
	if opts.contentEncoding != "" {
		headers.Set(ContentEncoding, opts.contentEncoding)
	}

	if c.accessTokenLoader == nil {
		return nil, ErrMissingCredentials
	}
	accessToken, err := c.accessTokenLoader.LoadAccessToken(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load access token: %w", err)
	}
	headers.Set(Authorization, fmt.Sprintf("Bearer %s", accessToken))
	return headers, nil
}

func (c *APIClient) requestProperties() *RequestProperties {
	if len(c.params) == 0 {
		return nil
	}
	options := make(map[string]interface{}, len(c.params))
	for k, v := range c.params {
		options[k] = v
	}
	return &RequestProperties{Options: options}
}

// Query runs a read-only query against the configured database.
func (c *APIClient) Query(ctx context.Context, csl string) (*QueryResponse, error) {
	request := QueryRequest{
		DB:         c.database,
		CSL:        csl,
		Properties: c.requestProperties(),
	}
	var resp QueryResponse
	err := c.doRequest(ctx, http.MethodPost, c.queryEndpoint+"/v1/rest/query", &request, &resp, requestOptions{
		operation: "Query",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to do query request: %w", err)
	}
	return &resp, nil
}

// StreamIngest pushes body into table as a single streaming ingestion request.
// gzipped marks body as already compressed.
func (c *APIClient) StreamIngest(ctx context.Context, table, format string, body []byte, gzipped bool) (*StreamIngestResponse, error) {
	streamFormat, ok := streamFormats[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("unsupported data format: %s", format)
	}
	path := fmt.Sprintf("%s/v1/rest/ingest/%s/%s?streamFormat=%s",
		c.ingestEndpoint, url.PathEscape(c.database), url.PathEscape(table), streamFormat)

	opts := requestOptions{
		operation:   "StreamIngest",
		requestID:   c.nextRequestID("StreamIngest"),
		contentType: csvContentType,
	}
	if gzipped {
		opts.contentEncoding = "gzip"
	}

	var resp QueryResponse
	if err := c.doRequest(ctx, http.MethodPost, path, body, &resp, opts); err != nil {
		return nil, fmt.Errorf("failed to do ingest request: %w", err)
	}

	result := &StreamIngestResponse{RequestID: opts.requestID, ConsumedRecords: -1}
	if len(resp.Tables) > 0 && len(resp.Tables[0].Rows) > 0 {
		table := resp.Tables[0]
		row := table.Rows[0]
		if i := table.ColumnIndex("ConsumedRecordsCount"); i >= 0 && i < len(row) {
			if n, ok := row[i].(float64); ok {
				result.ConsumedRecords = int64(n)
			}
		}
		if i := table.ColumnIndex("ExtentId"); i >= 0 && i < len(row) {
			if s, ok := row[i].(string); ok {
				result.ExtentID = s
			}
		}
	}
	return result, nil
}
