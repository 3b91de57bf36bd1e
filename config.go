package kustoingest

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	defaultClientTimeout = 300 * time.Second // Timeout for network round trip + read out http response
	defaultRetryAttempts = 4
	defaultRetryDelay    = 10 * time.Second
	defaultDomain        = "kusto.windows.net"
	defaultAuthorityHost = "https://login.microsoftonline.com"
	defaultIngestPrefix  = "ingest-"
	defaultDataFormat    = "csv"

	// DefaultCredentialFile is read for credentials when no other file is named.
	DefaultCredentialFile = ".env"
)

// Config is a set of configuration parameters for a single ingestion run.
type Config struct {
	Cluster         string `validate:"required_without=QueryEndpoint"`
	Region          string
	Database        string `validate:"required"`
	Table           string `validate:"required"`
	TimestampColumn string `validate:"required"`

	Scheme         string `validate:"oneof=http https"`
	QueryEndpoint  string `validate:"omitempty,url"`
	IngestEndpoint string `validate:"omitempty,url"`
	AuthorityHost  string `validate:"required,url"`

	AccessToken       string
	AccessTokenFile   string
	AccessTokenLoader AccessTokenLoader `validate:"-"`

	Timeout             time.Duration
	RetryAttempts       uint `validate:"gte=1,lte=20"`
	RetryDelay          time.Duration
	StrictWatermark     bool
	TimeLayout          string
	Location            *time.Location `validate:"-"`
	GzipCompression     bool
	EnableOpenTelemetry bool
	DryRun              bool

	// Params are forwarded as client request properties on every query.
	Params map[string]string
}

// NewConfig creates a new config with default values
func NewConfig() *Config {
	return &Config{
		Scheme:        "https",
		AuthorityHost: defaultAuthorityHost,
		Timeout:       defaultClientTimeout,
		RetryAttempts: defaultRetryAttempts,
		RetryDelay:    defaultRetryDelay,
		Location:      time.UTC,
		Params:        make(map[string]string),
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that the config describes a reachable table.
func (cfg *Config) Validate() error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.QueryEndpoint == "" && cfg.Region == "" && !strings.Contains(cfg.Cluster, ".") {
		return fmt.Errorf("%w: region is required for cluster %q", ErrInvalidConfig, cfg.Cluster)
	}
	if cfg.RetryDelay < 0 {
		return fmt.Errorf("%w: negative retry delay %s", ErrInvalidConfig, cfg.RetryDelay)
	}
	return nil
}

func (cfg *Config) clusterHost() string {
	if strings.Contains(cfg.Cluster, ".") || cfg.Region == "" {
		return cfg.Cluster
	}
	return fmt.Sprintf("%s.%s.%s", cfg.Cluster, cfg.Region, defaultDomain)
}

// QueryURL returns the engine endpoint used for watermark queries.
func (cfg *Config) QueryURL() string {
	if cfg.QueryEndpoint != "" {
		return strings.TrimSuffix(cfg.QueryEndpoint, "/")
	}
	return fmt.Sprintf("%s://%s", cfg.Scheme, cfg.clusterHost())
}

// IngestURL returns the endpoint used for bulk pushes. Streaming ingestion
// is served by the engine, so it defaults to QueryURL.
func (cfg *Config) IngestURL() string {
	if cfg.IngestEndpoint != "" {
		return strings.TrimSuffix(cfg.IngestEndpoint, "/")
	}
	return cfg.QueryURL()
}

// FormatDSN formats the given Config into a DSN string which can be passed
// back to ParseDSN.
func (cfg *Config) FormatDSN() string {
	u := &url.URL{
		Scheme: "kusto+" + cfg.Scheme,
		Host:   cfg.dsnHost(),
		Path:   "/" + cfg.Database,
	}
	query := url.Values{}
	if cfg.Table != "" {
		query.Set("table", cfg.Table)
	}
	if cfg.TimestampColumn != "" {
		query.Set("timestamp_column", cfg.TimestampColumn)
	}
	if cfg.IngestEndpoint != "" {
		query.Set("ingest_endpoint", cfg.IngestEndpoint)
	}
	if cfg.AuthorityHost != "" && cfg.AuthorityHost != defaultAuthorityHost {
		query.Set("authority_host", cfg.AuthorityHost)
	}
	if cfg.AccessTokenFile != "" {
		query.Set("access_token_file", cfg.AccessTokenFile)
	}
	if cfg.Timeout != 0 && cfg.Timeout != defaultClientTimeout {
		query.Set("timeout", cfg.Timeout.String())
	}
	if cfg.RetryAttempts != defaultRetryAttempts {
		query.Set("retry_attempts", strconv.FormatUint(uint64(cfg.RetryAttempts), 10))
	}
	if cfg.RetryDelay != defaultRetryDelay {
		query.Set("retry_delay", cfg.RetryDelay.String())
	}
	if cfg.StrictWatermark {
		query.Set("strict_watermark", "1")
	}
	if cfg.TimeLayout != "" {
		query.Set("time_layout", cfg.TimeLayout)
	}
	if cfg.Location != time.UTC && cfg.Location != nil {
		query.Set("location", cfg.Location.String())
	}
	if cfg.GzipCompression {
		query.Set("gzip", "1")
	}
	if cfg.EnableOpenTelemetry {
		query.Set("otel", "1")
	}
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		query.Set(k, cfg.Params[k])
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (cfg *Config) dsnHost() string {
	if cfg.QueryEndpoint != "" {
		if u, err := url.Parse(cfg.QueryEndpoint); err == nil {
			return u.Host
		}
	}
	if cfg.Region == "" {
		return cfg.Cluster
	}
	return cfg.Cluster + "." + cfg.Region
}

// ParseDSN parses the DSN string to a Config. Accepted forms:
//
//	kusto://cluster.region/database?table=T&timestamp_column=C
//	kusto+https://cluster.region.kusto.windows.net/database?...
//	kusto+http://localhost:8080/database?...   (emulator, host used verbatim)
func ParseDSN(dsn string) (*Config, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	cfg := NewConfig()

	switch u.Scheme {
	case "kusto", "kusto+https", "https":
		cfg.Scheme = "https"
	case "kusto+http", "http":
		cfg.Scheme = "http"
	default:
		return nil, fmt.Errorf("invalid scheme: %s", u.Scheme)
	}

	if u.Host == "" {
		return nil, fmt.Errorf("missing cluster in dsn")
	}
	if _, _, err := net.SplitHostPort(u.Host); err == nil || u.Hostname() == "localhost" {
		cfg.QueryEndpoint = fmt.Sprintf("%s://%s", cfg.Scheme, u.Host)
	} else {
		host := strings.TrimSuffix(u.Host, "."+defaultDomain)
		host = strings.TrimPrefix(host, defaultIngestPrefix)
		if cluster, region, ok := strings.Cut(host, "."); ok {
			cfg.Cluster, cfg.Region = cluster, region
		} else {
			cfg.Cluster = host
		}
	}

	if len(u.Path) > 1 {
		// skip '/'
		cfg.Database = u.Path[1:]
	}
	if err = parseDSNParams(cfg, map[string][]string(u.Query())); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDSNParams parses the DSN "query string"
// Values must be url.QueryEscape'ed
func parseDSNParams(cfg *Config, params map[string][]string) (err error) {
	for k, v := range params {
		if len(v) == 0 {
			continue
		}

		switch k {
		case "table":
			cfg.Table = v[0]
		case "timestamp_column":
			cfg.TimestampColumn = v[0]
		case "ingest_endpoint":
			cfg.IngestEndpoint = v[0]
		case "authority_host":
			cfg.AuthorityHost = v[0]
		case "access_token":
			cfg.AccessToken = v[0]
		case "access_token_file":
			cfg.AccessTokenFile = v[0]
		case "timeout":
			cfg.Timeout, err = time.ParseDuration(v[0])
		case "retry_attempts":
			var n uint64
			n, err = strconv.ParseUint(v[0], 10, 32)
			cfg.RetryAttempts = uint(n)
		case "retry_delay":
			cfg.RetryDelay, err = time.ParseDuration(v[0])
		case "strict_watermark":
			cfg.StrictWatermark, err = strconv.ParseBool(v[0])
		case "time_layout":
			cfg.TimeLayout = v[0]
		case "location":
			cfg.Location, err = time.LoadLocation(v[0])
		case "gzip":
			cfg.GzipCompression, err = strconv.ParseBool(v[0])
		case "otel":
			cfg.EnableOpenTelemetry, err = strconv.ParseBool(v[0])
		case "database", "csl":
			err = fmt.Errorf("unknown option '%s'", k)
		default:
			cfg.Params[k] = v[0]
		}
		if err != nil {
			return err
		}
	}

	return
}
