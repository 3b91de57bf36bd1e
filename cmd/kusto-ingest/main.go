package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	ki "github.com/datafuselabs/kusto-ingest-go"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const programName = "kusto-ingest"

// usageError marks failures caused by the command line itself.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return exitUsage
	}

	command, args := args[0], args[1:]
	var err error
	switch command {
	case "ingest":
		err = runIngest(ctx, args, stdout, stderr)
	case "watermark":
		err = runWatermark(ctx, args, stdout, stderr)
	case "generate":
		err = runGenerate(args, stdout, stderr)
	case "version":
		_, err = fmt.Fprintln(stdout, ki.Version())
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		err = usageError{fmt.Errorf("unknown command %q", command)}
	}

	var uerr usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &uerr), errors.Is(err, ki.ErrInvalidConfig):
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)
		printUsage(stderr)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "%s: %v\n", programName, err)
		return exitError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `usage: kusto-ingest <command> [options]

commands:
  ingest     push the rows of a csv file newer than the stored watermark
  watermark  print the stored watermark
  generate   write a synthetic time series csv
  version    print the client version

run "kusto-ingest <command> -h" for the options of a command`)
}

// connectionFlags are shared by the commands that talk to the cluster.
type connectionFlags struct {
	dsn             string
	cluster         string
	region          string
	database        string
	table           string
	timestampColumn string
	credentials     string
	logLevel        string
	output          string
	timeLayout      string
	metricsFile     string
	strictWatermark bool
	otel            bool
	retryAttempts   uint
	retryDelay      time.Duration
	timeout         time.Duration
}

func (f *connectionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.dsn, "dsn", "", "connection string, e.g. kusto://cluster.region/db?table=T&timestamp_column=C")
	fs.StringVar(&f.cluster, "cluster", "", "cluster name")
	fs.StringVar(&f.region, "region", "", "cluster region")
	fs.StringVar(&f.database, "database", "", "database name")
	fs.StringVar(&f.table, "table", "", "table name")
	fs.StringVar(&f.timestampColumn, "timestamp-column", "", "timestamp column used as watermark (case-sensitive)")
	fs.StringVar(&f.credentials, "credentials", ki.DefaultCredentialFile, "dotenv or toml file holding TENANT_ID, CLIENT_ID and SECRET")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&f.output, "output", ki.OutputText, "output format: text, json or yaml")
	fs.StringVar(&f.timeLayout, "time-layout", "", "Go time layout of the timestamp column, guessed when empty")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write run metrics in prometheus text format to this file")
	fs.BoolVar(&f.strictWatermark, "strict-watermark", false, "fail instead of ingesting everything when the watermark query keeps failing")
	fs.BoolVar(&f.otel, "otel", false, "trace http requests with opentelemetry")
	fs.UintVar(&f.retryAttempts, "retry-attempts", 4, "watermark query attempts")
	fs.DurationVar(&f.retryDelay, "retry-delay", 10*time.Second, "delay between watermark query attempts")
	fs.DurationVar(&f.timeout, "timeout", 300*time.Second, "http request timeout")
}

// config builds the run configuration. Flags given explicitly override
// values from -dsn.
func (f *connectionFlags) config(fs *flag.FlagSet) (*ki.Config, error) {
	if err := ki.CheckOutputFormat(f.output); err != nil {
		return nil, usageError{err}
	}
	cfg := ki.NewConfig()
	if f.dsn != "" {
		var err error
		cfg, err = ki.ParseDSN(f.dsn)
		if err != nil {
			return nil, usageError{fmt.Errorf("invalid -dsn: %w", err)}
		}
	}

	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	if set["cluster"] {
		cfg.Cluster = f.cluster
		cfg.QueryEndpoint = ""
	}
	if set["region"] {
		cfg.Region = f.region
	}
	if set["database"] {
		cfg.Database = f.database
	}
	if set["table"] {
		cfg.Table = f.table
	}
	if set["timestamp-column"] {
		cfg.TimestampColumn = f.timestampColumn
	}
	if set["time-layout"] {
		cfg.TimeLayout = f.timeLayout
	}
	if set["strict-watermark"] {
		cfg.StrictWatermark = f.strictWatermark
	}
	if set["otel"] {
		cfg.EnableOpenTelemetry = f.otel
	}
	if set["retry-attempts"] || f.dsn == "" {
		cfg.RetryAttempts = f.retryAttempts
	}
	if set["retry-delay"] || f.dsn == "" {
		cfg.RetryDelay = f.retryDelay
	}
	if set["timeout"] || f.dsn == "" {
		cfg.Timeout = f.timeout
	}

	return cfg, cfg.Validate()
}

func (f *connectionFlags) logger(stderr io.Writer) (ki.Logger, error) {
	logger := ki.CreateDefaultLogger(stderr)
	if err := logger.SetLogLevel(f.logLevel); err != nil {
		return nil, usageError{err}
	}
	return logger, nil
}

func (f *connectionFlags) writeMetrics(metrics *ki.Metrics, logger ki.Logger) {
	if err := metrics.WriteToTextfile(f.metricsFile); err != nil {
		logger.Slog().Warn("failed to write metrics", "file", f.metricsFile, "error", err.Error())
	}
}

func (f *connectionFlags) newMetrics() *ki.Metrics {
	if f.metricsFile == "" {
		return nil
	}
	return ki.NewMetrics()
}

func runIngest(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		conn    connectionFlags
		csvPath string
		dryRun  bool
		gzip    bool
	)
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	conn.register(fs)
	fs.StringVar(&csvPath, "csv", "", "input csv file, first column is the timestamp")
	fs.BoolVar(&dryRun, "dry-run", false, "resolve the watermark and filter, but do not push")
	fs.BoolVar(&gzip, "gzip", false, "gzip the pushed body")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}
	if csvPath == "" {
		return usageError{errors.New("-csv is required")}
	}

	logger, err := conn.logger(stderr)
	if err != nil {
		return err
	}
	cfg, err := conn.config(fs)
	if err != nil {
		return err
	}
	if dryRun {
		cfg.DryRun = true
	}
	if gzip {
		cfg.GzipCompression = true
	}

	creds, err := ki.LoadCredentials(conn.credentials)
	if err != nil && !(errors.Is(err, ki.ErrMissingCredentials) && (cfg.AccessToken != "" || cfg.AccessTokenFile != "")) {
		return err
	}

	metrics := conn.newMetrics()
	defer conn.writeMetrics(metrics, logger)

	ingestor, err := ki.NewIngestor(cfg, creds, metrics)
	if err != nil {
		return err
	}

	ctx = context.WithValue(ctx, ki.ContextUserAgentID, programName)
	report, runErr := ingestor.Run(ki.WithLogger(ctx, logger.WithContext(ctx)), csvPath)
	if err := ki.WriteReport(stdout, report, conn.output); err != nil {
		return usageError{err}
	}
	return runErr
}

func runWatermark(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var conn connectionFlags
	fs := flag.NewFlagSet("watermark", flag.ContinueOnError)
	fs.SetOutput(stderr)
	conn.register(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}

	logger, err := conn.logger(stderr)
	if err != nil {
		return err
	}
	cfg, err := conn.config(fs)
	if err != nil {
		return err
	}
	creds, err := ki.LoadCredentials(conn.credentials)
	if err != nil && !(errors.Is(err, ki.ErrMissingCredentials) && (cfg.AccessToken != "" || cfg.AccessTokenFile != "")) {
		return err
	}

	metrics := conn.newMetrics()
	defer conn.writeMetrics(metrics, logger)

	ingestor, err := ki.NewIngestor(cfg, creds, metrics)
	if err != nil {
		return err
	}
	ctx = context.WithValue(ctx, ki.ContextUserAgentID, programName)
	ctx = context.WithValue(ctx, ki.TableKey, cfg.Table)
	wm, err := ingestor.ResolveWatermark(ki.WithLogger(ctx, logger.WithContext(ctx)))
	if err != nil {
		return err
	}
	return ki.WriteWatermark(stdout, wm, conn.output)
}

func runGenerate(args []string, stdout, stderr io.Writer) error {
	gen := ki.NewGeneratorConfig()
	var (
		output string
		start  string
	)
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&output, "output", "", "output csv file, stdout when empty")
	fs.IntVar(&gen.Steps, "n-steps", gen.Steps, "number of time steps")
	fs.IntVar(&gen.Features, "n-features", gen.Features, "number of features")
	fs.Float64Var(&gen.Noise, "noise", 0, "standard deviation of extra gaussian noise")
	fs.Int64Var(&gen.Seed, "seed", gen.Seed, "random seed")
	fs.Float64Var(&gen.NullRate, "null-rate", 0, "probability of leaving a feature cell empty")
	fs.BoolVar(&gen.NonLinear, "nonlinear", false, "append a NonLinearTerm regression target column")
	fs.Float64Var(&gen.Bias, "bias", 0, "bias of the NonLinearTerm column")
	fs.Float64Var(&gen.TargetNoise, "target-noise", gen.TargetNoise, "standard deviation of the NonLinearTerm noise")
	fs.StringVar(&start, "start", gen.Start.Format("2006-01-02"), "first timestamp")
	fs.DurationVar(&gen.Step, "step", gen.Step, "distance between timestamps")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}

	t, err := (ki.TimeParser{}).Parse(start)
	if err != nil {
		return usageError{fmt.Errorf("invalid -start: %w", err)}
	}
	gen.Start = t

	w := stdout
	if output != "" && output != "-" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create file '%s': %w", output, err)
		}
		defer f.Close()
		w = f
	}
	return ki.GenerateTimeSeries(w, gen)
}
