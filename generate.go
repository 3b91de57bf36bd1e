package kustoingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strconv"
	"time"
)

// GeneratorConfig describes a synthetic time series.
type GeneratorConfig struct {
	Steps    int `validate:"gte=1"`
	Features int `validate:"gte=1,lte=1000"`
	Start    time.Time
	Step     time.Duration `validate:"gt=0"`
	// Noise is the standard deviation of a Gaussian term added to every value.
	Noise float64 `validate:"gte=0"`
	Seed  int64
	// NullRate is the probability of blanking a feature cell.
	NullRate float64 `validate:"gte=0,lte=1"`
	// NonLinear appends a NonLinearTerm column: a linear regression target
	// over the raw features plus 0.3 times the sum of their squares.
	NonLinear   bool
	Bias        float64
	TargetNoise float64 `validate:"gte=0"`
}

func NewGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Steps:    200,
		Features: 10,
		Start:    time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC),
		Step:     24 * time.Hour,
		Seed:     42,

		TargetNoise: 15,
	}
}

// GenerateTimeSeries writes a header "DateTime,Feature1..FeatureN" and one
// row per step. Feature values are integers in [0,255] unless Noise is set.
// NonLinear adds a trailing NonLinearTerm column, never blanked by NullRate.
func GenerateTimeSeries(w io.Writer, cfg GeneratorConfig) error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	writer := csv.NewWriter(w)

	header := make([]string, 0, cfg.Features+2)
	header = append(header, "DateTime")
	for i := 1; i <= cfg.Features; i++ {
		header = append(header, fmt.Sprintf("Feature%d", i))
	}
	var coef []float64
	if cfg.NonLinear {
		header = append(header, "NonLinearTerm")
		coef = make([]float64, cfg.Features)
		for i := range coef {
			coef[i] = 100 * rng.Float64()
		}
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	layout := "2006-01-02 15:04:05"
	if cfg.Step%(24*time.Hour) == 0 && cfg.Start.Equal(cfg.Start.Truncate(24*time.Hour)) {
		layout = "2006-01-02"
	}

	row := make([]string, len(header))
	for step := 0; step < cfg.Steps; step++ {
		row[0] = cfg.Start.Add(time.Duration(step) * cfg.Step).UTC().Format(layout)
		target := cfg.Bias
		for i := 1; i <= cfg.Features; i++ {
			x := rng.NormFloat64()
			if cfg.NonLinear {
				target += coef[i-1]*x + 0.3*x*x
			}
			value := math.Min(math.Floor(math.Abs(x)*255), 255)
			if cfg.NullRate > 0 && rng.Float64() < cfg.NullRate {
				row[i] = ""
			} else if cfg.Noise > 0 {
				row[i] = strconv.FormatFloat(value+rng.NormFloat64()*cfg.Noise, 'f', 3, 64)
			} else {
				row[i] = strconv.Itoa(int(value))
			}
		}
		if cfg.NonLinear {
			target += rng.NormFloat64() * cfg.TargetNoise
			row[len(row)-1] = strconv.FormatFloat(target, 'f', 3, 64)
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
