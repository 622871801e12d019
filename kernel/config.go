package kernel

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/pdes/kernel/trace"
)

// Transport modes.
const (
	TransportThreaded = "threaded" // writer and reader goroutines
	TransportCombined = "combined" // one polling goroutine, for runtimes without thread support
)

// Config holds the run parameters. Every machine of a run must use the same
// values.
type Config struct {
	Machines         int         `yaml:"machines"`
	Procs            int         `yaml:"procs"`
	Seed             int64       `yaml:"seed"`
	EndTime          VirtualTime `yaml:"end_time"`
	TickSeconds      float64     `yaml:"tick_seconds"`
	Decade           VirtualTime `yaml:"decade"` // 0 trains or derives it
	Epoch            VirtualTime `yaml:"epoch"`  // 0 trains or derives it
	TrainingFraction float64     `yaml:"training_fraction"`
	MaxCandidates    int         `yaml:"max_candidates"`
	NumBins          int         `yaml:"num_bins"`
	PackThreshold    int         `yaml:"pack_threshold"`
	TransportMode    string      `yaml:"transport_mode"`
	ProgressInterval VirtualTime `yaml:"progress_interval"`
	TraceLevel       string      `yaml:"trace_level"`
}

// DefaultConfig returns the configuration used when a field is not set.
func DefaultConfig() Config {
	return Config{
		Machines:         1,
		Procs:            1,
		Seed:             42,
		EndTime:          FromTicks(1_000_000),
		TickSeconds:      1e-9,
		TrainingFraction: 0.05,
		MaxCandidates:    10,
		NumBins:          16,
		PackThreshold:    64 << 10,
		TransportMode:    TransportThreaded,
		TraceLevel:       string(trace.TraceLevelNone),
	}
}

// LoadConfig reads a YAML document over the defaults. Unknown fields are
// rejected so typos cannot silently fall back to defaults. A tick_seconds
// value is applied with SetTickScale.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	// durations with unit suffixes depend on the tick scale, so it is applied
	// before the full decode
	var scale struct {
		TickSeconds float64 `yaml:"tick_seconds"`
	}
	if err := yaml.Unmarshal(data, &scale); err != nil {
		return cfg, fmt.Errorf("%w: parse config: %v", ErrConfig, err)
	}
	if scale.TickSeconds != 0 {
		if err := SetTickScale(scale.TickSeconds); err != nil {
			return cfg, err
		}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse config: %v", ErrConfig, err)
	}
	return cfg, nil
}

// LoadConfigFile is LoadConfig on a file path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return DefaultConfig(), fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Validate checks every field. It does not modify the config.
func (c Config) Validate() error {
	switch {
	case c.Machines < 1:
		return configErrorf("machines must be >= 1, got %d", c.Machines)
	case c.Procs < 1:
		return configErrorf("procs must be >= 1, got %d", c.Procs)
	case c.EndTime <= 0 || c.EndTime.IsInfinite():
		return configErrorf("end_time must be positive and finite, got %s", c.EndTime)
	case c.TickSeconds <= 0:
		return configErrorf("tick_seconds must be positive, got %v", c.TickSeconds)
	case c.Decade < 0:
		return configErrorf("decade must not be negative, got %s", c.Decade)
	case c.Epoch < 0:
		return configErrorf("epoch must not be negative, got %s", c.Epoch)
	case c.TrainingFraction < 0 || c.TrainingFraction >= 1:
		return configErrorf("training_fraction must be in [0, 1), got %v", c.TrainingFraction)
	case c.MaxCandidates < 1:
		return configErrorf("max_candidates must be >= 1, got %d", c.MaxCandidates)
	case c.NumBins < 1:
		return configErrorf("num_bins must be >= 1, got %d", c.NumBins)
	case c.PackThreshold < 64:
		return configErrorf("pack_threshold must be >= 64 bytes, got %d", c.PackThreshold)
	case c.TransportMode != TransportThreaded && c.TransportMode != TransportCombined:
		return configErrorf("transport_mode must be %q or %q, got %q", TransportThreaded, TransportCombined, c.TransportMode)
	case c.ProgressInterval < 0:
		return configErrorf("progress_interval must not be negative, got %s", c.ProgressInterval)
	case !trace.IsValidTraceLevel(c.TraceLevel):
		return configErrorf("unknown trace_level %q", c.TraceLevel)
	}
	return nil
}

// String renders the config as YAML, used as the run description in traces.
func (c Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}
