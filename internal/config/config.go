// Package config loads the admission engine's topology, scenarios and
// server settings from YAML, with environment overrides.
package config

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/rb-admission/model"
)

// EnvPrefix prefixes every environment override, e.g. RB_SERVER_GRPC_ADDR.
const EnvPrefix = "RB"

const (
	DefaultGRPCAddr      = ":50061"
	DefaultMetricsAddr   = ":9091"
	DefaultSweepInterval = time.Second
	DefaultTotalUnits    = 52
	DefaultAttachRetries = 3
	DefaultRetryInterval = 20 * time.Millisecond
	DefaultRunStagger    = 500 * time.Millisecond
	DefaultRunGap        = 2 * time.Second
	RunModeConcurrent    = "concurrent"
	RunModeSequential    = "sequential"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr" envconfig:"GRPC_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

type SweeperConfig struct {
	Interval time.Duration `yaml:"interval" envconfig:"INTERVAL"`
}

type AdmissionConfig struct {
	// MinSignalDBm drops weaker candidates when set.
	MinSignalDBm      *float64 `yaml:"min_signal_dbm" envconfig:"MIN_SIGNAL_DBM"`
	DefaultTotalUnits int      `yaml:"default_total_units" envconfig:"DEFAULT_TOTAL_UNITS"`
}

type FabricConfig struct {
	AttachLatency        time.Duration `yaml:"attach_latency" envconfig:"ATTACH_LATENCY"`
	AttachRetries        uint          `yaml:"attach_retries" envconfig:"ATTACH_RETRIES"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" envconfig:"RETRY_INITIAL_INTERVAL"`
}

type RunConfig struct {
	Mode    string        `yaml:"mode" envconfig:"MODE"`
	Stagger time.Duration `yaml:"stagger" envconfig:"STAGGER"`
	Gap     time.Duration `yaml:"gap" envconfig:"GAP"`
}

// Config is the full configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	Admission AdmissionConfig `yaml:"admission"`
	Fabric    FabricConfig    `yaml:"fabric"`
	Run       RunConfig       `yaml:"run"`

	AccessPoints []model.AccessPointSpec `yaml:"access_points"`
	Stations     []model.StationSpec     `yaml:"stations"`
	Scenarios    []model.RunSpec         `yaml:"scenarios"`
}

// Default returns a configuration with every default applied and no
// topology.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path, applies defaults and environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config")
	}
	defer f.Close()
	cfg, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Parse decodes a YAML document from r. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	cfg := &Config{}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Wrap(err, "failed to decode config")
		}
	}
	cfg.applyDefaults()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays RB_<SECTION>_<KEY> environment variables. Unset
// variables leave the current values alone.
func (c *Config) ApplyEnv() error {
	sections := []struct {
		name string
		spec interface{}
	}{
		{"SERVER", &c.Server},
		{"SWEEPER", &c.Sweeper},
		{"ADMISSION", &c.Admission},
		{"FABRIC", &c.Fabric},
		{"RUN", &c.Run},
	}
	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.spec); err != nil {
			return errors.Wrap(err, "failed to process env config")
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = DefaultGRPCAddr
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = DefaultMetricsAddr
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = DefaultSweepInterval
	}
	if c.Admission.DefaultTotalUnits == 0 {
		c.Admission.DefaultTotalUnits = DefaultTotalUnits
	}
	if c.Fabric.AttachRetries == 0 {
		c.Fabric.AttachRetries = DefaultAttachRetries
	}
	if c.Fabric.RetryInitialInterval == 0 {
		c.Fabric.RetryInitialInterval = DefaultRetryInterval
	}
	if c.Run.Mode == "" {
		c.Run.Mode = RunModeConcurrent
	}
	if c.Run.Stagger == 0 {
		c.Run.Stagger = DefaultRunStagger
	}
	if c.Run.Gap == 0 {
		c.Run.Gap = DefaultRunGap
	}
}

// Validate checks the document for structural errors: non-positive
// intervals, duplicate IDs, references to undeclared access points or
// stations, and malformed runs.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Sweeper.Interval < 0 {
		add("sweeper.interval must be positive")
	}
	if c.Admission.DefaultTotalUnits < 0 {
		add("admission.default_total_units must be positive")
	}
	if c.Admission.MinSignalDBm != nil && math.IsNaN(*c.Admission.MinSignalDBm) {
		add("admission.min_signal_dbm is NaN")
	}
	if c.Fabric.AttachLatency < 0 {
		add("fabric.attach_latency must not be negative")
	}
	switch strings.ToLower(c.Run.Mode) {
	case RunModeConcurrent, RunModeSequential:
	default:
		add("run.mode %q must be %q or %q", c.Run.Mode, RunModeConcurrent, RunModeSequential)
	}
	if c.Run.Stagger < 0 || c.Run.Gap < 0 {
		add("run.stagger and run.gap must not be negative")
	}

	aps := make(map[string]struct{}, len(c.AccessPoints))
	for i, ap := range c.AccessPoints {
		switch {
		case ap.ID == "":
			add("access_points[%d].id is required", i)
			continue
		case ap.TotalUnits < 0:
			add("access_points[%d].total_units must not be negative", i)
		}
		if _, dup := aps[ap.ID]; dup {
			add("access point %q declared twice", ap.ID)
		}
		aps[ap.ID] = struct{}{}
	}

	stations := make(map[string]struct{}, len(c.Stations))
	for i, st := range c.Stations {
		if st.ID == "" {
			add("stations[%d].id is required", i)
			continue
		}
		if _, dup := stations[st.ID]; dup {
			add("station %q declared twice", st.ID)
		}
		stations[st.ID] = struct{}{}
		for _, s := range st.Signals {
			if _, ok := aps[s.AccessPointID]; !ok {
				add("station %q sees undeclared access point %q", st.ID, s.AccessPointID)
			}
			if math.IsNaN(s.SignalDBm) {
				add("station %q signal for %q is NaN", st.ID, s.AccessPointID)
			}
		}
	}

	for i, run := range c.Scenarios {
		if _, ok := stations[run.StationID]; !ok {
			add("scenarios[%d] references undeclared station %q", i, run.StationID)
		}
		if !(run.BandwidthMbps > 0) || math.IsInf(run.BandwidthMbps, 0) {
			add("scenarios[%d].bandwidth_mbps must be positive", i)
		}
		if run.Duration <= 0 {
			add("scenarios[%d].duration must be positive", i)
		}
		if run.Hold < 0 || run.StartDelay < 0 {
			add("scenarios[%d] hold and start_delay must not be negative", i)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// AccessPoint returns the declared access point with id.
func (c *Config) AccessPoint(id string) (model.AccessPointSpec, bool) {
	for _, ap := range c.AccessPoints {
		if ap.ID == id {
			return ap, true
		}
	}
	return model.AccessPointSpec{}, false
}
