package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "90s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full pipeline configuration, loaded once at startup.
// Everything a worker, launcher, or the delivery phase needs is here;
// nothing re-reads configuration per item.
type Config struct {
	Store     StoreConfig               `yaml:"store" validate:"required"`
	Machines  map[string]*MachineConfig `yaml:"machines"`
	OCR       OCRConfig                 `yaml:"ocr"`
	Inference InferenceConfig           `yaml:"inference"`
	External  ExternalConfig            `yaml:"external"`
	Delivery  DeliveryConfig            `yaml:"delivery"`
	Resources ResourceConfig            `yaml:"resources"`
	Log       LogConfig                 `yaml:"log"`
	Metrics   MetricsConfig             `yaml:"metrics"`

	// KnownMappingsPath optionally points at a YAML table of
	// normalized-key -> display-name overrides for correspondents.
	KnownMappingsPath string `yaml:"known_mappings_path"`
}

// StoreConfig locates the shared work store.
type StoreConfig struct {
	Root         string   `yaml:"root" validate:"required"`
	StaleLockTTL Duration `yaml:"stale_lock_ttl"`
	GraceWindow  Duration `yaml:"grace_window"`
}

// MachineConfig is one host's slice of the work, keyed by machine tag.
type MachineConfig struct {
	Phases map[string]*PhaseAssignment `yaml:"phases"`
}

// PhaseAssignment is a machine's index range and instance count for one
// phase. Instances of 0 means "ask the resource monitor". RangeEnd of 0
// means "to the end of the input".
type PhaseAssignment struct {
	Instances  int `yaml:"instances" validate:"gte=0"`
	RangeStart int `yaml:"range_start" validate:"gte=0"`
	RangeEnd   int `yaml:"range_end" validate:"gte=0"`
}

// OCRConfig points at the external OCR engine.
type OCRConfig struct {
	URL      string   `yaml:"url"`
	Timeout  Duration `yaml:"timeout"`
	MaxPages int      `yaml:"max_pages" validate:"gte=0"`
}

// ModelEndpoint is one local-inference tier.
type ModelEndpoint struct {
	URL     string   `yaml:"url"`
	Model   string   `yaml:"model"`
	Timeout Duration `yaml:"timeout"`
}

// InferenceConfig holds the three local-inference tiers used by the
// hierarchical phase plus the host list probed by server discovery.
type InferenceConfig struct {
	Small          ModelEndpoint `yaml:"small"`
	Medium         ModelEndpoint `yaml:"medium"`
	Large          ModelEndpoint `yaml:"large"`
	DiscoveryHosts []string      `yaml:"discovery_hosts"`
}

// ExternalConfig holds the phase-3 external large-model endpoint and
// its budget. The API token is read from the environment variable named
// by TokenEnv so tokens never live in the config file.
type ExternalConfig struct {
	URL         string  `yaml:"url"`
	TokenEnv    string  `yaml:"token_env"`
	Token       string  `yaml:"-"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens" validate:"gte=0"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`

	RetryAttempts    int      `yaml:"retry_attempts" validate:"gte=0"`
	RetryInitial     Duration `yaml:"retry_initial"`
	RetryMaxInterval Duration `yaml:"retry_max_interval"`

	DailyTokenLimit    int64   `yaml:"daily_token_limit" validate:"gte=0"`
	DailyCostLimitUSD  float64 `yaml:"daily_cost_limit_usd" validate:"gte=0"`
	CostPer1KTokensUSD float64 `yaml:"cost_per_1k_tokens_usd" validate:"gte=0"`
}

// DeliveryConfig holds the downstream document-management service.
type DeliveryConfig struct {
	URL           string   `yaml:"url"`
	TokenEnv      string   `yaml:"token_env"`
	Token         string   `yaml:"-"`
	RatePerSecond float64  `yaml:"rate_per_second" validate:"gte=0"`
	Burst         int      `yaml:"burst" validate:"gte=0"`
	FanOut        int      `yaml:"fan_out" validate:"gte=0"`
	RetryAttempts int      `yaml:"retry_attempts" validate:"gte=0"`
	RetryInitial  Duration `yaml:"retry_initial"`
}

// ResourceConfig holds sampling interval and throttle thresholds.
type ResourceConfig struct {
	SampleInterval  Duration `yaml:"sample_interval"`
	MaxCPUPercent   float64  `yaml:"max_cpu_percent" validate:"gt=0,lte=100"`
	MaxRAMPercent   float64  `yaml:"max_ram_percent" validate:"gt=0,lte=100"`
	MaxGPUPercent   float64  `yaml:"max_gpu_percent" validate:"gt=0,lte=100"`
	MinDiskFreeGiB  float64  `yaml:"min_disk_free_gib" validate:"gte=0"`
	RecoveryPercent float64  `yaml:"recovery_percent" validate:"gt=0,lte=100"`
	Cooldown        Duration `yaml:"cooldown"`
	DiskPaths       []string `yaml:"disk_paths"`
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the documented defaults. Load starts from these, so a
// minimal config file only needs the store root.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			StaleLockTTL: Duration(10 * time.Minute),
			GraceWindow:  Duration(30 * time.Second),
		},
		OCR: OCRConfig{
			Timeout:  Duration(120 * time.Second),
			MaxPages: 20,
		},
		Inference: InferenceConfig{
			Small:  ModelEndpoint{Timeout: Duration(60 * time.Second)},
			Medium: ModelEndpoint{Timeout: Duration(90 * time.Second)},
			Large:  ModelEndpoint{Timeout: Duration(180 * time.Second)},
		},
		External: ExternalConfig{
			MaxTokens:          2000,
			Temperature:        0.1,
			RetryAttempts:      3,
			RetryInitial:       Duration(2 * time.Second),
			RetryMaxInterval:   Duration(30 * time.Second),
			DailyTokenLimit:    500000,
			DailyCostLimitUSD:  10,
			CostPer1KTokensUSD: 0.01,
		},
		Delivery: DeliveryConfig{
			RatePerSecond: 5,
			Burst:         5,
			FanOut:        4,
			RetryAttempts: 3,
			RetryInitial:  Duration(2 * time.Second),
		},
		Resources: ResourceConfig{
			SampleInterval:  Duration(2 * time.Second),
			MaxCPUPercent:   85,
			MaxRAMPercent:   85,
			MaxGPUPercent:   90,
			MinDiskFreeGiB:  10,
			RecoveryPercent: 75,
			Cooldown:        Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults, resolves token
// environment references, and validates the result. A Load error is a
// configuration error (CLI exit code 1).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.resolveTokens()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveTokens reads API tokens from the environment variables the
// config names.
func (c *Config) resolveTokens() {
	if c.External.TokenEnv != "" {
		c.External.Token = os.Getenv(c.External.TokenEnv)
	}
	if c.Delivery.TokenEnv != "" {
		c.Delivery.Token = os.Getenv(c.Delivery.TokenEnv)
	}
}

// Validate checks structural constraints and cross-field rules that
// tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for tag, machine := range c.Machines {
		for phase, assign := range machine.Phases {
			if assign.RangeEnd != 0 && assign.RangeEnd < assign.RangeStart {
				return fmt.Errorf("invalid configuration: machine %s %s: range_end %d before range_start %d",
					tag, phase, assign.RangeEnd, assign.RangeStart)
			}
		}
	}
	return nil
}

// Assignment returns the machine's assignment for the named phase key
// ("phase1".."phase5"). Missing machines or phases yield an error so a
// typo in a machine tag fails fast instead of processing nothing.
func (c *Config) Assignment(machineTag, phaseKey string) (*PhaseAssignment, error) {
	machine, ok := c.Machines[machineTag]
	if !ok {
		return nil, fmt.Errorf("unknown machine tag %q", machineTag)
	}
	assign, ok := machine.Phases[phaseKey]
	if !ok {
		return nil, fmt.Errorf("machine %q has no assignment for %s", machineTag, phaseKey)
	}
	return assign, nil
}
