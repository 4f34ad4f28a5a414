// Package config loads and validates the optional .oocbench YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/janniklinde/OOCExperiments/internal/budget"
	"github.com/janniklinde/OOCExperiments/internal/runner"
)

// FileName is the configuration file looked up by Load.
const FileName = ".oocbench"

// Default values for supervision and results.
const (
	DefaultTimeout      = runner.DefaultTimeout
	DefaultPollInterval = runner.DefaultPollInterval
	DefaultGracePeriod  = runner.DefaultGracePeriod
	DefaultSkipToken    = runner.DefaultSkipToken
	DefaultMaxOutput    = runner.DefaultMaxOutput
	DefaultResults      = "results.csv"
)

// Default budget fractions and minimums.
const (
	DefaultExecutorFraction = 0.85
	DefaultDriverFraction   = 0.85
	DefaultLocalFraction    = 0.20
	DefaultMemoryFraction   = 0.60
	DefaultStorageFraction  = 0.70

	MinFraction = 0.01
	MaxFraction = 0.99
)

// Share names used for the canonical three-way split.
const (
	ShareExecutor = "executor"
	ShareDriver   = "driver"
	ShareLocal    = "local"
)

var defaultMinimums = map[string]ShareConfig{
	ShareExecutor: {SoftMinMB: 1024, HardMinMB: 256},
	ShareDriver:   {SoftMinMB: 1024, HardMinMB: 256},
	ShareLocal:    {SoftMinMB: 256, HardMinMB: 128},
}

// Config holds the parsed .oocbench configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version         int          `yaml:"version"`
	RawTimeout      string       `yaml:"timeout"`       // e.g. "200s", "10m"
	RawPollInterval string       `yaml:"poll_interval"` // e.g. "1s"
	RawGracePeriod  string       `yaml:"grace_period"`  // e.g. "1s"
	RawSkipToken    string       `yaml:"skip_token"`
	RawMaxOutput    int          `yaml:"max_output"` // bytes
	ScratchDir      string       `yaml:"scratch_dir"`
	RawResults      string       `yaml:"results"`   // CSV results log
	StoreDir        string       `yaml:"store_dir"` // per-run JSON records
	Trace           string       `yaml:"trace"`     // file receiving run spans as JSON
	Markers         []string     `yaml:"markers"`   // error banners; default classify.DefaultMarkers
	Budget          BudgetConfig `yaml:"budget"`
	Experiments     []Experiment `yaml:"experiments"`
}

// BudgetConfig controls how a run's memory ceiling is split.
type BudgetConfig struct {
	ExecutorFraction float64                `yaml:"executor_fraction"`
	DriverFraction   float64                `yaml:"driver_fraction"`
	LocalFraction    float64                `yaml:"local_fraction"`
	MemoryFraction   float64                `yaml:"memory_fraction"`  // passed through to the command
	StorageFraction  float64                `yaml:"storage_fraction"` // passed through to the command
	LocalTargetMB    int                    `yaml:"local_target_mb"`  // overrides local_fraction when > 0
	Minimums         map[string]ShareConfig `yaml:"shares"`           // minimum overrides by share name
}

// ShareConfig overrides the minimums of one share.
type ShareConfig struct {
	SoftMinMB int `yaml:"soft_min_mb"`
	HardMinMB int `yaml:"hard_min_mb"`
}

// Experiment is one named command run a number of times.
type Experiment struct {
	Name        string   `yaml:"name"`
	Mode        string   `yaml:"mode"`        // e.g. "ooc", "inmem"
	Conf        string   `yaml:"conf"`        // e.g. "-Xmx4g"
	Repetitions int      `yaml:"repetitions"` // default 1
	Budget      bool     `yaml:"budget"`      // size shares before each run
	TotalMB     int      `yaml:"total_mb"`    // ceiling override; default parsed from -Xmx
	Command     []string `yaml:"command"`     // argv with {share} placeholders
}

// Runs returns the configured repetitions, at least 1.
func (e *Experiment) Runs() int {
	if e.Repetitions > 0 {
		return e.Repetitions
	}
	return 1
}

// Timeout returns the configured timeout or the default.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.RawTimeout, DefaultTimeout)
}

// PollInterval returns the configured poll interval or the default.
func (c *Config) PollInterval() time.Duration {
	return parseDuration(c.RawPollInterval, DefaultPollInterval)
}

// GracePeriod returns the configured SIGTERM grace period or the default.
func (c *Config) GracePeriod() time.Duration {
	return parseDuration(c.RawGracePeriod, DefaultGracePeriod)
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// SkipToken returns the configured skip token or the default.
func (c *Config) SkipToken() string {
	if c.RawSkipToken != "" {
		return c.RawSkipToken
	}
	return DefaultSkipToken
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// ResultsPath returns the CSV results log path or the default.
func (c *Config) ResultsPath() string {
	if c.RawResults != "" {
		return c.RawResults
	}
	return DefaultResults
}

// Experiment returns the experiment with the given name.
func (c *Config) Experiment(name string) (*Experiment, bool) {
	for i := range c.Experiments {
		if c.Experiments[i].Name == name {
			return &c.Experiments[i], true
		}
	}
	return nil, false
}

// Shares returns the canonical executor, driver and local shares with
// fractions clamped to [MinFraction, MaxFraction].
func (b *BudgetConfig) Shares() []budget.Share {
	return []budget.Share{
		b.share(ShareExecutor, budget.RoleExecutor, b.ExecutorFraction, DefaultExecutorFraction),
		b.share(ShareDriver, budget.RoleDriver, b.DriverFraction, DefaultDriverFraction),
		b.share(ShareLocal, budget.RoleLocal, b.LocalFraction, DefaultLocalFraction),
	}
}

func (b *BudgetConfig) share(name string, role budget.Role, frac, def float64) budget.Share {
	mins := defaultMinimums[name]
	if o, ok := b.Minimums[name]; ok {
		if o.SoftMinMB > 0 {
			mins.SoftMinMB = o.SoftMinMB
		}
		if o.HardMinMB > 0 {
			mins.HardMinMB = o.HardMinMB
		}
	}
	return budget.Share{
		Name:           name,
		Role:           role,
		TargetFraction: Fraction(frac, def),
		SoftMinMB:      mins.SoftMinMB,
		HardMinMB:      mins.HardMinMB,
	}
}

// Memory returns the clamped memory sub-fraction.
func (b *BudgetConfig) Memory() float64 {
	return Fraction(b.MemoryFraction, DefaultMemoryFraction)
}

// Storage returns the clamped storage sub-fraction.
func (b *BudgetConfig) Storage() float64 {
	return Fraction(b.StorageFraction, DefaultStorageFraction)
}

// Fraction returns v clamped to [MinFraction, MaxFraction], or def when v
// is unset.
func Fraction(v, def float64) float64 {
	if v == 0 {
		v = def
	}
	return min(max(v, MinFraction), MaxFraction)
}

// Validate reports experiments that cannot be run.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Experiments))
	for i, e := range c.Experiments {
		if e.Name == "" {
			return fmt.Errorf("experiment %d: name is required", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("experiment %q: duplicate name", e.Name)
		}
		seen[e.Name] = true
		if len(e.Command) == 0 {
			return fmt.Errorf("experiment %q: command is required", e.Name)
		}
		if e.Repetitions < 0 || e.TotalMB < 0 {
			return fmt.Errorf("experiment %q: repetitions and total_mb must not be negative", e.Name)
		}
	}
	return nil
}

// LoadResult holds the parsed config and the directory it was found in.
type LoadResult struct {
	Config *Config
	Root   string // directory containing .oocbench; falls back to workspace
	File   string // file that was read; empty when defaults are in use
}

// Resolve returns path relative to Root unless it is absolute or empty.
func (r *LoadResult) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.Root, path)
}

// Load finds the .oocbench file by walking upward from workspace. If none
// exists, a default Config rooted at workspace is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRoot(workspace)
	if err != nil {
		return &LoadResult{Config: &Config{}, Root: workspace}, nil
	}
	file := filepath.Join(root, FileName)
	cfg, err := LoadFile(file)
	if err != nil {
		return nil, err
	}
	return &LoadResult{Config: cfg, Root: root, File: file}, nil
}

// LoadFile reads and validates a configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating %s: %w", path, err)
	}
	return cfg, nil
}

// findRoot walks upward from dir looking for a directory containing
// the configuration file.
func findRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
