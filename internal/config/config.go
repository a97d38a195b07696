// Package config loads the run configuration from a YAML, JSON or TOML file,
// SYNTHBALANCE_ environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ricci-colasanti/synthbalance/internal/accuracy"
	"github.com/ricci-colasanti/synthbalance/internal/allocation"
	"github.com/ricci-colasanti/synthbalance/internal/balance"
	"github.com/ricci-colasanti/synthbalance/internal/discretize"
	"github.com/ricci-colasanti/synthbalance/internal/indicator"
	"github.com/ricci-colasanti/synthbalance/internal/logging"
	"github.com/ricci-colasanti/synthbalance/internal/marginals"
)

// EnvPrefix prefixes the environment variables read by Load. Nested keys
// join with an underscore: SYNTHBALANCE_HOUSEHOLDS_FILE.
const EnvPrefix = "SYNTHBALANCE"

// ErrHelp is returned by Load when the usage was requested.
var ErrHelp = pflag.ErrHelp

// FileConfig names one input file.
type FileConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// OutputConfig names the files a run writes. Empty paths are skipped.
type OutputConfig struct {
	Households string `mapstructure:"households" yaml:"households"`
	Persons    string `mapstructure:"persons" yaml:"persons"`
	// Database is a SQLite file the run is saved to.
	Database string `mapstructure:"database" yaml:"database"`
	Accuracy string `mapstructure:"accuracy" yaml:"accuracy"`
	Plot     string `mapstructure:"plot" yaml:"plot"`
	// Metrics receives the Prometheus text exposition of the run.
	Metrics string `mapstructure:"metrics" yaml:"metrics"`
}

// Config is everything a run needs.
type Config struct {
	Households FileConfig   `mapstructure:"households" yaml:"households"`
	Persons    FileConfig   `mapstructure:"persons" yaml:"persons"`
	Marginals  FileConfig   `mapstructure:"marginals" yaml:"marginals"`
	Output     OutputConfig `mapstructure:"output" yaml:"output"`
	RunName    string       `mapstructure:"run_name" yaml:"run_name"`

	TractColumn       string   `mapstructure:"tract_column" yaml:"tract_column"`
	Attributes        []string `mapstructure:"attributes" yaml:"attributes,flow"`
	SparsityThreshold float64  `mapstructure:"sparsity_threshold" yaml:"sparsity_threshold"`

	Gamma           float64 `mapstructure:"gamma" yaml:"gamma"`
	MetaGamma       float64 `mapstructure:"meta_gamma" yaml:"meta_gamma"`
	RelaxStep       float64 `mapstructure:"relax_step" yaml:"relax_step"`
	MuFloor         float64 `mapstructure:"mu_floor" yaml:"mu_floor"`
	DiscretizeGamma float64 `mapstructure:"discretize_gamma" yaml:"discretize_gamma"`
	Fallback        string  `mapstructure:"fallback" yaml:"fallback"`
	Distance        string  `mapstructure:"distance" yaml:"distance"`

	Workers int           `mapstructure:"workers" yaml:"workers"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	PrintConfig bool   `mapstructure:"print_config" yaml:"-"`
}

// Default returns the configuration used for every unset key.
func Default() Config {
	return Config{
		RunName:           "synthbalance",
		TractColumn:       marginals.DefaultTractColumn,
		Attributes:        append([]string(nil), indicator.DefaultAttributes...),
		SparsityThreshold: indicator.DefaultThreshold,
		Gamma:             allocation.DefaultGamma,
		MetaGamma:         allocation.DefaultMetaGamma,
		RelaxStep:         balance.DefaultRelaxStep,
		MuFloor:           balance.DefaultMuFloor,
		DiscretizeGamma:   discretize.DefaultGamma,
		Fallback:          balance.FallbackRelativePrior.String(),
		Distance:          accuracy.KL_DIVERGENCE.String(),
		Workers:           runtime.NumCPU(),
		LogLevel:          "info",
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	for name, f := range map[string]FileConfig{"households": c.Households, "persons": c.Persons, "marginals": c.Marginals} {
		if strings.TrimSpace(f.File) == "" {
			return fmt.Errorf("%s.file is required", name)
		}
	}
	if strings.TrimSpace(c.TractColumn) == "" {
		return errors.New("tract_column must not be empty")
	}
	if len(c.Attributes) == 0 {
		return errors.New("attributes must name at least one household column")
	}
	if c.SparsityThreshold < 0 || c.SparsityThreshold >= 1 {
		return fmt.Errorf("sparsity_threshold must be in [0, 1), got %v", c.SparsityThreshold)
	}
	for name, v := range map[string]float64{
		"gamma":            c.Gamma,
		"meta_gamma":       c.MetaGamma,
		"relax_step":       c.RelaxStep,
		"mu_floor":         c.MuFloor,
		"discretize_gamma": c.DiscretizeGamma,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, v)
		}
	}
	if _, err := balance.ParseFallbackPolicy(c.Fallback); err != nil {
		return err
	}
	if _, err := accuracy.ParseMetric(c.Distance); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// YAML renders the configuration for --print-config.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}

// Flags returns the command line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("synthbalance", pflag.ContinueOnError)
	fs.StringP("config", "f", "", "Config file path (YAML, JSON or TOML)")
	fs.String("log-level", "info", "Log level: error, warn, info, debug or trace")
	fs.Int("workers", 0, "Tracts discretized concurrently (0 = number of CPUs)")
	fs.Duration("timeout", 0, "Per-solve time limit (0 = none)")
	fs.Bool("print-config", false, "Print the resolved configuration and exit")
	return fs
}

// Load parses args and resolves the configuration. Flags override
// environment variables, which override the config file, which overrides
// Default.
func Load(args []string) (Config, error) {
	fs := Flags()
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, flag := range map[string]string{
		"log_level":    "log-level",
		"workers":      "workers",
		"timeout":      "timeout",
		"print_config": "print-config",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return Config{}, fmt.Errorf("binding flag %s: %w", flag, err)
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("households.file", d.Households.File)
	v.SetDefault("persons.file", d.Persons.File)
	v.SetDefault("marginals.file", d.Marginals.File)
	v.SetDefault("output.households", d.Output.Households)
	v.SetDefault("output.persons", d.Output.Persons)
	v.SetDefault("output.database", d.Output.Database)
	v.SetDefault("output.accuracy", d.Output.Accuracy)
	v.SetDefault("output.plot", d.Output.Plot)
	v.SetDefault("output.metrics", d.Output.Metrics)
	v.SetDefault("run_name", d.RunName)
	v.SetDefault("tract_column", d.TractColumn)
	v.SetDefault("attributes", d.Attributes)
	v.SetDefault("sparsity_threshold", d.SparsityThreshold)
	v.SetDefault("gamma", d.Gamma)
	v.SetDefault("meta_gamma", d.MetaGamma)
	v.SetDefault("relax_step", d.RelaxStep)
	v.SetDefault("mu_floor", d.MuFloor)
	v.SetDefault("discretize_gamma", d.DiscretizeGamma)
	v.SetDefault("fallback", d.Fallback)
	v.SetDefault("distance", d.Distance)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("development", d.Development)
	v.SetDefault("print_config", false)
}
