package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	LogJSON = "json"
	LogText = "text"

	FormatJSON      = "json"
	FormatCycloneDX = "cyclonedx"
	FormatBoth      = "both"

	DefaultPollInterval     = 15 * time.Second
	DefaultFailureThreshold = 20
	DefaultAPITimeout       = 30 * time.Second

	// EnvPrefix prefixes environment overrides, e.g. SCANGATE_SCAN_CONFIG_ID.
	EnvPrefix = "SCANGATE"
)

type Config struct {
	Version   int         `mapstructure:"version" yaml:"version" validate:"eq=0"` // fixed 0 for now
	Verbose   bool        `mapstructure:"verbose" yaml:"verbose"`
	Log       Log         `mapstructure:"log" yaml:"log"`
	API       API         `mapstructure:"api" yaml:"api"`
	Scan      ScanSection `mapstructure:"scan" yaml:"scan"`
	Poll      Poll        `mapstructure:"poll" yaml:"poll"`
	Output    Output      `mapstructure:"output" yaml:"output"`
	Telemetry Telemetry   `mapstructure:"telemetry" yaml:"telemetry"`
}

type Log struct {
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

// API describes how to reach the vendor service.
type API struct {
	Region          string   `mapstructure:"region" yaml:"region"`
	BaseURL         URL      `mapstructure:"base_url" yaml:"base_url,omitempty"`
	CredentialsID   string   `mapstructure:"credentials_id" yaml:"credentials_id,omitempty"`
	CredentialsFile string   `mapstructure:"credentials_file" yaml:"credentials_file,omitempty"`
	Timeout         Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit       float64  `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst           int      `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
	UserAgent       string   `mapstructure:"user_agent" yaml:"user_agent,omitempty"`
}

// ScanSection holds what to scan and how long to wait for it.
type ScanSection struct {
	ConfigID     string    `mapstructure:"config_id" yaml:"config_id"`
	Milestone    Milestone `mapstructure:"milestone" yaml:"milestone" validate:"required"`
	Query        string    `mapstructure:"query" yaml:"query,omitempty"`
	VerifyConfig bool      `mapstructure:"verify_config" yaml:"verify_config"`
	MaxPending   Duration  `mapstructure:"max_pending" yaml:"max_pending"`
	MaxExecution Duration  `mapstructure:"max_execution" yaml:"max_execution"`
}

type Poll struct {
	Interval         Duration `mapstructure:"interval" yaml:"interval"`
	FailureThreshold int      `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"gte=0"`
}

// Output configures where results are published.
type Output struct {
	Stdout     bool        `mapstructure:"stdout" yaml:"stdout"`
	Dir        string      `mapstructure:"dir" yaml:"dir,omitempty"`
	Format     string      `mapstructure:"format" yaml:"format" validate:"oneof=json cyclonedx both"`
	FailOnVuln bool        `mapstructure:"fail_on_vulnerabilities" yaml:"fail_on_vulnerabilities"`
	Artifacts  *Artifacts  `mapstructure:"artifacts" yaml:"artifacts,omitempty"`
	Repository *Repository `mapstructure:"repository" yaml:"repository,omitempty"`
}

// Artifacts is an S3 compatible bucket receiving the report files.
type Artifacts struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// Repository is a BOM repository accepting the CycloneDX report.
type Repository struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	URL     URL  `mapstructure:"url" yaml:"url"`
}

// Telemetry exports the run traces to an OTLP collector over gRPC.
type Telemetry struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"required_if=Enabled true"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`
}

func DefaultConfig() Config {
	return Config{
		Version: 0,
		Log:     Log{Format: LogJSON},
		API: API{
			Region:    "us",
			Timeout:   NewDuration(DefaultAPITimeout),
			RateLimit: 5,
			Burst:     5,
		},
		Scan: ScanSection{
			Milestone: MilestoneCompleted,
		},
		Poll: Poll{
			Interval:         NewDuration(DefaultPollInterval),
			FailureThreshold: DefaultFailureThreshold,
		},
		Output: Output{
			Stdout:     true,
			Format:     FormatJSON,
			FailOnVuln: true,
		},
		Telemetry: Telemetry{
			SampleRatio: 1,
		},
	}
}

// NewViper returns a viper instance with defaults registered and SCANGATE_*
// environment overrides enabled. Nested keys map to env names with '_'
// (scan.config_id -> SCANGATE_SCAN_CONFIG_ID).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("api.region", d.API.Region)
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.credentials_id", "")
	v.SetDefault("api.credentials_file", "")
	v.SetDefault("api.timeout", d.API.Timeout.String())
	v.SetDefault("api.rate_limit", d.API.RateLimit)
	v.SetDefault("api.burst", d.API.Burst)
	v.SetDefault("api.user_agent", "")
	v.SetDefault("scan.config_id", "")
	v.SetDefault("scan.milestone", string(d.Scan.Milestone))
	v.SetDefault("scan.query", "")
	v.SetDefault("scan.verify_config", false)
	v.SetDefault("scan.max_pending", "")
	v.SetDefault("scan.max_execution", "")
	v.SetDefault("poll.interval", d.Poll.Interval.String())
	v.SetDefault("poll.failure_threshold", d.Poll.FailureThreshold)
	v.SetDefault("output.stdout", d.Output.Stdout)
	v.SetDefault("output.dir", "")
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.fail_on_vulnerabilities", d.Output.FailOnVuln)
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.sample_ratio", d.Telemetry.SampleRatio)
	return v
}

// LoadConfig decodes and validates the configuration held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the static configuration. Scan.ConfigID is checked by
// ValidateRun because it is usually supplied on the command line.
func (c Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("config %s: failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if c.API.Region == "" && c.API.BaseURL.IsZero() {
		errs = append(errs, errors.New("config api: region or base_url is required"))
	}
	if !c.Poll.Interval.Valid || c.Poll.Interval.Duration <= 0 {
		errs = append(errs, errors.New("config poll.interval: must be a positive duration"))
	}
	if c.Scan.MaxPending.Valid && c.Scan.MaxPending.Duration < 0 {
		errs = append(errs, errors.New("config scan.max_pending: must not be negative"))
	}
	if c.Scan.MaxExecution.Valid && c.Scan.MaxExecution.Duration < 0 {
		errs = append(errs, errors.New("config scan.max_execution: must not be negative"))
	}
	if c.Output.Repository != nil && c.Output.Repository.Enabled && c.Output.Repository.URL.IsZero() {
		errs = append(errs, errors.New("config output.repository.url: required when repository is enabled"))
	}
	return errors.Join(errs...)
}

// ValidateRun checks what a scan run needs on top of Validate.
func (c Config) ValidateRun() error {
	if strings.TrimSpace(c.Scan.ConfigID) == "" {
		return errors.New("config scan.config_id: required (use --scan-config-id or SCANGATE_SCAN_CONFIG_ID)")
	}
	return nil
}
