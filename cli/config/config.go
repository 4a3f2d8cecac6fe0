package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/pithecene-io/kiln/artifact"
	"github.com/pithecene-io/kiln/types"
)

// Config represents a kiln.yaml configuration file.
// Values act as defaults for kiln commands; CLI flags override them.
type Config struct {
	Role         string                `yaml:"role"`
	Roles        map[string]RoleConfig `yaml:"roles"`
	StoreDir     string                `yaml:"store_dir"`
	RegistryPath string                `yaml:"registry_path"`
	LogLevel     string                `yaml:"log_level"`
	Budgets      BudgetConfig          `yaml:"budgets"`
	Promotion    PromotionConfig       `yaml:"promotion"`
	Worker       WorkerConfig          `yaml:"worker"`
	Generator    GeneratorConfig       `yaml:"generator"`
	Telemetry    TelemetryConfig       `yaml:"telemetry"`
	Adapter      AdapterConfig         `yaml:"adapter"`
}

// RoleConfig lists the declared capabilities of one role.
// Methods absent from the map are dynamic.
type RoleConfig struct {
	Methods map[string]MethodConfig `yaml:"methods"`
}

// MethodConfig declares one capability.
type MethodConfig struct {
	Purpose  string          `yaml:"purpose"`
	Contract *types.Contract `yaml:"contract,omitempty"`
}

// BudgetConfig holds retry budgets. Nil keeps the runtime default.
type BudgetConfig struct {
	Guardrail *int `yaml:"guardrail,omitempty"`
	Outcome   *int `yaml:"outcome,omitempty"`
}

// PromotionConfig holds lifecycle settings. Policy fields absent from the
// file keep their default values.
type PromotionConfig struct {
	Enforcement bool            `yaml:"enforcement"`
	Policy      artifact.Policy `yaml:"policy"`
}

// WorkerConfig configures out-of-process execution. An empty Path runs
// every program in process and fails programs that declare dependencies.
type WorkerConfig struct {
	Path        string   `yaml:"path"`
	EnvsRoot    string   `yaml:"envs_root"`
	Codec       string   `yaml:"codec"`
	Timeout     Duration `yaml:"timeout,omitempty"`
	MaxRestarts *int     `yaml:"max_restarts,omitempty"`
}

// GeneratorConfig selects the program generator.
type GeneratorConfig struct {
	// Type is http or dir.
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Model   string            `yaml:"model"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
	Dir     string            `yaml:"dir"`
}

// TelemetryConfig configures the telemetry policy and its Lode backend.
// An empty Backend disables telemetry.
type TelemetryConfig struct {
	Policy        string   `yaml:"policy"`
	BufferRecords int      `yaml:"buffer_records"`
	BufferBytes   int64    `yaml:"buffer_bytes"`
	FlushCount    int      `yaml:"flush_count"`
	FlushInterval Duration `yaml:"flush_interval"`
	Dataset       string   `yaml:"dataset"`
	Backend       string   `yaml:"backend"`
	Path          string   `yaml:"path"`
	Region        string   `yaml:"region"`
	Endpoint      string   `yaml:"endpoint"`
	S3PathStyle   bool     `yaml:"s3_path_style"`
	// Sources also writes each persisted program's source next to the
	// telemetry records.
	Sources bool `yaml:"sources"`
}

// AdapterConfig configures call-completed notifications.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Defaults returns a Config with the promotion policy prefilled, so a
// partial policy block only overrides the fields it names.
func Defaults() *Config {
	return &Config{
		Promotion: PromotionConfig{Policy: artifact.DefaultPolicy()},
	}
}

// MethodNames returns the declared methods of role, sorted.
func (c *Config) MethodNames(role string) []string {
	rc, ok := c.Roles[role]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(rc.Methods))
	for name := range rc.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
