package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/kiln/ipc"
	"github.com/pithecene-io/kiln/policy"
)

// DefaultPath is the config file read when --config is not given.
const DefaultPath = "kiln.yaml"

// Load reads a YAML config file, expands environment variables, and
// unmarshals it over Defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated fields and the values each selection needs.
// Budgets are checked by the runtime.
func (c *Config) Validate() error {
	var errs []error

	switch c.Generator.Type {
	case "":
	case "http":
		if c.Generator.URL == "" {
			errs = append(errs, errors.New("generator.url is required for the http generator"))
		}
	case "dir":
		if c.Generator.Dir == "" {
			errs = append(errs, errors.New("generator.dir is required for the dir generator"))
		}
	default:
		errs = append(errs, fmt.Errorf("generator.type %q must be http or dir", c.Generator.Type))
	}

	switch c.Worker.Codec {
	case "", ipc.CodecJSON, ipc.CodecMsgpack:
	default:
		errs = append(errs, fmt.Errorf("worker.codec %q must be json or msgpack", c.Worker.Codec))
	}
	if c.Worker.MaxRestarts != nil && *c.Worker.MaxRestarts < 0 {
		errs = append(errs, errors.New("worker.max_restarts must be >= 0"))
	}

	switch c.Telemetry.Policy {
	case "", policy.NameStrict, policy.NameBuffered, policy.NameStreaming, policy.NameNoop:
	default:
		errs = append(errs, fmt.Errorf("telemetry.policy %q must be strict, buffered, streaming or noop", c.Telemetry.Policy))
	}
	switch c.Telemetry.Backend {
	case "":
	case "fs", "s3":
		if c.Telemetry.Path == "" {
			errs = append(errs, fmt.Errorf("telemetry.path is required for the %s backend", c.Telemetry.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("telemetry.backend %q must be fs or s3", c.Telemetry.Backend))
	}

	switch c.Adapter.Type {
	case "":
	case "redis", "webhook":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for the %s adapter", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q must be redis or webhook", c.Adapter.Type))
	}

	if c.Role != "" && len(c.Roles) > 0 {
		if _, ok := c.Roles[c.Role]; !ok {
			errs = append(errs, fmt.Errorf("role %q is not declared under roles", c.Role))
		}
	}
	return errors.Join(errs...)
}
