package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	BackendClickHouse = "clickhouse"
	BackendCloudWatch = "cloudwatch"

	DefaultPollInterval     = time.Second
	DefaultCorrelationField = "@requestId"
	DefaultTimeField        = "event_time"
	DefaultRegion           = "us-east-1"
)

var ErrContextNotFound = errors.New("context not found")

// Context is one named backend connection profile.
type Context struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"` // clickhouse or cloudwatch

	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Protocol  string `yaml:"protocol"` // http or native
	Secure    bool   `yaml:"secure"`
	TLSVerify bool   `yaml:"tls_verify"`
	TLSCert   string `yaml:"tls_cert"`
	TLSKey    string `yaml:"tls_key"`
	TLSCa     string `yaml:"tls_ca"`
	TimeField string `yaml:"time_field"`

	Profile string `yaml:"profile"`
	Region  string `yaml:"region"`

	CorrelationTemplate string `yaml:"correlation_template"`
}

type UI struct {
	CorrelationField string `yaml:"correlation_field"`
	// Timezone is the IANA zone absolute times are shown in; empty detects it.
	Timezone string `yaml:"timezone"`
}

type Config struct {
	Contexts       []Context     `yaml:"contexts"`
	DefaultContext string        `yaml:"default_context"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	UI             UI            `yaml:"ui"`
}

// Dir is the per-user directory holding config and logs.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, ".logs-insights"), nil
}

// DefaultPath is ~/.logs-insights/logs-insights.yml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs-insights.yml"), nil
}

// Load reads path, or the default path when empty. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		log.Debug().Str("path", path).Msg("config file not found, using defaults")
	case err != nil:
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.UI.CorrelationField == "" {
		c.UI.CorrelationField = DefaultCorrelationField
	}
	for i := range c.Contexts {
		ctx := &c.Contexts[i]
		if ctx.Backend == "" {
			ctx.Backend = BackendClickHouse
		}
		switch ctx.Backend {
		case BackendClickHouse:
			if ctx.Host == "" {
				ctx.Host = "localhost"
			}
			if ctx.Port == 0 {
				ctx.Port = 9000
				if ctx.Protocol == "http" {
					ctx.Port = 8123
				}
			}
			if ctx.Database == "" {
				ctx.Database = "default"
			}
			if ctx.TimeField == "" {
				ctx.TimeField = DefaultTimeField
			}
		case BackendCloudWatch:
			if ctx.Region == "" {
				ctx.Region = DefaultRegion
			}
		}
	}
}

func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, ctx := range c.Contexts {
		if ctx.Name == "" {
			return errors.New("context without name")
		}
		if seen[ctx.Name] {
			return errors.Errorf("duplicate context %q", ctx.Name)
		}
		seen[ctx.Name] = true
		if ctx.Backend != BackendClickHouse && ctx.Backend != BackendCloudWatch {
			return errors.Errorf("context %q: unknown backend %q", ctx.Name, ctx.Backend)
		}
	}
	if c.DefaultContext != "" && !seen[c.DefaultContext] {
		return errors.Wrapf(ErrContextNotFound, "default_context %q", c.DefaultContext)
	}
	return nil
}

// Names lists the configured contexts in file order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Contexts))
	for _, ctx := range c.Contexts {
		names = append(names, ctx.Name)
	}
	return names
}

// Context finds a context by name. An empty name selects default_context,
// or the only context when exactly one is configured.
func (c *Config) Context(name string) (*Context, error) {
	if name == "" {
		name = c.DefaultContext
	}
	if name == "" && len(c.Contexts) == 1 {
		return &c.Contexts[0], nil
	}
	if name == "" {
		return nil, errors.Wrap(ErrContextNotFound, "no context selected, use --connect or default_context")
	}
	for i := range c.Contexts {
		if c.Contexts[i].Name == name {
			return &c.Contexts[i], nil
		}
	}
	return nil, errors.Wrapf(ErrContextNotFound, "%q", name)
}
