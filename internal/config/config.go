package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Capability classes callers must hold before invoking engine operations.
const (
	CapRegistration = "registration"
	CapNovelty      = "novelty"
	CapOperations   = "operations"
)

// Capabilities is the closed set of capability classes.
var Capabilities = []string{CapRegistration, CapNovelty, CapOperations}

// Config models slaline.yml.
type Config struct {
	Registry struct {
		Name string `yaml:"name"`
	} `yaml:"registry"`
	Defaults struct {
		WindowSeconds int64 `yaml:"window_seconds"`
	} `yaml:"defaults"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

func validCapability(c string) bool {
	for _, known := range Capabilities {
		if c == known {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Registry.Name == "" {
		return fmt.Errorf("config.registry.name is required")
	}
	if c.Defaults.WindowSeconds < 0 {
		return fmt.Errorf("config.defaults.window_seconds must not be negative")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, cap := range role.Capabilities {
				if !validCapability(cap) {
					return fmt.Errorf("role %s has unknown capability %s", roleID, cap)
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "slaline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with sla config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// Default returns the default Config struct for a registry.
func Default(name string) *Config {
	var cfg Config
	cfg.Registry.Name = name
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, name))).Decode(&cfg)
	return &cfg
}

const defaultTemplate = `registry:
  name: %s

defaults:
  window_seconds: 300

rbac:
  roles:
    admin:
      description: "Full access to every operation class"
      capabilities: [registration, novelty, operations]
    reporter:
      description: "Registers clients, contracts and SLAs and submits metric reports"
      capabilities: [registration]
    steward:
      description: "Applies SLA novelties (pause/resume/retarget)"
      capabilities: [novelty]
    operator:
      description: "Works the alert queue (acknowledge/resolve)"
      capabilities: [operations]
`
