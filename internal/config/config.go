package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const FileName = "surveyflow.yml"

// Config models surveyflow.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Database struct {
		// Driver is sqlite or postgres.
		Driver string `yaml:"driver"`
		// DSN is required for postgres; sqlite defaults to the workspace file.
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Auth struct {
		AllowDevTokens   bool   `yaml:"allow_dev_tokens"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
		TokenTTLMinutes  int    `yaml:"token_ttl_minutes"`
		Issuer           string `yaml:"issuer"`
	} `yaml:"auth"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Respondents struct {
		MaxAnswerLength int `yaml:"max_answer_length"`
	} `yaml:"respondents"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Retries        int      `yaml:"retries"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

// Permissions used by the engine and the API.
const (
	PermSurveyRead    = "survey.read"
	PermSurveyWrite   = "survey.write"
	PermFlowConfigure = "flow.configure"
	PermSurveyPublish = "survey.publish"
	PermResponseWrite = "response.write"
	PermResponseRead  = "response.read"
	PermEventsRead    = "events.read"
	PermKeysManage    = "keys.manage"
)

var knownPermissions = map[string]struct{}{
	PermSurveyRead: {}, PermSurveyWrite: {}, PermFlowConfigure: {}, PermSurveyPublish: {},
	PermResponseWrite: {}, PermResponseRead: {}, PermEventsRead: {}, PermKeysManage: {},
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sf init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("config.database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Auth.TokenTTLMinutes < 0 {
		return fmt.Errorf("config.auth.token_ttl_minutes must not be negative")
	}
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	if _, ok := c.RBAC.Roles["admin"]; !ok {
		return fmt.Errorf("config.rbac.roles must include admin")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if _, ok := knownPermissions[perm]; !ok {
				return fmt.Errorf("role %s has unknown permission %q", roleID, perm)
			}
		}
	}
	if c.Respondents.MaxAnswerLength < 0 {
		return fmt.Errorf("config.respondents.max_answer_length must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 || hook.Retries < 0 {
			return fmt.Errorf("config.webhooks[%d] timeout and retries must not be negative", i)
		}
	}
	return nil
}

// RolePermissions expands role ids into their distinct permissions.
func (c *Config) RolePermissions(roles []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, roleID := range roles {
		role, ok := c.RBAC.Roles[roleID]
		if !ok {
			continue
		}
		for _, p := range role.Permissions {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// take their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	cfg.RBAC.Roles = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if cfg.RBAC.Roles == nil {
		cfg.RBAC.Roles = Default().RBAC.Roles
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

database:
  driver: sqlite

auth:
  allow_dev_tokens: false
  allow_actor_header: false
  token_ttl_minutes: 60
  issuer: surveyflow

rbac:
  roles:
    admin:
      description: "Full access"
      permissions: [survey.read, survey.write, flow.configure, survey.publish, response.write, response.read, events.read, keys.manage]
    editor:
      description: "Authors surveys and their flow"
      permissions: [survey.read, survey.write, flow.configure, survey.publish, response.read, events.read]
    respondent:
      description: "Answers active surveys"
      permissions: [survey.read, response.write]

respondents:
  max_answer_length: 4000

webhooks: []
`
