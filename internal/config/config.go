package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models sprintline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		TokenTTLMinutes        int    `yaml:"token_ttl_minutes"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		DevLoginEnabled        bool   `yaml:"dev_login_enabled"`
	} `yaml:"auth"`
	Activity struct {
		// Entries returned inline with a sprint read.
		PageSize int `yaml:"page_size"`
	} `yaml:"activity"`
	Metrics struct {
		// Completed sprints considered for the velocity trend.
		VelocityWindow int `yaml:"velocity_window"`
	} `yaml:"metrics"`
	RBAC struct {
		Roles map[string]Role `yaml:"roles"`
	} `yaml:"rbac"`
}

type Role struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// AllPermissions is the closed set of permission ids the engine checks.
var AllPermissions = []string{
	"project.create", "project.read",
	"sprints.read", "sprints.create", "sprints.edit", "sprints.delete",
	"backlog.read", "backlog.edit",
	"dashboard.read",
}

// Default returns a usable local-development config.
func Default() *Config {
	c := &Config{}
	c.Server.Addr = "127.0.0.1:8390"
	c.Server.BasePath = "/v1"
	c.Auth.TokenTTLMinutes = 60
	c.Auth.AllowLegacyActorHeader = true
	c.Auth.DevLoginEnabled = true
	c.Activity.PageSize = 20
	c.Metrics.VelocityWindow = 6
	c.RBAC.Roles = map[string]Role{
		"owner": {
			Description: "full control of a project's sprints and backlog",
			Permissions: append([]string(nil), AllPermissions...),
		},
		"member": {
			Description: "edit sprints and backlog, no delete",
			Permissions: []string{
				"project.read",
				"sprints.read", "sprints.create", "sprints.edit",
				"backlog.read", "backlog.edit",
				"dashboard.read",
			},
		},
		"viewer": {
			Description: "read-only access",
			Permissions: []string{"project.read", "sprints.read", "backlog.read", "dashboard.read"},
		},
	}
	return c
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".sprintline", "sprintline.yml")
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML serializes config, used by `sl config show` and tests.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath == "" {
		return fmt.Errorf("config.server.base_path is required")
	}
	if c.Activity.PageSize <= 0 {
		return fmt.Errorf("config.activity.page_size must be positive")
	}
	if c.Metrics.VelocityWindow <= 0 {
		return fmt.Errorf("config.metrics.velocity_window must be positive")
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		known := map[string]bool{}
		for _, p := range AllPermissions {
			known[p] = true
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
				if !known[perm] {
					return fmt.Errorf("role %s references unknown permission %s", roleID, perm)
				}
			}
		}
	}
	return nil
}
