package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"taskdesk/internal/domain"
)

// Config models taskdesk.yml.
type Config struct {
	Company struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"company"`
	Defaults struct {
		Priority string `yaml:"priority"`
		Type     string `yaml:"type"`
	} `yaml:"defaults"`
	Permissions struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"permissions"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one outbound delivery target for task history
// records. An empty Actions list subscribes to everything.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"-"`
	Actions        []string `yaml:"actions" json:"actions,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with td company config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Company.ID == "" {
		return fmt.Errorf("config.company.id is required")
	}
	if c.Defaults.Priority != "" && !domain.ValidPriority(c.Defaults.Priority) {
		return fmt.Errorf("config.defaults.priority %s is not a known priority", c.Defaults.Priority)
	}
	if c.Defaults.Type != "" && !domain.ValidTaskType(c.Defaults.Type) {
		return fmt.Errorf("config.defaults.type %s is not a known task type", c.Defaults.Type)
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["owner"]; !ok {
			return fmt.Errorf("config.rbac.roles must include owner")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
				if len(c.Permissions.Catalog) > 0 {
					if _, ok := c.Permissions.Catalog[perm]; !ok {
						return fmt.Errorf("role %s references unknown permission %s", roleID, perm)
					}
				}
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d is missing url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(companyID string) string {
	return fmt.Sprintf(defaultTemplate, companyID)
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

// Default returns the default Config struct for a company.
func Default(companyID string) *Config {
	var cfg Config
	cfg.Company.ID = companyID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, companyID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `company:
  id: %s

defaults:
  priority: medium
  type: personal

permissions:
  catalog:
    task.create:
      description: "Create tasks"
    task.read:
      description: "Read a single task"
    task.list:
      description: "List and filter tasks"
    task.update:
      description: "Edit task title, description, priority and assignment"
    task.delete:
      description: "Delete tasks and their related records"
    task.status.change:
      description: "Move tasks between statuses"
    task.timer:
      description: "Start and stop task timers"
    task.transfer:
      description: "Request and respond to transfers and delegations"
    task.claim:
      description: "Accept public tasks"
    task.comment:
      description: "Comment on tasks and attach files"
    task.history.read:
      description: "Read the task audit trail"

rbac:
  roles:
    owner:
      description: "Full control over the company workspace"
      permissions:
        - task.create
        - task.read
        - task.list
        - task.update
        - task.delete
        - task.status.change
        - task.timer
        - task.transfer
        - task.claim
        - task.comment
        - task.history.read
    manager:
      description: "Manages tasks across departments"
      permissions:
        - task.create
        - task.read
        - task.list
        - task.update
        - task.status.change
        - task.timer
        - task.transfer
        - task.claim
        - task.comment
        - task.history.read
    member:
      description: "Works on assigned and claimed tasks"
      permissions:
        - task.create
        - task.read
        - task.list
        - task.status.change
        - task.timer
        - task.transfer
        - task.claim
        - task.comment
    viewer:
      description: "Read-only access"
      permissions:
        - task.read
        - task.list
        - task.history.read
`
