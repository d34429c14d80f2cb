package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models complyline.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Docusign struct {
		BaseURL        string `yaml:"base_url"`
		AuthBaseURL    string `yaml:"auth_base_url"`
		IntegrationKey string `yaml:"integration_key"`
		SecretKey      string `yaml:"secret_key"`
		AccountID      string `yaml:"account_id"`
		RedirectURI    string `yaml:"redirect_uri"`
		WebhookSecret  string `yaml:"webhook_secret"`
	} `yaml:"docusign"`
	OpenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`
	Storage struct {
		Bucket          string `yaml:"bucket"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"storage"`
	Renderer struct {
		URL string `yaml:"url"`
	} `yaml:"renderer"`
	Review struct {
		DefaultFrequencyDays int `yaml:"default_frequency_days"`
		SweepTimeoutSeconds  int `yaml:"sweep_timeout_seconds"`
	} `yaml:"review"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or pass --workspace", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure. The sweep and
// dispatch paths cannot run with incomplete provider credentials, so those
// are checked up front rather than at first use.
func (c *Config) Validate() error {
	if c.Docusign.IntegrationKey == "" {
		return fmt.Errorf("config.docusign.integration_key is required")
	}
	if c.Docusign.SecretKey == "" {
		return fmt.Errorf("config.docusign.secret_key is required")
	}
	if c.Docusign.AccountID == "" {
		return fmt.Errorf("config.docusign.account_id is required")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("config.openai.api_key is required")
	}
	if c.Review.DefaultFrequencyDays < 0 {
		return fmt.Errorf("config.review.default_frequency_days must not be negative")
	}
	return nil
}

// ApplyDefaults fills optional fields the rest of the system assumes set.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Docusign.BaseURL == "" {
		c.Docusign.BaseURL = "https://demo.docusign.net"
	}
	if c.Docusign.AuthBaseURL == "" {
		c.Docusign.AuthBaseURL = "https://account-d.docusign.com"
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o"
	}
	if c.Review.DefaultFrequencyDays == 0 {
		c.Review.DefaultFrequencyDays = 30
	}
	if c.Review.SweepTimeoutSeconds == 0 {
		c.Review.SweepTimeoutSeconds = 300
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "complyline.yml")
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
	cfg.ApplyDefaults()
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
