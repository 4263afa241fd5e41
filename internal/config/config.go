// Package config manages connection profiles for PLC web servers. Profiles
// live in a YAML file under the user's configuration directory; stored
// passwords are encrypted at rest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plcweb/console/internal/logging"
)

// DefaultProfileName is the profile used when none is selected.
const DefaultProfileName = "local"

// Profile describes how to reach and authenticate against one controller.
type Profile struct {
	Name                string        `yaml:"-"`
	Host                string        `yaml:"host"`
	User                string        `yaml:"user,omitempty"`
	Password            string        `yaml:"password,omitempty"`
	Mode                string        `yaml:"mode,omitempty"`
	IncludeWebAppCookie bool          `yaml:"include_web_application_cookie,omitempty"`
	InsecureSkipVerify  bool          `yaml:"insecure_skip_verify,omitempty"`
	RequestTimeout      time.Duration `yaml:"request_timeout,omitempty"`
	PerformChecks       *bool         `yaml:"perform_checks,omitempty"`
	Theme               string        `yaml:"theme,omitempty"`
}

// ChecksEnabled reports whether client-side parameter checks run. Defaults to true.
func (p *Profile) ChecksEnabled() bool {
	return p.PerformChecks == nil || *p.PerformChecks
}

// Theme holds the colors used by the renderer.
type Theme struct {
	Name    string `yaml:"-"`
	Success string `yaml:"success"`
	Error   string `yaml:"error"`
	Warning string `yaml:"warning"`
	Info    string `yaml:"info"`
	Syntax  string `yaml:"syntax,omitempty"`
}

// Config represents the complete configuration file structure
type Config struct {
	Profiles map[string]Profile `yaml:"profiles"`
	Themes   map[string]Theme   `yaml:"themes"`
}

// Manager loads and saves profiles.
type Manager struct {
	configPath   string
	keyPath      string
	securityMgr  SecurityManager
	logger       *logging.Logger
	mutex        sync.Mutex
	cachedConfig *Config
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConfigPath overrides the profile file location.
func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		m.configPath = path
	}
}

// WithKeyPath overrides the location of the encryption key material.
func WithKeyPath(path string) ManagerOption {
	return func(m *Manager) {
		m.keyPath = path
	}
}

// WithSecurityManager replaces the credential encryption.
func WithSecurityManager(s SecurityManager) ManagerOption {
	return func(m *Manager) {
		m.securityMgr = s
	}
}

// WithLogger sets the logger. The global config logger is used otherwise.
func WithLogger(logger *logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a configuration manager with OS-appropriate paths and security setup
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}

	if m.configPath == "" {
		path, err := DefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to determine configuration path: %w", err)
		}
		m.configPath = path
	}

	if m.securityMgr == nil {
		keyPath := m.keyPath
		if keyPath == "" {
			path, err := defaultKeyPath()
			if err != nil {
				return nil, fmt.Errorf("failed to determine security key path: %w", err)
			}
			keyPath = path
		}
		securityMgr, err := NewSecurityManager(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security manager: %w", err)
		}
		m.securityMgr = securityMgr
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create configuration directory: %w", err)
	}
	return m, nil
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/plcweb/profiles.yaml, falling
// back to ~/.config/plcweb/profiles.yaml.
func DefaultConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "plcweb", "profiles.yaml"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "plcweb", "profiles.yaml"), nil
}

func (m *Manager) log() *logging.Logger {
	if m.logger != nil {
		return m.logger
	}
	return logging.GetConfigLogger()
}

// loadConfig reads and parses the configuration file, creating defaults if necessary.
// Callers hold m.mutex.
func (m *Manager) loadConfig() (*Config, error) {
	if m.cachedConfig != nil {
		return m.cachedConfig, nil
	}

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		config := defaultConfig()
		if err := m.saveConfig(config); err != nil {
			return nil, fmt.Errorf("failed to create default configuration: %w", err)
		}
		m.cachedConfig = config
		m.log().Debug("Default configuration created", "path", m.configPath)
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file: %w", err)
	}
	if config.Profiles == nil {
		config.Profiles = make(map[string]Profile)
	}

	for name, profile := range config.Profiles {
		if profile.Password == "" {
			continue
		}
		plain, err := m.securityMgr.DecryptCredential(profile.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt password for profile %s: %w", name, err)
		}
		profile.Password = plain
		config.Profiles[name] = profile
	}

	m.cachedConfig = &config
	m.log().Debug("Configuration loaded", "path", m.configPath, "profiles", len(config.Profiles))
	return &config, nil
}

// saveConfig writes the configuration to disk with encrypted passwords.
func (m *Manager) saveConfig(config *Config) error {
	out := *config
	out.Profiles = make(map[string]Profile, len(config.Profiles))
	for name, profile := range config.Profiles {
		if profile.Password != "" {
			encrypted, err := m.securityMgr.EncryptCredential(profile.Password)
			if err != nil {
				return fmt.Errorf("failed to encrypt password for profile %s: %w", name, err)
			}
			profile.Password = encrypted
		}
		out.Profiles[name] = profile
	}

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Profiles: map[string]Profile{
			DefaultProfileName: {
				Host:  "http://127.0.0.1:8080",
				User:  "admin",
				Theme: "github",
			},
		},
		Themes: map[string]Theme{
			"github": {
				Success: "#28a745",
				Error:   "#dc3545",
				Warning: "#ffc107",
				Info:    "#17a2b8",
				Syntax:  "github",
			},
			"monokai": {
				Success: "#a6e22e",
				Error:   "#f92672",
				Warning: "#fd971f",
				Info:    "#66d9ef",
				Syntax:  "monokai",
			},
		},
	}
}

// LoadProfile retrieves a profile by name.
func (m *Manager) LoadProfile(name string) (*Profile, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	profile, exists := config.Profiles[name]
	if !exists {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	profile.Name = name
	if err := ValidateProfile(&profile); err != nil {
		return nil, fmt.Errorf("profile '%s' is invalid: %w", name, err)
	}
	return &profile, nil
}

// SaveProfile adds or replaces a profile.
func (m *Manager) SaveProfile(profile *Profile) error {
	if err := ValidateProfile(profile); err != nil {
		return fmt.Errorf("cannot save invalid profile: %w", err)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	next := cloneConfig(config)
	next.Profiles[profile.Name] = *profile
	if err := m.saveConfig(next); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	m.cachedConfig = next
	m.log().Debug("Profile saved", "profile", profile.Name, "host", profile.Host)
	return nil
}

// DeleteProfile removes a profile.
func (m *Manager) DeleteProfile(name string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, exists := config.Profiles[name]; !exists {
		return fmt.Errorf("profile '%s' does not exist", name)
	}
	next := cloneConfig(config)
	delete(next.Profiles, name)
	if err := m.saveConfig(next); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	m.cachedConfig = next
	m.log().Debug("Profile deleted", "profile", name)
	return nil
}

// ListProfiles returns all profile names, sorted.
func (m *Manager) ListProfiles() ([]string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	names := make([]string, 0, len(config.Profiles))
	for name := range config.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// LoadTheme retrieves theme configuration by name.
func (m *Manager) LoadTheme(name string) (*Theme, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config, err := m.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	theme, exists := config.Themes[name]
	if !exists {
		return nil, fmt.Errorf("theme '%s' not found", name)
	}
	theme.Name = name
	return &theme, nil
}

// GetConfigPath returns the path to the configuration file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// InvalidateCache forces a reload on next access.
func (m *Manager) InvalidateCache() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.cachedConfig = nil
}

// ValidateProfile ensures profile has all required fields.
func ValidateProfile(profile *Profile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(profile.Name) == "" {
		return fmt.Errorf("profile name cannot be empty")
	}
	if strings.ContainsAny(profile.Name, " \t\n\r") {
		return fmt.Errorf("profile name cannot contain whitespace")
	}
	if strings.TrimSpace(profile.Host) == "" {
		return fmt.Errorf("profile host cannot be empty")
	}
	if profile.RequestTimeout < 0 {
		return fmt.Errorf("request timeout cannot be negative")
	}
	return nil
}

func cloneConfig(c *Config) *Config {
	next := &Config{
		Profiles: make(map[string]Profile, len(c.Profiles)+1),
		Themes:   c.Themes,
	}
	for name, p := range c.Profiles {
		next.Profiles[name] = p
	}
	return next
}
