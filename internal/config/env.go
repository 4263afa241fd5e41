package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the console.
const EnvPrefix = "PLCWEB"

// Env holds settings taken from flags and PLCWEB_* environment variables.
type Env struct {
	ConfigPath string        `mapstructure:"config"`
	Profile    string        `mapstructure:"profile"`
	Host       string        `mapstructure:"host"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	Insecure   bool          `mapstructure:"insecure"`
	Timeout    time.Duration `mapstructure:"timeout"`
	LogLevel   string        `mapstructure:"log_level"`
	LogFormat  string        `mapstructure:"log_format"`
	LogFile    string        `mapstructure:"log_file"`
	Trace      bool          `mapstructure:"trace"`
}

// NewViper returns a viper instance with defaults and the PLCWEB_ environment
// bound. Command-line flags bound to it take precedence over the environment.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("config", "")
	v.SetDefault("profile", DefaultProfileName)
	v.SetDefault("host", "")
	v.SetDefault("user", "")
	v.SetDefault("password", "")
	v.SetDefault("insecure", false)
	v.SetDefault("timeout", "30s")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "stderr")
	v.SetDefault("trace", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadEnv decodes the settings held by v.
func LoadEnv(v *viper.Viper) (*Env, error) {
	var env Env
	if err := v.Unmarshal(&env); err != nil {
		return nil, fmt.Errorf("error unmarshaling env: %w", err)
	}
	return &env, nil
}

// ResolveProfile picks the profile to connect with. A host given through the
// environment or flags yields an ad-hoc profile; otherwise the named profile
// is loaded and the user, password, insecure and timeout overrides applied.
func ResolveProfile(m *Manager, env *Env) (*Profile, error) {
	var profile *Profile
	if env.Host != "" {
		profile = &Profile{Name: "env", Host: env.Host}
	} else {
		loaded, err := m.LoadProfile(env.Profile)
		if err != nil {
			return nil, err
		}
		profile = loaded
	}

	if env.User != "" {
		profile.User = env.User
	}
	if env.Password != "" {
		profile.Password = env.Password
	}
	if env.Insecure {
		profile.InsecureSkipVerify = true
	}
	if profile.RequestTimeout == 0 {
		profile.RequestTimeout = env.Timeout
	}
	return profile, ValidateProfile(profile)
}
