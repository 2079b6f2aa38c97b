package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sandbox holds everything the provisioner needs to create one container.
// It is built once by Load (or by hand in tests) and passed around by value;
// nothing in the lifecycle reads the environment after this point.
type Sandbox struct {
	// Image is the sandbox container image reference.
	Image string `mapstructure:"image"`
	// NamePrefix is combined with a random suffix to form the container name.
	NamePrefix string `mapstructure:"name_prefix"`
	// TTLMinutes is exported into the container as SERVICE_TIMEOUT_MINUTES;
	// the supervisor inside the sandbox self-terminates after this long.
	TTLMinutes int `mapstructure:"ttl_minutes"`
	// Network is the Docker network to attach, empty for the default bridge.
	Network string `mapstructure:"network"`
	// ChromeArgs is passed verbatim to the in-sandbox Chrome launcher.
	ChromeArgs string `mapstructure:"chrome_args"`

	// Proxy settings exported into the container when HTTPProxy or
	// HTTPSProxy is set.
	HTTPProxy  string `mapstructure:"http_proxy"`
	HTTPSProxy string `mapstructure:"https_proxy"`
	NoProxy    string `mapstructure:"no_proxy"`
}

// Config is the top-level configuration for the warren binary.
type Config struct {
	Sandbox Sandbox `mapstructure:"sandbox"`
	// DBPath is where lifecycle records are persisted; empty disables the store.
	DBPath string `mapstructure:"db_path"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from an optional warren.yaml plus WARREN_*
// environment variables (e.g. WARREN_SANDBOX_IMAGE overrides sandbox.image).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("warren")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.warren")

	v.SetEnvPrefix("WARREN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("sandbox.image", "warren-sandbox:latest")
	v.SetDefault("sandbox.name_prefix", "sandbox")
	v.SetDefault("sandbox.ttl_minutes", 30)
	v.SetDefault("sandbox.network", "")
	v.SetDefault("sandbox.chrome_args", "")
	v.SetDefault("db_path", "")
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file is fine; env vars and defaults carry it.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Sandbox.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the provisioner cannot act on.
func (s Sandbox) Validate() error {
	if s.Image == "" {
		return fmt.Errorf("sandbox.image must not be empty")
	}
	if s.NamePrefix == "" {
		return fmt.Errorf("sandbox.name_prefix must not be empty")
	}
	if s.TTLMinutes <= 0 {
		return fmt.Errorf("sandbox.ttl_minutes must be positive, got %d", s.TTLMinutes)
	}
	return nil
}

// Env renders the container environment derived from this configuration.
func (s Sandbox) Env() []string {
	env := []string{
		fmt.Sprintf("SERVICE_TIMEOUT_MINUTES=%d", s.TTLMinutes),
		"CHROME_ARGS=" + s.ChromeArgs,
	}
	if s.HTTPProxy != "" || s.HTTPSProxy != "" {
		noProxy := s.NoProxy
		if noProxy == "" {
			noProxy = "localhost"
		}
		env = append(env,
			"HTTP_PROXY="+s.HTTPProxy,
			"HTTPS_PROXY="+s.HTTPSProxy,
			"NO_PROXY="+noProxy,
		)
	}
	return env
}
