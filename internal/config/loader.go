package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"gatewaycore/internal/logging"
	"gatewaycore/internal/types"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
	logger     types.Logger
	fileUsed   string
}

// NewLoader creates a new configuration loader. An empty path searches
// the standard locations for gatewaycore.yaml.
func NewLoader(configPath string, logger types.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{
		configPath: configPath,
		logger:     logger,
	}
}

func newViper() *viper.Viper {
	v := viper.New()

	// Enable environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Load reads the configuration file and environment. Every call starts
// from a fresh viper instance so keys removed from the file fall back to
// their defaults.
func (l *Loader) Load() (*types.GatewayConfig, error) {
	v := newViper()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("gatewaycore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gatewaycore/")
		v.AddConfigPath("$HOME/.gatewaycore")
	}

	// Read configuration
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		l.logger.Warn("no config file found, using defaults and environment")
	} else {
		l.fileUsed = v.ConfigFileUsed()
		l.logger.Info("loaded configuration", "file", l.fileUsed)
	}

	return decode(v)
}

// ConfigFileUsed returns the file read by the last successful Load
func (l *Loader) ConfigFileUsed() string {
	return l.fileUsed
}

// LoadFromBytes loads configuration from a byte slice in the given format
func LoadFromBytes(data []byte, format string) (*types.GatewayConfig, error) {
	v := newViper()
	v.SetConfigType(format)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*types.GatewayConfig, error) {
	var cfg types.GatewayConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Services) == 0 && len(cfg.Routes) == 0 {
		cfg.Services = DefaultServices()
		cfg.Routes = DefaultRoutes()
	}
	applyServiceEnv(v, &cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyServiceEnv replaces a service's URLs with a comma separated list
// from GATEWAY_SERVICE_URLS_<NAME> when it is set
func applyServiceEnv(v *viper.Viper, cfg *types.GatewayConfig) {
	for i := range cfg.Services {
		raw := v.GetString("service_urls." + strings.ToLower(cfg.Services[i].Name))
		if raw == "" {
			continue
		}
		var urls []string
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			cfg.Services[i].URLs = urls
		}
	}
}
