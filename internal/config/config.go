// Package config loads the gateway's YAML configuration file via viper,
// with environment variable overrides under the GUACGATEWAY_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level gateway configuration.
type Config struct {
	Listen struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"listen"`

	Guacd struct {
		Host           string        `mapstructure:"host"`
		Port           int           `mapstructure:"port"`
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	} `mapstructure:"guacd"`

	Token struct {
		// KeyHex is the 32-byte AES-256 key, hex-encoded.
		KeyHex string `mapstructure:"key_hex"`
		Cipher string `mapstructure:"cipher"`
	} `mapstructure:"token"`

	Session struct {
		HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
		InactivityTimeout time.Duration `mapstructure:"inactivity_timeout"`
		RecordingDir      string        `mapstructure:"recording_dir"`
	} `mapstructure:"session"`

	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// Load reads path as YAML, applies environment overrides prefixed
// GUACGATEWAY_ (e.g. GUACGATEWAY_GUACD_HOST), and unmarshals into a Config
// seeded with defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("GUACGATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen.addr", ":8080")
	v.SetDefault("guacd.host", "127.0.0.1")
	v.SetDefault("guacd.port", 4822)
	v.SetDefault("guacd.connect_timeout", 10*time.Second)
	v.SetDefault("token.cipher", "aes-256-cbc")
	v.SetDefault("session.handshake_timeout", 10*time.Second)
	v.SetDefault("session.inactivity_timeout", 5*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("metrics.addr", ":9090")
}

func (c *Config) validate() error {
	if c.Token.KeyHex == "" {
		return fmt.Errorf("config: token.key_hex is required")
	}
	if c.Guacd.Host == "" {
		return fmt.Errorf("config: guacd.host is required")
	}
	return nil
}
