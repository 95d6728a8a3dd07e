// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config
// files, and defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	MQTT          MQTTConfig          `mapstructure:"mqtt"`
	AAS           AASConfig           `mapstructure:"aas"`
	Groot2        Groot2Config        `mapstructure:"groot2"`
	BehaviorTree  BehaviorTreeConfig  `mapstructure:"behavior_tree"`
	Registration  RegistrationConfig  `mapstructure:"registration"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// MQTTConfig holds MQTT broker connection configuration.
type MQTTConfig struct {
	BrokerURI string `mapstructure:"broker_uri"`
	ClientID  string `mapstructure:"client_id"`
	UNSTopic  string `mapstructure:"uns_topic"`
}

// AASConfig holds Asset Administration Shell endpoint configuration.
type AASConfig struct {
	ServerURL   string `mapstructure:"server_url"`
	RegistryURL string `mapstructure:"registry_url"`
}

// Groot2Config holds live-monitor websocket feed configuration.
type Groot2Config struct {
	Port int `mapstructure:"port"`
}

// BehaviorTreeConfig holds behavior-tree loading/generation configuration.
type BehaviorTreeConfig struct {
	GenerateXMLModels bool   `mapstructure:"generate_xml_models"`
	DescriptionPath   string `mapstructure:"description_path"`
	NodesPath         string `mapstructure:"nodes_path"`
}

// RegistrationConfig holds station-registration topic configuration.
type RegistrationConfig struct {
	ConfigPath   string `mapstructure:"config_path"`
	TopicPattern string `mapstructure:"topic_pattern"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// HTTPConfig holds the read-only status endpoint configuration.
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mqtt.broker_uri", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "bt-orchestrator")
	v.SetDefault("mqtt.uns_topic", "uns")

	v.SetDefault("aas.server_url", "http://localhost:8081")
	v.SetDefault("aas.registry_url", "http://localhost:8082")

	v.SetDefault("groot2.port", 1667)

	v.SetDefault("behavior_tree.generate_xml_models", false)
	v.SetDefault("behavior_tree.description_path", "./nodes.xml")
	v.SetDefault("behavior_tree.nodes_path", "")

	v.SetDefault("registration.config_path", "")
	v.SetDefault("registration.topic_pattern", "uns/{client_id}/DATA/State")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix BTORCH_ with underscore
// separators replacing dots.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations (current directory, /etc/btorchestrator/).
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("BTORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/btorchestrator/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that configuration fields hold sane values.
func validate(cfg *Config) error {
	var errs []string

	if cfg.MQTT.BrokerURI == "" {
		errs = append(errs, "mqtt.broker_uri is required")
	}
	if cfg.MQTT.ClientID == "" {
		errs = append(errs, "mqtt.client_id is required")
	}
	if cfg.AAS.ServerURL == "" {
		errs = append(errs, "aas.server_url is required")
	}
	if cfg.AAS.RegistryURL == "" {
		errs = append(errs, "aas.registry_url is required")
	}
	if cfg.Groot2.Port <= 0 || cfg.Groot2.Port > 65535 {
		errs = append(errs, "groot2.port must be between 1 and 65535")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// ResolvedTopicPattern substitutes {client_id} in the registration topic
// pattern with the configured MQTT client id.
func (c *Config) ResolvedTopicPattern() string {
	return strings.ReplaceAll(c.Registration.TopicPattern, "{client_id}", c.MQTT.ClientID)
}
