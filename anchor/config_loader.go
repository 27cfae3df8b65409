package anchor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads the configuration from a YAML file. Omitted fields keep
// the values of the selected preset, environment overrides are applied, and
// the result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration bytes the same way LoadConfig does.
func ParseConfig(data []byte) (*Config, error) {
	var head struct {
		Preset string `yaml:"preset"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config, err := PresetConfig(head.Preset)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyEnv overrides MQTT settings from MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and MQTT_PUBLISH_PREFIX when they are set.
func (c *Config) ApplyEnv() {
	for env, dst := range map[string]*string{
		"MQTT_BROKER":         &c.MQTT.Broker,
		"MQTT_CLIENT_ID":      &c.MQTT.ClientID,
		"MQTT_USERNAME":       &c.MQTT.Username,
		"MQTT_PASSWORD":       &c.MQTT.Password,
		"MQTT_PUBLISH_PREFIX": &c.MQTT.PublishPrefix,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
