// Package config loads and validates the service configuration from a YAML
// file. Configuration is read once at startup; a bad config is fatal before
// any broker connection is attempted.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults for the optional identity fields, matching the values the wider
// mission system expects when a site does not override them.
const (
	DefaultSystemUUID        = "00000000-0000-0000-0000-000000000000"
	DefaultSystemDescription = "SAR ATR Service"
	DefaultServiceVersion    = "1.0.0"
)

// Topics names the broker destinations the service uses. All have
// UCI-standard defaults and exist mainly so test rigs can isolate runs.
type Topics struct {
	FileLocation     string `yaml:"file_location"`
	Entity           string `yaml:"entity"`
	ProcessingResult string `yaml:"processing_result"`
	ProductMetadata  string `yaml:"product_metadata"`
	ProductLocation  string `yaml:"product_location"`
}

// Config holds the service configuration.
type Config struct {
	BrokerAddress       string
	ConfidenceThreshold float64
	SystemUUID          string
	SystemDescription   string
	ServiceVersion      string

	// StatusListenAddress enables the HTTP status endpoint when non-empty.
	StatusListenAddress string

	Topics Topics
}

// fileConfig is the YAML-facing shape. confidence_threshold uses a pointer
// so a missing field can be told apart from an explicit 0.0.
type fileConfig struct {
	BrokerAddress       string   `yaml:"broker_address"`
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
	SystemUUID          string   `yaml:"system_uuid"`
	SystemDescription   string   `yaml:"system_description"`
	ServiceVersion      string   `yaml:"service_version"`
	StatusListenAddress string   `yaml:"status_listen_address"`
	Topics              Topics   `yaml:"topics"`
}

func (fc *fileConfig) validate() error {
	if fc.BrokerAddress == "" {
		return fmt.Errorf("missing required field: broker_address")
	}
	if fc.ConfidenceThreshold == nil {
		return fmt.Errorf("missing required field: confidence_threshold")
	}
	if *fc.ConfidenceThreshold < 0 || *fc.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be between 0.0 and 1.0, got %v",
			*fc.ConfidenceThreshold)
	}
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Load reads, unmarshals and validates the configuration at path.
func Load(path string) (*Config, error) {
	slog.Info("Loading configuration", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml from %s: %w", path, err)
	}

	if err := fc.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg := &Config{
		BrokerAddress:       fc.BrokerAddress,
		ConfidenceThreshold: *fc.ConfidenceThreshold,
		SystemUUID:          orDefault(fc.SystemUUID, DefaultSystemUUID),
		SystemDescription:   orDefault(fc.SystemDescription, DefaultSystemDescription),
		ServiceVersion:      orDefault(fc.ServiceVersion, DefaultServiceVersion),
		StatusListenAddress: fc.StatusListenAddress,
		Topics: Topics{
			FileLocation:     orDefault(fc.Topics.FileLocation, "FileLocation_uci"),
			Entity:           orDefault(fc.Topics.Entity, "Entity_uci"),
			ProcessingResult: orDefault(fc.Topics.ProcessingResult, "AtrProcessingResult_uci"),
			ProductMetadata:  orDefault(fc.Topics.ProductMetadata, "ProductMetadata_uci"),
			ProductLocation:  orDefault(fc.Topics.ProductLocation, "ProductLocation_uci"),
		},
	}

	slog.Info("Configuration loaded",
		"broker", cfg.BrokerAddress,
		"confidence_threshold", cfg.ConfidenceThreshold,
		"system_uuid", cfg.SystemUUID)
	return cfg, nil
}
