package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg CoordinatorConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
