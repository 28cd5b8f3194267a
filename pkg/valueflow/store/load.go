package store

import (
	"encoding/json"
	"fmt"

	"github.com/django-rea/nrp-sub003/pkg/valueflow/config"
)

// LoadGraphFile reads a Graph from a .json, .yaml or .yml file. Keys follow
// the JSON field names; dates are RFC 3339 strings.
func LoadGraphFile(path string) (Graph, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return Graph{}, err
	}
	return graphFromConfig(cfg)
}

// LoadGraphYAML parses a Graph from YAML.
func LoadGraphYAML(data []byte) (Graph, error) {
	cfg, err := config.FromYAML(data)
	if err != nil {
		return Graph{}, err
	}
	return graphFromConfig(cfg)
}

func graphFromConfig(cfg config.Config) (Graph, error) {
	data, err := json.Marshal(cfg.Raw())
	if err != nil {
		return Graph{}, fmt.Errorf("encode graph: %w", err)
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return Graph{}, fmt.Errorf("decode graph: %w", err)
	}
	return g, nil
}
