package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/reconcilr-io/reconcilr/internal/statefile"
)

// StateConfig selects and configures the snapshot store.
type StateConfig struct {
	Backend   string `yaml:"backend"` // "local" (default) or "s3"
	Path      string `yaml:"path"`
	Bucket    string `yaml:"bucket"`
	Key       string `yaml:"key"`
	Region    string `yaml:"region"`
	LockTable string `yaml:"lockTable"`
	Profile   string `yaml:"profile"`
}

// Deployment is the parsed deployment file.
type Deployment struct {
	State     StateConfig `yaml:"state"`
	Resources []Desired   `yaml:"resources"`
}

// LoadFile parses a deployment file. Unknown fields are rejected so typos in
// resource stanzas fail loudly instead of silently dropping config.
func LoadFile(path string) (*Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment file: %w", err)
	}

	var dep Deployment
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&dep); err != nil {
		return nil, fmt.Errorf("failed to parse deployment file %s: %w", path, err)
	}

	for i, res := range dep.Resources {
		if res.Type == "" || res.Name == "" {
			return nil, fmt.Errorf("resource %d in %s is missing type or name", i, path)
		}
	}
	return &dep, nil
}

// OpenStore builds the snapshot store the deployment asks for.
func OpenStore(ctx context.Context, cfg StateConfig) (statefile.Store, error) {
	switch cfg.Backend {
	case "", "local":
		path := cfg.Path
		if path == "" {
			path = ".reconcilr/state.json"
		}
		return statefile.NewLocalStore(path), nil
	case "s3":
		return statefile.NewS3Store(ctx, statefile.S3Config{
			Bucket:    cfg.Bucket,
			Key:       cfg.Key,
			Region:    cfg.Region,
			LockTable: cfg.LockTable,
			Profile:   cfg.Profile,
		})
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
