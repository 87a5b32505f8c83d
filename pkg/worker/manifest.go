package worker

import (
	_ "embed"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/foomo/storysync/pkg/cache"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var defaultManifest []byte

type (
	// Manifest describes one worker version.
	Manifest struct {
		Version string `yaml:"version"`
		// Origin is the application origin the worker fronts, e.g. http://localhost:8080
		Origin      string     `yaml:"origin"`
		APIOrigin   string     `yaml:"apiOrigin"`
		FontOrigins []string   `yaml:"fontOrigins"`
		Shell       []string   `yaml:"shell"`
		Timeouts    Timeouts   `yaml:"timeouts"`
		Partitions  Partitions `yaml:"partitions"`
		// Whitelist lists the partitions that survive activation. It must hold every partition above.
		Whitelist []string `yaml:"whitelist"`
	}
	Timeouts struct {
		API        time.Duration `yaml:"api"`
		Navigation time.Duration `yaml:"navigation"`
	}
	Partitions struct {
		Shell   PartitionConfig `yaml:"shell"`
		Content PartitionConfig `yaml:"content"`
		Images  PartitionConfig `yaml:"images"`
		Assets  PartitionConfig `yaml:"assets"`
	}
	PartitionConfig struct {
		Name         string `yaml:"name"`
		cache.Policy `yaml:",inline"`
	}
)

// DefaultManifest returns the built-in manifest of the story app.
func DefaultManifest() *Manifest {
	m, err := ParseManifest(defaultManifest)
	if err != nil {
		panic(err)
	}
	return m
}

// LoadManifest reads a manifest from a YAML file.
func LoadManifest(filename string) (*Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read manifest")
	}
	return ParseManifest(data)
}

func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "failed to parse manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) Validate() error {
	if m.Version == "" {
		return errors.New("manifest version is required")
	}
	for _, p := range []PartitionConfig{m.Partitions.Shell, m.Partitions.Content, m.Partitions.Images, m.Partitions.Assets} {
		if p.Name == "" {
			return errors.New("manifest partition names are required")
		}
		if !slices.Contains(m.Whitelist, p.Name) {
			return errors.Errorf("partition %q is not whitelisted and would be deleted on activation", p.Name)
		}
	}
	for _, path := range m.Shell {
		if !strings.HasPrefix(path, "/") {
			return errors.Errorf("shell resource %q must be an absolute path", path)
		}
	}
	return nil
}
