package target

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader reads target definitions from a directory of YAML files.
type Loader struct {
	targetsDir string
}

func NewLoader(targetsDir string) *Loader {
	return &Loader{targetsDir: targetsDir}
}

// LoadAll loads every *.yaml / *.yml file in the targets directory. A missing
// directory yields an empty list, not an error.
func (l *Loader) LoadAll() ([]Target, error) {
	if _, err := os.Stat(l.targetsDir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(l.targetsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(l.targetsDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	var targets []Target
	for _, file := range files {
		tgt, err := l.loadFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}

		if err := l.validate(tgt); err != nil {
			return nil, fmt.Errorf("invalid target %s: %w", file, err)
		}

		targets = append(targets, *tgt)
		slog.Debug("Loaded target configuration", "file", file, "account", tgt.Account)
	}

	return targets, nil
}

func (l *Loader) loadFile(path string) (*Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	tgt := Target{Enabled: true}
	if err := yaml.Unmarshal(data, &tgt); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &tgt, nil
}

func (l *Loader) validate(tgt *Target) error {
	if tgt.Account == "" {
		return fmt.Errorf("target account is required")
	}
	if tgt.Burner == "" {
		return fmt.Errorf("burner account is required")
	}
	if tgt.Proxy.Server == "" && (tgt.Proxy.Username != "" || tgt.Proxy.Password != "") {
		return fmt.Errorf("proxy credentials set without proxy server")
	}
	return nil
}
