package config

import "fmt"

// Loader rebuilds a Config from a fixed base. Base holds the defaults with
// command-line flags already applied; Changed names the flags the user set.
type Loader struct {
	Path    string
	Base    Config
	Changed map[string]bool
}

// Load applies the file (if Path is set and exists) and the environment on
// top of Base, then validates the result.
func (l Loader) Load() (Config, error) {
	cfg := l.Base
	if l.Path != "" && FileExists(l.Path) {
		fc, err := LoadFile(l.Path)
		if err != nil {
			return cfg, fmt.Errorf("config: load %s: %w", l.Path, err)
		}
		if err := ApplyFile(&cfg, fc, l.Changed); err != nil {
			return cfg, fmt.Errorf("config: apply %s: %w", l.Path, err)
		}
	}
	if err := ApplyEnv(&cfg, l.Changed); err != nil {
		return cfg, fmt.Errorf("config: apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
