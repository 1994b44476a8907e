package configuration

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"replikit/internal/static"
)

const (
	baseFile = "application"

	EnvConfigDir = "REPLIKIT_CONFIG_DIR"
	EnvWorkload  = "REPLIKIT_WORKLOAD"
	EnvLogLevel  = "REPLIKIT_LOG_LEVEL"
)

var envVarPattern = regexp.MustCompile(`\${([^}]+)}`)

// Load reads configuration from REPLIKIT_CONFIG_DIR when set, otherwise
// from the embedded defaults, then applies environment overrides and
// validates the result.
func Load() (*Properties, error) {
	var fsys fs.FS = static.FS
	if dir, ok := os.LookupEnv(EnvConfigDir); ok && dir != "" {
		fsys = os.DirFS(dir)
	}

	cfg, err := LoadFS(fsys)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFS reads application.yml and, when app.profile is set, overlays
// application-<profile>.yml on top.
func LoadFS(fsys fs.FS) (*Properties, error) {
	cfg := &Properties{}
	if err := loadInto(fsys, baseFile, cfg); err != nil {
		slog.Error("Error loading base config", "error", err)
		return nil, err
	}

	if cfg.App.Profile != "" {
		if err := loadInto(fsys, baseFile+"-"+cfg.App.Profile, cfg); err != nil {
			slog.Error("Error loading profile config", "profile", cfg.App.Profile, "error", err)
			return nil, err
		}
	}
	return cfg, nil
}

func loadInto(fsys fs.FS, name string, cfg *Properties) error {
	raw, err := LoadAndExpandYaml(fsys, name)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(raw), cfg); err != nil {
		return fmt.Errorf("parse %s.yml: %w", name, err)
	}
	return nil
}

func LoadAndExpandYaml(fsys fs.FS, filename string) (string, error) {
	file := filename + ".yml"
	raw, err := fs.ReadFile(fsys, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s not found", file)
		}
		return "", fmt.Errorf("read file: %w", err)
	}

	return ExpandEnvStrict(string(raw))
}

// ExpandEnvStrict substitutes ${VAR} references and fails on the first
// variable that is not set.
func ExpandEnvStrict(s string) (string, error) {
	for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
		name := m[1]
		if _, ok := os.LookupEnv(name); !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
	}

	return os.ExpandEnv(s), nil
}

// ApplyEnvOverrides lets the harness pick the workload and log level
// without editing files.
func ApplyEnvOverrides(cfg *Properties) {
	if v, ok := os.LookupEnv(EnvWorkload); ok && v != "" {
		cfg.App.Workload = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		cfg.App.LogLevel = v
	}
}
