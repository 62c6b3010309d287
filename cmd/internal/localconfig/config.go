package localconfig

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/livefn/livefn/cmd/internal/envflags"
	"github.com/livefn/livefn/pkg/logger"
	"github.com/livefn/livefn/pkg/util/strduration"
	"github.com/mitchellh/go-homedir"
	"github.com/urfave/cli/v3"
)

const envPrefix = "LIVEFN_"

var configNames = []string{"livefn.json", "livefn.yaml", "livefn.yml"}

// Config represents the complete configuration structure for the livefn CLI
type Config struct {
	// App
	AppDir string `koanf:"app-dir"`
	Name   string `koanf:"name"`
	Stage  string `koanf:"stage"`
	Region string `koanf:"region"`
	Main   string `koanf:"main"`

	// Toolkit
	CDKCommand   string            `koanf:"cdk-command"`
	BuildCommand string            `koanf:"build-command"`
	Context      map[string]string `koanf:"context"`

	// Debug stack
	Endpoint   string `koanf:"endpoint"`
	BucketName string `koanf:"bucket-name"`
	DebugApp   string `koanf:"debug-app"`
	DebugDir   string `koanf:"debug-dir"`

	// Session
	Host       string               `koanf:"host"`
	Port       int                  `koanf:"port"`
	UDP        *bool                `koanf:"udp"`
	UDPAddr    string               `koanf:"udp-addr"`
	Console    *bool                `koanf:"console"`
	AutoDeploy *bool                `koanf:"auto-deploy"`
	SkipDeploy *bool                `koanf:"skip-deploy"`
	Debounce   strduration.Duration `koanf:"debounce"`
	LogFile    string               `koanf:"log-file"`
}

// Load reads configuration from multiple sources in priority order:
// 1. Config files (lowest priority)
// 2. Environment variables with LIVEFN_ prefix
// 3. CLI flags (resolved by the caller through envflags, highest priority)
func Load(ctx context.Context, cmd *cli.Command) (*Config, error) {
	l := logger.StdlibLogger(ctx)
	k := koanf.New(".")

	configPath := envflags.GetEnvOrFlag(cmd, "config", envPrefix+"CONFIG")
	if configPath != "" {
		path, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("error expanding config path %s: %w", configPath, err)
		}
		if err := loadConfigFromPath(k, path); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
		l.Info("using config", "file", path)
	} else if path, ok := findConfig(getConfigSearchPaths(l)); ok {
		if err := loadConfigFromPath(k, path); err != nil {
			l.Warn("error reading config file", "file", path, "error", err)
		} else {
			l.Info("using config", "file", path)
		}
	}

	if err := loadEnvironmentVariables(k); err != nil {
		return nil, fmt.Errorf("error loading environment variables: %w", err)
	}

	conf := &Config{}
	if err := k.Unmarshal("", conf); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return conf, nil
}

// findConfig returns the first config file found in dirs.
func findConfig(dirs []string) (string, bool) {
	for _, dir := range dirs {
		for _, name := range configNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, true
			}
		}
	}
	return "", false
}

// getConfigSearchPaths returns the current directory and its parents, then
// ~/.config/livefn.
func getConfigSearchPaths(l logger.Logger) []string {
	var paths []string

	if cwd, err := os.Getwd(); err != nil {
		l.Warn("error getting current directory", "error", err)
	} else {
		dir := cwd
		for {
			paths = append(paths, dir)
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if home, err := homedir.Dir(); err != nil {
		l.Warn("error getting home directory", "error", err)
	} else {
		paths = append(paths, filepath.Join(home, ".config", "livefn"))
	}

	return paths
}

func loadConfigFromPath(k *koanf.Koanf, path string) error {
	ext := filepath.Ext(path)

	var parser koanf.Parser
	switch ext {
	case ".json":
		parser = json.Parser()
	default:
		parser = yaml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		// files without an extension may still be JSON
		if ext == "" {
			if err := k.Load(file.Provider(path), json.Parser()); err != nil {
				return fmt.Errorf("config file must be JSON or YAML: %w", err)
			}
			return nil
		}
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

// loadEnvironmentVariables maps LIVEFN_AUTO_DEPLOY to auto-deploy and so on.
// LIVEFN_CONFIG only locates the file and is skipped.
func loadEnvironmentVariables(k *koanf.Koanf) error {
	return k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		configKey := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, envPrefix), "_", "-"))
		if configKey == "config" {
			return "", nil
		}
		if name, ok := strings.CutPrefix(configKey, "context-"); ok {
			return "context." + name, value
		}
		return configKey, value
	}), nil)
}
