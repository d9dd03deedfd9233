// ABOUTME: Runtime configuration for the megatable server and CLI.
// ABOUTME: Layers defaults, an optional YAML file, a .env file, and MEGATABLE_* environment variables.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable setting.
type Config struct {
	DBPath   string `yaml:"db_path"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Dataset shape
	Total     int `yaml:"total"`
	Persisted int `yaml:"persisted"`
	PageSize  int `yaml:"page_size"`

	// Ingestion
	ChunkSize       int     `yaml:"chunk_size"`
	ChunksPerSecond float64 `yaml:"chunks_per_second"`
	WriteRetries    int     `yaml:"write_retries"`
	AINames         int     `yaml:"ai_names"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DBPath:       DefaultDBPath(),
		Port:         "9000",
		LogLevel:     "info",
		Total:        1_000_000,
		Persisted:    10_000,
		PageSize:     30,
		ChunkSize:    1_000,
		WriteRetries: 3,
	}
}

// Load builds the configuration. path names an optional YAML file; a missing
// file is not an error when path is empty. A .env file in the working
// directory is loaded into the environment first, without overriding
// variables already set.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring unreadable .env", "err", err)
	}

	if path == "" {
		path = os.Getenv("MEGATABLE_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("MEGATABLE_DB_PATH")); v != "" {
		c.DBPath = filepath.Clean(v)
	}
	if v := os.Getenv("MEGATABLE_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("MEGATABLE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MEGATABLE_TOTAL", &c.Total},
		{"MEGATABLE_PERSISTED", &c.Persisted},
		{"MEGATABLE_PAGE_SIZE", &c.PageSize},
		{"MEGATABLE_CHUNK_SIZE", &c.ChunkSize},
		{"MEGATABLE_WRITE_RETRIES", &c.WriteRetries},
		{"MEGATABLE_AI_NAMES", &c.AINames},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("MEGATABLE_CHUNKS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MEGATABLE_CHUNKS_PER_SECOND: %w", err)
		}
		c.ChunksPerSecond = f
	}
	return nil
}

// Validate rejects inconsistent settings.
func (c Config) Validate() error {
	switch {
	case c.Total < 1:
		return fmt.Errorf("total must be positive, got %d", c.Total)
	case c.Persisted < 0 || c.Persisted > c.Total:
		return fmt.Errorf("persisted must be in [0, total], got %d", c.Persisted)
	case c.PageSize < 1:
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	case c.ChunkSize < 1:
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	case c.ChunksPerSecond < 0:
		return fmt.Errorf("chunks_per_second must not be negative, got %v", c.ChunksPerSecond)
	case c.WriteRetries < 0:
		return fmt.Errorf("write_retries must not be negative, got %d", c.WriteRetries)
	case c.AINames < 0 || c.AINames > c.Persisted:
		return fmt.Errorf("ai_names must be in [0, persisted], got %d", c.AINames)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// DefaultDBPath returns the default database path following the XDG Base Directory layout.
// Priority: ./megatable.db if it exists > XDG_DATA_HOME/megatable/megatable.db
func DefaultDBPath() string {
	cwdPath := "./megatable.db"
	if _, err := os.Stat(cwdPath); err == nil {
		return cwdPath
	}

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil || homeDir == "" || homeDir == "/" {
			return cwdPath
		}
		// Windows: %LOCALAPPDATA%, elsewhere ~/.local/share
		if runtime.GOOS == "windows" {
			dataHome = os.Getenv("LOCALAPPDATA")
			if dataHome == "" {
				dataHome = filepath.Join(homeDir, "AppData", "Local")
			}
		} else {
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
	}

	return filepath.Join(dataHome, "megatable", "megatable.db")
}

// ValidateDBPath cleans a database path and rejects unusable ones.
func ValidateDBPath(path string) (string, error) {
	cleanPath := filepath.Clean(strings.TrimSpace(path))

	if cleanPath == "" || cleanPath == "." || cleanPath == "/" {
		return "", fmt.Errorf("database path cannot be empty, '.', or '/'")
	}
	if runtime.GOOS == "windows" && len(cleanPath) == 2 && cleanPath[1] == ':' {
		return "", fmt.Errorf("database path cannot be a bare drive letter")
	}
	if strings.Contains(cleanPath, "..") {
		return "", fmt.Errorf("database path cannot contain '..'")
	}
	return cleanPath, nil
}

// EnsureDir creates the parent directory of a database path.
func EnsureDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
