// Package config provides unified configuration loading for charcoal.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nvandessel/charcoal/internal/constants"
	"gopkg.in/yaml.v3"
)

// CharcoalConfig contains all charcoal configuration settings.
type CharcoalConfig struct {
	// Bluesky contains credentials and endpoints for AT Protocol access.
	Bluesky BlueskyConfig `json:"bluesky" yaml:"bluesky"`

	// Database contains settings for the storage backend.
	Database DatabaseConfig `json:"database" yaml:"database"`

	// Model contains settings for the local embedding/toxicity model.
	Model ModelConfig `json:"model" yaml:"model"`

	// Scoring contains the tunable thresholds behind threat scoring.
	Scoring ScoringConfig `json:"scoring" yaml:"scoring"`

	// Logging contains settings for operational and decision logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Concurrency contains settings for worker-pool and inference bounds.
	Concurrency ConcurrencyConfig `json:"concurrency" yaml:"concurrency"`

	// Backup contains settings for backup operations.
	Backup BackupConfig `json:"backup" yaml:"backup"`
}

// BlueskyConfig configures the AT Protocol client.
type BlueskyConfig struct {
	// Handle is the protected account's handle, e.g. "alice.bsky.social".
	Handle string `json:"handle" yaml:"handle"`

	// PublicAPIURL is the base URL for the public AppView API.
	PublicAPIURL string `json:"public_api_url" yaml:"public_api_url"`

	// ConstellationURL is the base URL for the backlink index service used
	// to discover quote-posts and replies without crawling the firehose.
	ConstellationURL string `json:"constellation_url" yaml:"constellation_url"`
}

// DatabaseConfig configures the storage backend.
type DatabaseConfig struct {
	// URL selects the backend by scheme: "sqlite://path" for the embedded
	// backend, "postgres://..." for the networked backend. Takes priority
	// over Path when both are set.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Path is the embedded database file location, used when URL is empty.
	Path string `json:"path" yaml:"path"`
}

// ModelConfig configures the local embedding and toxicity model.
type ModelConfig struct {
	// Dir is the directory containing the bundled GGUF embedding model and
	// the toxicity linear-probe weights file.
	Dir string `json:"dir" yaml:"dir"`

	// LibPath is the directory containing yzma shared libraries (.so/.dylib).
	// Falls back to the YZMA_LIB environment variable at runtime.
	LibPath string `json:"lib_path,omitempty" yaml:"lib_path,omitempty"`

	// GPULayers is the number of model layers to offload to GPU (0 = CPU only).
	GPULayers int32 `json:"gpu_layers,omitempty" yaml:"gpu_layers,omitempty"`

	// Scorer selects the toxicity backend: "local" (default, linear probe
	// over the local embedding) or "perspective" (external HTTP API).
	Scorer string `json:"scorer" yaml:"scorer"`

	// PerspectiveAPIKey is required when Scorer is "perspective".
	PerspectiveAPIKey string `json:"perspective_api_key,omitempty" yaml:"perspective_api_key,omitempty"`
}

// ScoringConfig configures the tunables behind threat score composition.
type ScoringConfig struct {
	// OverlapFloor is the topic-overlap value below which the raw score is capped.
	OverlapFloor float64 `json:"overlap_floor" yaml:"overlap_floor"`

	// OverlapFloorCap is the raw-score ceiling applied below OverlapFloor.
	OverlapFloorCap float64 `json:"overlap_floor_cap" yaml:"overlap_floor_cap"`

	// PileOnThreshold is the number of distinct amplifiers within the
	// sliding window that flags a pile-on.
	PileOnThreshold int `json:"pile_on_threshold" yaml:"pile_on_threshold"`

	// BenignQuoteMax and BenignReplyMax bound the benign gate's ratios.
	BenignQuoteMax float64 `json:"benign_quote_max" yaml:"benign_quote_max"`
	BenignReplyMax float64 `json:"benign_reply_max" yaml:"benign_reply_max"`
}

// ConcurrencyConfig configures worker-pool and inference concurrency bounds.
type ConcurrencyConfig struct {
	// Workers bounds concurrent profile-build tasks during a scan or sweep.
	Workers int `json:"workers" yaml:"workers"`

	// Inference bounds concurrent local-model inference calls.
	Inference int `json:"inference" yaml:"inference"`
}

// LoggingConfig configures charcoal's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables decision logging to .charcoal/decisions.jsonl.
	// "trace" additionally includes full scoring component breakdowns.
	Level string `json:"level" yaml:"level"`
}

// BackupConfig configures backup behavior.
type BackupConfig struct {
	// AutoBackup enables automatic backups after each scan or sweep.
	AutoBackup bool `json:"auto_backup" yaml:"auto_backup"`

	// Retention configures backup retention policies.
	Retention RetentionConfig `json:"retention" yaml:"retention"`
}

// RetentionConfig configures backup retention policies.
type RetentionConfig struct {
	// MaxCount is the maximum number of backups to keep (0 = unlimited).
	MaxCount int `json:"max_count" yaml:"max_count"`

	// MaxAge is the maximum age of backups (e.g., "30d", "2w", "720h"). Empty = disabled.
	MaxAge string `json:"max_age" yaml:"max_age"`

	// MaxTotalSize is the maximum total size of backups (e.g., "100MB", "1GB"). Empty = disabled.
	MaxTotalSize string `json:"max_total_size" yaml:"max_total_size"`
}

// RedactedPerspectiveAPIKey returns the Perspective API key with most
// characters masked, for safe logging.
func (c ModelConfig) RedactedPerspectiveAPIKey() string {
	if c.PerspectiveAPIKey == "" {
		return ""
	}
	if len(c.PerspectiveAPIKey) < 12 {
		return "(set)"
	}
	return c.PerspectiveAPIKey[:4] + "..." + c.PerspectiveAPIKey[len(c.PerspectiveAPIKey)-4:]
}

// String implements fmt.Stringer to prevent accidental API key logging.
func (c ModelConfig) String() string {
	return fmt.Sprintf("ModelConfig{Dir:%s, Scorer:%s, PerspectiveAPIKey:%s}",
		c.Dir, c.Scorer, c.RedactedPerspectiveAPIKey())
}

// Default returns a CharcoalConfig with sensible defaults.
func Default() *CharcoalConfig {
	return &CharcoalConfig{
		Bluesky: BlueskyConfig{
			PublicAPIURL:     "https://public.api.bsky.app",
			ConstellationURL: "https://constellation.microcosm.blue",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(defaultHomeDir(), ".charcoal", "charcoal.db"),
		},
		Model: ModelConfig{
			Dir:    filepath.Join(defaultHomeDir(), ".charcoal", "models"),
			Scorer: "local",
		},
		Scoring: ScoringConfig{
			OverlapFloor:    constants.DefaultOverlapFloor,
			OverlapFloorCap: constants.DefaultOverlapFloorCap,
			PileOnThreshold: constants.DefaultPileOnThreshold,
			BenignQuoteMax:  constants.DefaultBenignQuoteMax,
			BenignReplyMax:  constants.DefaultBenignReplyMax,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Concurrency: ConcurrencyConfig{
			Workers:   constants.DefaultFollowerConcurrency,
			Inference: constants.DefaultInferenceConcurrency,
		},
		Backup: BackupConfig{
			AutoBackup: true,
			Retention: RetentionConfig{
				MaxCount: 10,
			},
		},
	}
}

func defaultHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.charcoal/config.yaml -> environment variables
func Load() (*CharcoalConfig, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".charcoal", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*CharcoalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Model.PerspectiveAPIKey = expandEnvVars(config.Model.PerspectiveAPIKey)

	return config, nil
}

// normalizeScorer maps the documented CHARCOAL_SCORER=onnx value onto the
// internal "local" backend name, so the spec's documented interface (onnx
// or perspective) never fatal-errors even though the config package itself
// calls the local backend "local".
func normalizeScorer(v string) string {
	if v == "onnx" {
		return "local"
	}
	return v
}

// Validate checks that the configuration is valid.
func (c *CharcoalConfig) Validate() error {
	if c.Bluesky.Handle == "" {
		return fmt.Errorf("bluesky.handle is required")
	}

	c.Model.Scorer = normalizeScorer(c.Model.Scorer)
	validScorers := map[string]bool{"local": true, "perspective": true}
	if !validScorers[c.Model.Scorer] {
		return fmt.Errorf("invalid scorer: %s (valid: onnx, perspective)", c.Model.Scorer)
	}
	if c.Model.Scorer == "perspective" && c.Model.PerspectiveAPIKey == "" {
		return fmt.Errorf("model.perspective_api_key is required when scorer is perspective")
	}

	if c.Scoring.OverlapFloor < 0 || c.Scoring.OverlapFloor > 1 {
		return fmt.Errorf("scoring.overlap_floor must be between 0 and 1, got %f", c.Scoring.OverlapFloor)
	}
	if c.Scoring.OverlapFloorCap < 0 {
		return fmt.Errorf("scoring.overlap_floor_cap must be non-negative, got %f", c.Scoring.OverlapFloorCap)
	}
	if c.Scoring.PileOnThreshold < 1 {
		return fmt.Errorf("scoring.pile_on_threshold must be >= 1, got %d", c.Scoring.PileOnThreshold)
	}
	if c.Scoring.BenignQuoteMax < 0 || c.Scoring.BenignQuoteMax > 1 {
		return fmt.Errorf("scoring.benign_quote_max must be between 0 and 1, got %f", c.Scoring.BenignQuoteMax)
	}
	if c.Scoring.BenignReplyMax < 0 || c.Scoring.BenignReplyMax > 1 {
		return fmt.Errorf("scoring.benign_reply_max must be between 0 and 1, got %f", c.Scoring.BenignReplyMax)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if c.Concurrency.Workers < 1 {
		return fmt.Errorf("concurrency.workers must be >= 1, got %d", c.Concurrency.Workers)
	}
	if c.Concurrency.Inference < 1 {
		return fmt.Errorf("concurrency.inference must be >= 1, got %d", c.Concurrency.Inference)
	}

	if c.Backup.Retention.MaxCount < 0 {
		return fmt.Errorf("backup.retention.max_count must be >= 0, got %d", c.Backup.Retention.MaxCount)
	}
	if c.Backup.Retention.MaxAge != "" {
		if _, err := parseDurationSimple(c.Backup.Retention.MaxAge); err != nil {
			return fmt.Errorf("backup.retention.max_age: %w", err)
		}
	}
	if c.Backup.Retention.MaxTotalSize != "" {
		if _, err := parseSizeSimple(c.Backup.Retention.MaxTotalSize); err != nil {
			return fmt.Errorf("backup.retention.max_total_size: %w", err)
		}
	}

	return nil
}

// parseDurationSimple validates duration strings like "30d", "2w", "720h".
func parseDurationSimple(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}

// parseSizeSimple validates size strings like "100MB", "1GB".
func parseSizeSimple(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}
	s = strings.TrimSpace(s)
	type sizeSuffix struct {
		suffix     string
		multiplier int64
	}
	for _, ss := range []sizeSuffix{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	} {
		if strings.HasSuffix(s, ss.suffix) {
			num, err := strconv.ParseInt(strings.TrimSuffix(s, ss.suffix), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size: %q", s)
			}
			return num * ss.multiplier, nil
		}
	}
	return 0, fmt.Errorf("invalid size: %q (expected suffix: B, KB, MB, GB)", s)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *CharcoalConfig) {
	if v := os.Getenv("BLUESKY_HANDLE"); v != "" {
		config.Bluesky.Handle = v
	}
	if v := os.Getenv("PUBLIC_API_URL"); v != "" {
		config.Bluesky.PublicAPIURL = v
	}
	if v := os.Getenv("CONSTELLATION_URL"); v != "" {
		config.Bluesky.ConstellationURL = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Database.URL = v
	}
	if v := os.Getenv("CHARCOAL_DB_PATH"); v != "" {
		config.Database.Path = v
	}

	if v := os.Getenv("CHARCOAL_MODEL_DIR"); v != "" {
		config.Model.Dir = v
	}
	if v := os.Getenv("YZMA_LIB"); v != "" {
		config.Model.LibPath = v
	}
	if v := os.Getenv("CHARCOAL_SCORER"); v != "" {
		config.Model.Scorer = normalizeScorer(v)
	}
	if v := os.Getenv("PERSPECTIVE_API_KEY"); v != "" {
		config.Model.PerspectiveAPIKey = v
	}

	if v := os.Getenv("CHARCOAL_OVERLAP_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Scoring.OverlapFloor = f
		}
	}
	if v := os.Getenv("CHARCOAL_OVERLAP_FLOOR_CAP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Scoring.OverlapFloorCap = f
		}
	}
	if v := os.Getenv("CHARCOAL_PILE_ON_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Scoring.PileOnThreshold = n
		}
	}
	if v := os.Getenv("CHARCOAL_BENIGN_QUOTE_MAX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Scoring.BenignQuoteMax = f
		}
	}
	if v := os.Getenv("CHARCOAL_BENIGN_REPLY_MAX"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Scoring.BenignReplyMax = f
		}
	}

	if v := os.Getenv("CHARCOAL_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("CHARCOAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Concurrency.Workers = n
		}
	}
	if v := os.Getenv("CHARCOAL_INFERENCE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Concurrency.Inference = n
		}
	}

	if v := os.Getenv("CHARCOAL_BACKUP_AUTO"); v != "" {
		config.Backup.AutoBackup = v == "true" || v == "1"
	}
	if v := os.Getenv("CHARCOAL_BACKUP_MAX_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Backup.Retention.MaxCount = n
		}
	}
	if v := os.Getenv("CHARCOAL_BACKUP_MAX_AGE"); v != "" {
		config.Backup.Retention.MaxAge = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
