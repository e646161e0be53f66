package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Bluesky.PublicAPIURL == "" {
		t.Error("expected a default PublicAPIURL")
	}
	if config.Bluesky.ConstellationURL == "" {
		t.Error("expected a default ConstellationURL")
	}

	if config.Model.Scorer != "local" {
		t.Errorf("expected Scorer 'local', got '%s'", config.Model.Scorer)
	}

	if config.Scoring.OverlapFloor != 0.05 {
		t.Errorf("expected OverlapFloor 0.05, got %f", config.Scoring.OverlapFloor)
	}
	if config.Scoring.OverlapFloorCap != 25.0 {
		t.Errorf("expected OverlapFloorCap 25.0, got %f", config.Scoring.OverlapFloorCap)
	}
	if config.Scoring.PileOnThreshold != 5 {
		t.Errorf("expected PileOnThreshold 5, got %d", config.Scoring.PileOnThreshold)
	}

	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}

	if config.Concurrency.Workers < 1 {
		t.Error("expected Concurrency.Workers >= 1")
	}
	if config.Concurrency.Inference < 1 {
		t.Error("expected Concurrency.Inference >= 1")
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
bluesky:
  handle: alice.bsky.social
  public_api_url: https://example.invalid

scoring:
  overlap_floor: 0.10
  pile_on_threshold: 3
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Bluesky.Handle != "alice.bsky.social" {
		t.Errorf("expected Handle 'alice.bsky.social', got '%s'", config.Bluesky.Handle)
	}
	if config.Bluesky.PublicAPIURL != "https://example.invalid" {
		t.Errorf("expected overridden PublicAPIURL, got '%s'", config.Bluesky.PublicAPIURL)
	}
	if config.Scoring.OverlapFloor != 0.10 {
		t.Errorf("expected OverlapFloor 0.10, got %f", config.Scoring.OverlapFloor)
	}
	if config.Scoring.PileOnThreshold != 3 {
		t.Errorf("expected PileOnThreshold 3, got %d", config.Scoring.PileOnThreshold)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
model:
  scorer: perspective
  perspective_api_key: ${TEST_PERSPECTIVE_KEY}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	os.Setenv("TEST_PERSPECTIVE_KEY", "expanded-key-value")
	defer os.Unsetenv("TEST_PERSPECTIVE_KEY")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Model.PerspectiveAPIKey != "expanded-key-value" {
		t.Errorf("expected PerspectiveAPIKey 'expanded-key-value', got '%s'", config.Model.PerspectiveAPIKey)
	}
}

func TestEnvOverrides(t *testing.T) {
	for _, key := range []string{"BLUESKY_HANDLE", "CHARCOAL_SCORER", "CHARCOAL_OVERLAP_FLOOR", "CHARCOAL_PILE_ON_THRESHOLD"} {
		orig := os.Getenv(key)
		defer os.Setenv(key, orig)
	}

	os.Setenv("BLUESKY_HANDLE", "bob.bsky.social")
	os.Setenv("CHARCOAL_SCORER", "perspective")
	os.Setenv("CHARCOAL_OVERLAP_FLOOR", "0.2")
	os.Setenv("CHARCOAL_PILE_ON_THRESHOLD", "7")

	config := Default()
	applyEnvOverrides(config)

	if config.Bluesky.Handle != "bob.bsky.social" {
		t.Errorf("expected Handle 'bob.bsky.social', got '%s'", config.Bluesky.Handle)
	}
	if config.Model.Scorer != "perspective" {
		t.Errorf("expected Scorer 'perspective', got '%s'", config.Model.Scorer)
	}
	if config.Scoring.OverlapFloor != 0.2 {
		t.Errorf("expected OverlapFloor 0.2, got %f", config.Scoring.OverlapFloor)
	}
	if config.Scoring.PileOnThreshold != 7 {
		t.Errorf("expected PileOnThreshold 7, got %d", config.Scoring.PileOnThreshold)
	}
}

func TestValidate_Valid(t *testing.T) {
	config := Default()
	config.Bluesky.Handle = "alice.bsky.social"
	if err := config.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestValidate_MissingHandle(t *testing.T) {
	config := Default()
	if err := config.Validate(); err == nil {
		t.Error("expected validation error for missing handle")
	}
}

func TestValidate_InvalidOverlapFloor(t *testing.T) {
	tests := []struct {
		name  string
		floor float64
	}{
		{"negative", -0.1},
		{"greater than 1", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			config.Bluesky.Handle = "alice.bsky.social"
			config.Scoring.OverlapFloor = tt.floor
			if err := config.Validate(); err == nil {
				t.Error("expected validation error for invalid overlap floor")
			}
		})
	}
}

func TestValidate_InvalidScorer(t *testing.T) {
	config := Default()
	config.Bluesky.Handle = "alice.bsky.social"
	config.Model.Scorer = "invalid-scorer"
	if err := config.Validate(); err == nil {
		t.Error("expected validation error for invalid scorer")
	}
}

func TestValidate_PerspectiveRequiresAPIKey(t *testing.T) {
	config := Default()
	config.Bluesky.Handle = "alice.bsky.social"
	config.Model.Scorer = "perspective"
	if err := config.Validate(); err == nil {
		t.Error("expected validation error for perspective scorer without an API key")
	}
}

func TestValidate_ValidScorers(t *testing.T) {
	config := Default()
	config.Bluesky.Handle = "alice.bsky.social"
	config.Model.Scorer = "perspective"
	config.Model.PerspectiveAPIKey = "test-key"
	if err := config.Validate(); err != nil {
		t.Errorf("expected perspective scorer with key to be valid, got error: %v", err)
	}
}

func TestRedactedPerspectiveAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", ""},
		{"short", "abc", "(set)"},
		{"exactly 11 chars", "abcdefghijk", "(set)"},
		{"exactly 12 chars", "abcdefghijkl", "abcd...ijkl"},
		{"normal", "AIzaSyAbcdefghijklmnopqrstuvw", "AIza...tuvw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ModelConfig{PerspectiveAPIKey: tt.key}
			got := cfg.RedactedPerspectiveAPIKey()
			if got != tt.want {
				t.Errorf("RedactedPerspectiveAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModelConfigString(t *testing.T) {
	cfg := ModelConfig{
		Dir:               "/models",
		Scorer:            "perspective",
		PerspectiveAPIKey: "AIzaSyAbcdefghijklmnopqrstuvw",
	}

	s := cfg.String()

	if strings.Contains(s, cfg.PerspectiveAPIKey) {
		t.Errorf("String() must not contain full API key, got: %s", s)
	}
	if !strings.Contains(s, cfg.RedactedPerspectiveAPIKey()) {
		t.Errorf("String() should contain redacted key %q, got: %s", cfg.RedactedPerspectiveAPIKey(), s)
	}
	if !strings.Contains(s, "perspective") {
		t.Errorf("String() should contain scorer, got: %s", s)
	}
}

func TestEnvOverrides_LogLevel(t *testing.T) {
	origLogLevel := os.Getenv("CHARCOAL_LOG_LEVEL")
	defer os.Setenv("CHARCOAL_LOG_LEVEL", origLogLevel)

	os.Setenv("CHARCOAL_LOG_LEVEL", "debug")

	config := Default()
	applyEnvOverrides(config)

	if config.Logging.Level != "debug" {
		t.Errorf("expected Logging.Level 'debug', got '%s'", config.Logging.Level)
	}
}

func TestLoadFromFile_LoggingConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: trace
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Logging.Level != "trace" {
		t.Errorf("expected Logging.Level 'trace', got '%s'", config.Logging.Level)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	config := Default()
	config.Bluesky.Handle = "alice.bsky.social"
	config.Logging.Level = "verbose"
	if err := config.Validate(); err == nil {
		t.Error("expected validation error for invalid log level")
	}
}

func TestValidate_ValidLogLevels(t *testing.T) {
	validLevels := []string{"", "info", "debug", "trace"}

	for _, level := range validLevels {
		t.Run(level, func(t *testing.T) {
			config := Default()
			config.Bluesky.Handle = "alice.bsky.social"
			config.Logging.Level = level
			if err := config.Validate(); err != nil {
				t.Errorf("expected log level '%s' to be valid, got error: %v", level, err)
			}
		})
	}
}

func TestLoadFromFile_NotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidYAML := `
bluesky:
  handle: [invalid yaml
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := LoadFromFile(configPath)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}
