package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Storage.Type != "sqlite" {
			t.Errorf("storage.type = %q, want sqlite", cfg.Storage.Type)
		}
		if cfg.Scoring.Mode != "NORMAL" || cfg.Scoring.Strategy != "AI_JUDGE" {
			t.Errorf("scoring = %s/%s, want NORMAL/AI_JUDGE", cfg.Scoring.Mode, cfg.Scoring.Strategy)
		}
		if cfg.Scoring.Similarity.Threshold != 75 {
			t.Errorf("threshold = %v, want 75", cfg.Scoring.Similarity.Threshold)
		}
		if cfg.Scoring.PassThreshold != 75 {
			t.Errorf("pass_threshold = %v, want 75", cfg.Scoring.PassThreshold)
		}
		if cfg.Models.MaxAttempts != 3 || cfg.Models.RetryBackoff != "500ms" {
			t.Errorf("retry = %d/%q, want 3/500ms", cfg.Models.MaxAttempts, cfg.Models.RetryBackoff)
		}
	})

	t.Run("env var port override", func(t *testing.T) {
		t.Setenv("SCORER_SERVER__PORT", "9000")

		cfg, err := LoadFile("")
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Server.Port != 9000 {
			t.Errorf("port = %v, want 9000", cfg.Server.Port)
		}
	})

	t.Run("yaml file with substitution", func(t *testing.T) {
		t.Setenv("TEST_JUDGE_KEY", "sk-test")
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
storage:
  type: memory
scoring:
  mode: RESCORE
  strategy: SEMANTIC_SIMILARITY
  similarity:
    threshold: 80
models:
  judge:
    api_key: ${TEST_JUDGE_KEY}
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Storage.Type != "memory" {
			t.Errorf("storage.type = %q, want memory", cfg.Storage.Type)
		}
		if cfg.Scoring.Mode != "RESCORE" || cfg.Scoring.Strategy != "SEMANTIC_SIMILARITY" {
			t.Errorf("scoring = %s/%s", cfg.Scoring.Mode, cfg.Scoring.Strategy)
		}
		if cfg.Scoring.Similarity.Threshold != 80 {
			t.Errorf("threshold = %v, want 80", cfg.Scoring.Similarity.Threshold)
		}
		if cfg.Models.Judge.APIKey != "sk-test" {
			t.Errorf("judge api key = %q, want sk-test", cfg.Models.Judge.APIKey)
		}
		if cfg.Models.Judge.Model != "gpt-4o-mini" {
			t.Errorf("judge model default lost: %q", cfg.Models.Judge.Model)
		}
	})

	t.Run("invalid mode", func(t *testing.T) {
		t.Setenv("SCORER_SCORING__MODE", "SOMETIMES")

		if _, err := LoadFile(""); err == nil {
			t.Fatal("LoadFile() expected error for unknown mode")
		}
	})

	t.Run("zero thresholds are kept", func(t *testing.T) {
		t.Setenv("SCORER_SCORING__SIMILARITY__THRESHOLD", "0")
		t.Setenv("SCORER_SCORING__PASS_THRESHOLD", "0")

		cfg, err := LoadFile("")
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		if cfg.Scoring.Similarity.Threshold != 0 || cfg.Scoring.PassThreshold != 0 {
			t.Errorf("thresholds = %v/%v, want 0/0", cfg.Scoring.Similarity.Threshold, cfg.Scoring.PassThreshold)
		}
	})

	t.Run("pass threshold out of range", func(t *testing.T) {
		t.Setenv("SCORER_SCORING__PASS_THRESHOLD", "101")

		if _, err := LoadFile(""); err == nil {
			t.Fatal("LoadFile() expected error for pass_threshold above 100")
		}
	})

	t.Run("invalid storage", func(t *testing.T) {
		t.Setenv("SCORER_STORAGE__TYPE", "cassandra")

		if _, err := LoadFile(""); err == nil {
			t.Fatal("LoadFile() expected error for unknown storage type")
		}
	})
}

func TestDuration(t *testing.T) {
	if got := Duration("2s", time.Minute); got != 2*time.Second {
		t.Errorf("Duration(2s) = %v", got)
	}
	if got := Duration("", time.Minute); got != time.Minute {
		t.Errorf("Duration(\"\") = %v, want default", got)
	}
	if got := Duration("nope", time.Minute); got != time.Minute {
		t.Errorf("Duration(nope) = %v, want default", got)
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple substitution", input: "${TEST_VAR}", want: "test-value"},
		{name: "substitution in string", input: "prefix-${TEST_VAR}-suffix", want: "prefix-test-value-suffix"},
		{name: "no substitution", input: "plain-string", want: "plain-string"},
		{name: "undefined var", input: "${UNDEFINED_VAR}", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substituteEnvVars(tt.input); got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
