package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/scoring"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type relevanceFunc func(ctx context.Context, text, query string) (float64, error)

func (f relevanceFunc) Relevance(ctx context.Context, text, query string) (float64, error) {
	return f(ctx, text, query)
}

type chatFunc func(ctx context.Context, prompt string) (string, error)

func (f chatFunc) Complete(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const testConfig = `
storage:
  type: memory
telemetry:
  traces: none
  metrics: none
logging:
  level: debug
`

func fakeModels() scoring.Models {
	return scoring.Models{
		Relevance: relevanceFunc(func(context.Context, string, string) (float64, error) { return 0.7, nil }),
		Chat:      chatFunc(func(context.Context, string) (string, error) { return "true", nil }),
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New()
	if err == nil {
		t.Fatal("expected error without config provider")
	}
	if err.Error() != "config provider required (use WithFileConfig or WithConfigProvider)" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_NilLogger(t *testing.T) {
	if _, err := New(WithLogger(nil, nil)); err == nil {
		t.Fatal("expected error for nil logger")
	}
}

func TestApp_StartScoreShutdown(t *testing.T) {
	level := new(slog.LevelVar)
	a, err := New(
		WithLogger(quiet, level),
		WithFileConfig(writeConfig(t, testConfig)),
		WithCoreOptions(WithModels(fakeModels())),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.Handler() != nil {
		t.Error("Handler() before Start should be nil")
	}

	ctx := context.Background()
	if err := a.Start(ctx, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}

	h := a.Handler()
	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	started := `{"type":"interaction.started","application":"billing","interface":"ClaimApi","method":"submit","correlation_id":"5f0c6a4e-8b1d-4c2e-9f3a-1b2c3d4e5f60","invoked_at":"2026-03-01T10:00:00Z","system_message":"be brief","user_message":"summarize"}`
	completed := `{"type":"interaction.completed","application":"billing","interface":"ClaimApi","method":"submit","correlation_id":"5f0c6a4e-8b1d-4c2e-9f3a-1b2c3d4e5f60","invoked_at":"2026-03-01T10:00:00Z","result":"approved"}`

	if rec := post(started); rec.Code != http.StatusAccepted {
		t.Fatalf("started status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec := post(completed)
	if rec.Code != http.StatusOK {
		t.Fatalf("completed status = %d, body %s", rec.Code, rec.Body.String())
	}
	var scored struct {
		Score *domain.Score `json:"score"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &scored); err != nil {
		t.Fatal(err)
	}
	if scored.Score == nil || scored.Score.Value != 0.7 {
		t.Errorf("score = %+v, want 0.7", scored.Score)
	}

	sources, err := a.Core().Interactions.ListSources(ctx)
	if err != nil {
		t.Fatalf("ListSources() error = %v", err)
	}
	if len(sources) != 1 || sources[0].Application != "billing" {
		t.Errorf("sources = %v", sources)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestApp_StartFailsOnInvalidConfig(t *testing.T) {
	a, err := New(
		WithLogger(quiet, nil),
		WithFileConfig(writeConfig(t, "storage:\n  type: cassandra\n")),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(context.Background(), false); err == nil {
		t.Fatal("Start() expected error for unknown storage type")
	}
}

func TestApp_ShutdownBackup(t *testing.T) {
	dir := t.TempDir()
	cfg := `
storage:
  type: sqlite
  sqlite:
    path: ` + filepath.Join(dir, "scorer.db") + `
telemetry:
  traces: none
  metrics: none
backup:
  on_shutdown: true
  sink: file
  dir: ` + filepath.Join(dir, "backups") + `
`
	a, err := New(
		WithLogger(quiet, nil),
		WithFileConfig(writeConfig(t, cfg)),
		WithCoreOptions(WithModels(fakeModels())),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := a.Start(ctx, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("read backups: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".snapshot") {
		t.Errorf("backups = %v, want one snapshot", entries)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: " warn ", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", want: slog.LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
