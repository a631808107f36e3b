package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/pagepipe"
)

// chdir moves into an empty directory so no stray pagepipe.toml is found.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	want := pagepipe.DefaultConfig()
	if cfg.Pipeline != want {
		t.Errorf("Pipeline = %+v, want %+v", cfg.Pipeline, want)
	}
	if cfg.Log.Level != "info" || cfg.Log.File != "" {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t)
	t.Setenv("PAGEPIPE_PIPELINE_MAX_TEXTURES", "32")
	t.Setenv("PAGEPIPE_PIPELINE_ZOOM_STEP", "0.5")
	t.Setenv("PAGEPIPE_PIPELINE_MAX_ANIMATION", "90s")
	t.Setenv("PAGEPIPE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Pipeline.MaxTextures != 32 {
		t.Errorf("MaxTextures = %d, want 32", cfg.Pipeline.MaxTextures)
	}
	if cfg.Pipeline.Zoom.Step != 0.5 {
		t.Errorf("Zoom.Step = %g, want 0.5", cfg.Pipeline.Zoom.Step)
	}
	if cfg.Pipeline.MaxAnimation != 90*time.Second {
		t.Errorf("MaxAnimation = %s, want 90s", cfg.Pipeline.MaxAnimation)
	}
	if level, _ := cfg.Log.SlogLevel(); level != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level)
	}
}

func TestLoadFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "custom.toml")
	data := `
[pipeline]
max_decoded_pages = 8
workers = 3
prefetch_ahead = 2

[pipeline.zoom]
max = 4.0

[log]
file = "pagepipe.log"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	// Environment wins over the file.
	t.Setenv("PAGEPIPE_PIPELINE_WORKERS", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Pipeline.MaxDecodedPages != 8 || cfg.Pipeline.PrefetchAhead != 2 {
		t.Errorf("Pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Pipeline.Workers)
	}
	if cfg.Pipeline.Zoom.Max != 4 || cfg.Pipeline.Zoom.Step != pagepipe.DefaultConfig().Zoom.Step {
		t.Errorf("Zoom = %+v", cfg.Pipeline.Zoom)
	}
	if cfg.Log.File != "pagepipe.log" {
		t.Errorf("Log.File = %q", cfg.Log.File)
	}
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := chdir(t)
	if err := os.WriteFile(filepath.Join(dir, "pagepipe.toml"), []byte("[pipeline]\nmax_spreads = 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Pipeline.MaxSpreads != 2 {
		t.Errorf("MaxSpreads = %d, want 2", cfg.Pipeline.MaxSpreads)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name  string
		file  string
		env   [2]string
		check func(error) bool
	}{
		{
			name:  "missing explicit file",
			check: func(err error) bool { return err != nil },
		},
		{
			name:  "invalid pipeline",
			file:  "[pipeline]\nmax_textures = 0\n",
			check: func(err error) bool { return errors.Is(err, pagepipe.ErrInvalidConfig) },
		},
		{
			name:  "bad level",
			file:  "[log]\nlevel = \"loud\"\n",
			check: func(err error) bool { return err != nil },
		},
		{
			name:  "bad env value",
			file:  "",
			env:   [2]string{"PAGEPIPE_PIPELINE_MAX_SPREADS", "many"},
			check: func(err error) bool { return err != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := chdir(t)
			path := filepath.Join(dir, "pagepipe.toml")
			if tt.name != "missing explicit file" {
				if err := os.WriteFile(path, []byte(tt.file), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			if tt.env[0] != "" {
				t.Setenv(tt.env[0], tt.env[1])
			}
			_, err := Load(path)
			if !tt.check(err) {
				t.Errorf("Load() = %v", err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"chatty", 0, true},
	}
	for _, tt := range tests {
		got, err := LogConfig{Level: tt.in}.SlogLevel()
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("SlogLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
}
