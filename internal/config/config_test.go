package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Sandbox.Timeout != 3000*time.Millisecond {
		t.Errorf("Sandbox.Timeout = %s, want 3s", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.Backend != "process" {
		t.Errorf("Sandbox.Backend = %q, want process", cfg.Sandbox.Backend)
	}
	if cfg.Interpreter.FileExtension != ".sf" {
		t.Errorf("Interpreter.FileExtension = %q, want .sf", cfg.Interpreter.FileExtension)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"unknown backend", func(c *Config) { c.Sandbox.Backend = "firecracker" }, true},
		{"docker backend", func(c *Config) { c.Sandbox.Backend = "docker" }, false},
		{"docker backend without image", func(c *Config) {
			c.Sandbox.Backend = "docker"
			c.Sandbox.Docker.Image = ""
		}, true},
		{"zero timeout", func(c *Config) { c.Sandbox.Timeout = 0 }, true},
		{"timeout > max_timeout", func(c *Config) {
			c.Sandbox.Timeout = 2 * time.Minute
			c.Sandbox.MaxTimeout = time.Minute
		}, true},
		{"max_concurrent 0", func(c *Config) { c.Sandbox.MaxConcurrent = 0 }, true},
		{"tiny output cap", func(c *Config) { c.Sandbox.MaxOutputBytes = 10 }, true},
		{"unknown classification", func(c *Config) { c.Sandbox.Classification = "vibes" }, true},
		{"exit_code classification", func(c *Config) { c.Sandbox.Classification = "exit_code" }, false},
		{"relative scratch dir", func(c *Config) { c.Sandbox.ScratchDir = "tmp/runs" }, true},
		{"absolute scratch dir", func(c *Config) { c.Sandbox.ScratchDir = "/var/tmp/runs" }, false},
		{"janitor max_age below max_timeout", func(c *Config) { c.Sandbox.Janitor.MaxAge = time.Second }, true},
		{"janitor disabled ignores max_age", func(c *Config) {
			c.Sandbox.Janitor.Enabled = false
			c.Sandbox.Janitor.MaxAge = 0
		}, false},
		{"empty interpreter command", func(c *Config) { c.Interpreter.Command = nil }, true},
		{"TLS enabled without cert", func(c *Config) { c.TLS.Enabled = true }, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
		{"sample rate > 1", func(c *Config) { c.Tracing.Sample = 1.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
sandbox:
  timeout: 1500ms
  max_concurrent: 4
  classification: exit_code
interpreter:
  command: ["/usr/local/bin/simpleflow"]
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Sandbox.Timeout != 1500*time.Millisecond {
		t.Errorf("Sandbox.Timeout = %s, want 1.5s", cfg.Sandbox.Timeout)
	}
	if cfg.Sandbox.MaxConcurrent != 4 {
		t.Errorf("Sandbox.MaxConcurrent = %d, want 4", cfg.Sandbox.MaxConcurrent)
	}
	if cfg.Sandbox.Classification != "exit_code" {
		t.Errorf("Sandbox.Classification = %q, want exit_code", cfg.Sandbox.Classification)
	}
	if len(cfg.Interpreter.Command) != 1 || cfg.Interpreter.Command[0] != "/usr/local/bin/simpleflow" {
		t.Errorf("Interpreter.Command = %v", cfg.Interpreter.Command)
	}
	// Untouched keys keep their defaults.
	if cfg.Interpreter.FileExtension != ".sf" {
		t.Errorf("Interpreter.FileExtension = %q, want .sf", cfg.Interpreter.FileExtension)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sandbox:\n  backend: lambda\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error, got nil")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("SIMPLEFLOW_INTERPRETER", "java -jar /opt/sf.jar")
	t.Setenv("DATABASE_URL", "postgres://localhost/runs")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	want := []string{"java", "-jar", "/opt/sf.jar"}
	if len(cfg.Interpreter.Command) != len(want) {
		t.Fatalf("Interpreter.Command = %v, want %v", cfg.Interpreter.Command, want)
	}
	for i := range want {
		if cfg.Interpreter.Command[i] != want[i] {
			t.Errorf("Interpreter.Command[%d] = %q, want %q", i, cfg.Interpreter.Command[i], want[i])
		}
	}
	if cfg.Database.DSN != "postgres://localhost/runs" {
		t.Errorf("Database.DSN = %q", cfg.Database.DSN)
	}
}

func TestApplyEnv_BadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	if err := DefaultConfig().ApplyEnv(); err == nil {
		t.Error("expected error for non-numeric PORT")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}

func TestScratchDir(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ScratchDir(); got != os.TempDir() {
		t.Errorf("ScratchDir() = %q, want %q", got, os.TempDir())
	}
	cfg.Sandbox.ScratchDir = "/srv/scratch"
	if got := cfg.ScratchDir(); got != "/srv/scratch" {
		t.Errorf("ScratchDir() = %q, want /srv/scratch", got)
	}
}
