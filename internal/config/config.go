package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Database    DatabaseConfig    `yaml:"database"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Security    SecurityConfig    `yaml:"security"`
	TLS         TLSConfig         `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type SandboxConfig struct {
	Backend        string        `yaml:"backend"`     // "process" (default) or "docker"
	ScratchDir     string        `yaml:"scratch_dir"` // empty means os.TempDir()
	Timeout        time.Duration `yaml:"timeout"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	QueueTimeout   time.Duration `yaml:"queue_timeout"`
	MaxCodeBytes   int           `yaml:"max_code_bytes"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	KillGrace      time.Duration `yaml:"kill_grace"`
	Classification string        `yaml:"classification"` // "stderr_or_exit" or "exit_code"
	EnvPassthrough []string      `yaml:"env_passthrough"`
	Limits         LimitsConfig  `yaml:"limits"`
	Janitor        JanitorConfig `yaml:"janitor"`
	Docker         DockerConfig  `yaml:"docker"`
}

// LimitsConfig holds per-child rlimits. Zero disables a limit.
type LimitsConfig struct {
	OpenFiles  uint64 `yaml:"open_files"`
	CPUSeconds uint64 `yaml:"cpu_seconds"`
	MemoryMB   uint64 `yaml:"memory_mb"`
	Processes  uint64 `yaml:"processes"`
	FileSizeMB uint64 `yaml:"file_size_mb"`
}

type JanitorConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type DockerConfig struct {
	Image     string   `yaml:"image"`
	Command   []string `yaml:"command"` // interpreter command inside the container
	MemoryMB  int64    `yaml:"memory_mb"`
	PidsLimit int64    `yaml:"pids_limit"`
	CPUs      float64  `yaml:"cpus"`
	Seccomp   bool     `yaml:"seccomp"`
}

// InterpreterConfig describes the external interpreter contract:
// <command...> <path-to-source-file>.
type InterpreterConfig struct {
	Name          string   `yaml:"name"`
	Command       []string `yaml:"command"`
	FileExtension string   `yaml:"file_extension"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"` // 0 disables rate limiting
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from env or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    35 * time.Second, // > max sandbox timeout + queue wait
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1<<20 + 4096,
			AllowedOrigins:  []string{"*"},
		},
		Sandbox: SandboxConfig{
			Backend:        "process",
			Timeout:        3000 * time.Millisecond,
			MaxTimeout:     30 * time.Second,
			MaxConcurrent:  32,
			QueueTimeout:   time.Second,
			MaxCodeBytes:   1 << 20,
			MaxOutputBytes: 4 << 20,
			KillGrace:      500 * time.Millisecond,
			Classification: "stderr_or_exit",
			EnvPassthrough: []string{"PATH", "LANG", "JAVA_HOME"},
			Limits: LimitsConfig{
				OpenFiles: 256,
			},
			Janitor: JanitorConfig{
				Enabled:  true,
				Schedule: "@every 1m",
				MaxAge:   5 * time.Minute,
			},
			Docker: DockerConfig{
				Image:     "simpleflow-runner:latest",
				Command:   []string{"java", "-cp", "/opt/simpleflow/simpleflow-lang.jar", "com.simpleflow.lang.Main"},
				MemoryMB:  256,
				PidsLimit: 64,
				CPUs:      0.5,
				Seccomp:   true,
			},
		},
		Interpreter: InterpreterConfig{
			Name:          "simpleflow",
			Command:       []string{"java", "-cp", "simpleflow-lang/simpleflow-lang.jar", "com.simpleflow.lang.Main"},
			FileExtension: ".sf",
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
	}
}

// ApplyEnv overrides selected settings from the process environment.
func (c *Config) ApplyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PORT %q is not a number: %w", port, err)
		}
		c.Server.Port = p
	}
	if interp := strings.Fields(os.Getenv("SIMPLEFLOW_INTERPRETER")); len(interp) > 0 {
		c.Interpreter.Command = interp
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}
	return c.Validate()
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	switch c.Sandbox.Backend {
	case "process", "docker":
	default:
		return fmt.Errorf("sandbox.backend must be process or docker, got %q", c.Sandbox.Backend)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be > 0")
	}
	if c.Sandbox.Timeout > c.Sandbox.MaxTimeout {
		return fmt.Errorf("sandbox.timeout (%s) must be <= max_timeout (%s)",
			c.Sandbox.Timeout, c.Sandbox.MaxTimeout)
	}
	if c.Sandbox.MaxConcurrent < 1 {
		return fmt.Errorf("sandbox.max_concurrent must be >= 1")
	}
	if c.Sandbox.MaxCodeBytes < 1 {
		return fmt.Errorf("sandbox.max_code_bytes must be >= 1")
	}
	if c.Sandbox.MaxOutputBytes < 1024 {
		return fmt.Errorf("sandbox.max_output_bytes must be >= 1024")
	}
	switch c.Sandbox.Classification {
	case "stderr_or_exit", "exit_code":
	default:
		return fmt.Errorf("sandbox.classification must be stderr_or_exit or exit_code, got %q", c.Sandbox.Classification)
	}
	if c.Sandbox.ScratchDir != "" && !filepath.IsAbs(c.Sandbox.ScratchDir) {
		return fmt.Errorf("sandbox.scratch_dir: %q must be an absolute path", c.Sandbox.ScratchDir)
	}
	if c.Sandbox.Janitor.Enabled {
		if c.Sandbox.Janitor.Schedule == "" {
			return fmt.Errorf("sandbox.janitor.schedule is required when the janitor is enabled")
		}
		if c.Sandbox.Janitor.MaxAge <= c.Sandbox.MaxTimeout {
			return fmt.Errorf("sandbox.janitor.max_age (%s) must exceed max_timeout (%s)",
				c.Sandbox.Janitor.MaxAge, c.Sandbox.MaxTimeout)
		}
	}
	if len(c.Interpreter.Command) == 0 {
		return fmt.Errorf("interpreter.command is required")
	}
	if c.Sandbox.Backend == "docker" {
		if c.Sandbox.Docker.Image == "" || len(c.Sandbox.Docker.Command) == 0 {
			return fmt.Errorf("sandbox.docker.image and sandbox.docker.command are required for the docker backend")
		}
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Tracing.Sample < 0 || c.Tracing.Sample > 1 {
		return fmt.Errorf("tracing.sample_rate must be 0-1, got %g", c.Tracing.Sample)
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, audit connections are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ScratchDir resolves the directory used for staged artifacts.
func (c *Config) ScratchDir() string {
	if c.Sandbox.ScratchDir != "" {
		return c.Sandbox.ScratchDir
	}
	return os.TempDir()
}
