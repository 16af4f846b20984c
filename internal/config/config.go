package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Queues    []QueueConfig   `yaml:"queues"`
	Report    ReportConfig    `yaml:"report"`
	Script    ScriptConfig    `yaml:"script"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Slack     SlackConfig     `yaml:"slack"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	JobTable     string `yaml:"job_table"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ReconcileConfig struct {
	Schedule string `yaml:"schedule"`
	Queue    string `yaml:"queue"`
}

type SchedulerConfig struct {
	// Store is "postgres" or "memory".
	Store        string        `yaml:"store"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

type QueueConfig struct {
	Name       string `yaml:"name"`
	Workers    int    `yaml:"workers"`
	Buffer     int    `yaml:"buffer"`
	MaxRetries int    `yaml:"max_retries"`
}

type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

type ScriptConfig struct {
	// Mode is "http" (sandbox service) or "process" (isolated interpreter process).
	Mode    string        `yaml:"mode"`
	URL     string        `yaml:"url"`
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

type DedupConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Load reads the YAML file at configPath on top of DefaultConfig and then
// applies environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
		}
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		fmt.Printf("Config file %s not found. Using defaults and environment variables.\n", configPath)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port: "8080",
		},
		Database: DatabaseConfig{
			JobTable:     "export_email_job",
			MaxOpenConns: 10,
		},
		SMTP: SMTPConfig{
			Port:    587,
			Timeout: 30 * time.Second,
		},
		Reconcile: ReconcileConfig{
			Schedule: "0 7 * * *",
			Queue:    "fast_queue",
		},
		Scheduler: SchedulerConfig{
			Store:        "postgres",
			SyncInterval: time.Minute,
		},
		Queues: []QueueConfig{
			{Name: "fast_queue", Workers: 4, Buffer: 128},
			{Name: "heavy_queue", Workers: 1, Buffer: 64, MaxRetries: 1},
		},
		Report: ReportConfig{
			OutputDir: os.TempDir(),
		},
		Script: ScriptConfig{
			Mode:    "process",
			Command: "python3 -I -",
			Timeout: 5 * time.Minute,
		},
		Dedup: DedupConfig{
			TTL: 24 * time.Hour,
		},
	}
}

func (c *Config) Validate() error {
	if len(c.Queues) == 0 {
		return fmt.Errorf("at least one queue must be configured")
	}

	seen := make(map[string]bool, len(c.Queues))
	for _, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("queue name cannot be empty")
		}
		if seen[q.Name] {
			return fmt.Errorf("queue %s configured twice", q.Name)
		}
		seen[q.Name] = true
	}

	if !seen[c.Reconcile.Queue] {
		return fmt.Errorf("reconcile queue %s is not a configured queue", c.Reconcile.Queue)
	}

	switch c.Scheduler.Store {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown scheduler store %q", c.Scheduler.Store)
	}

	switch c.Script.Mode {
	case "http", "process":
	default:
		return fmt.Errorf("unknown script mode %q", c.Script.Mode)
	}

	return nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	c.Database.JobTable = getEnv("JOB_TABLE", c.Database.JobTable)

	c.SMTP.Host = getEnv("SMTP_SERVER", c.SMTP.Host)
	c.SMTP.Port = getEnvInt("SMTP_PORT", c.SMTP.Port)
	c.SMTP.Username = getEnv("SMTP_USERNAME", c.SMTP.Username)
	c.SMTP.Password = getEnv("SMTP_PASSWORD", c.SMTP.Password)
	c.SMTP.From = getEnv("SMTP_FROM", c.SMTP.From)

	c.Script.URL = getEnv("SCRIPT_SANDBOX_URL", c.Script.URL)
	c.Slack.WebhookURL = getEnv("SLACK_WEBHOOK_URL", c.Slack.WebhookURL)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}
