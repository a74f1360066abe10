package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dhcgn/mail-digest/model"
)

// ErrMissingCredentials is returned when the IMAP host, user or password is
// not configured and no mbox archive replaces the server.
var ErrMissingCredentials = errors.New("missing IMAP configuration")

const (
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
)

// Config captures everything a run needs.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	Mailbox            string
	MboxPath           string

	Limit   int
	Filter  model.Filter
	Model   string
	Timeout int // seconds
	Backend string
	// Endpoint is the inference server base URL; empty means the backend default.
	Endpoint string
	APIKey   string

	// NoAI replaces the model report with a plain statistical summary.
	NoAI bool

	Persona       string
	PersonaFormal string
	LogLevel      string

	// Listen is the dashboard address; only the serve command sets it.
	Listen string
}

// DefaultListen keeps the dashboard on the loopback interface.
const DefaultListen = "127.0.0.1:8080"

// envBindings maps config keys to the environment variables that feed them.
var envBindings = map[string]string{
	"imap-host":     "IMAP_HOST",
	"imap-port":     "IMAP_PORT",
	"imap-user":     "IMAP_EMAIL",
	"imap-password": "IMAP_PASSWORD",
	"endpoint":      "INFERENCE_URL",
	"api-key":       "OPENAI_API_KEY",
	"log-level":     "LOG_LEVEL",
}

// RegisterFlags attaches all CLI flags to the provided command. They are
// persistent so subcommands share them.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.PersistentFlags()
	flags.Int("limit", 20, "Number of most recent emails to analyze")
	flags.String("model", "deepseek-r1", "Model to use (e.g. deepseek-r1, qwen2.5, mistral-nemo, llama3.2:latest)")
	flags.String("filter", string(model.FilterAll), "Email filter: 'all' or 'unread'")
	flags.Int("timeout", 45, "Seconds to wait for the model before giving up")
	flags.String("backend", BackendOllama, "Inference API: 'ollama' (native) or 'openai' (OpenAI-compatible)")
	flags.String("endpoint", "", "Inference server base URL (falls back to INFERENCE_URL, then the backend default)")
	flags.Bool("no-ai", false, "Print a plain summary (counts, period, top senders) instead of calling the model")
	flags.String("persona", "Alex", "Name the report addresses")
	flags.String("persona-formal", "Alexandre", "Formal name used for security, money or critical emails")
	flags.String("imap-host", "", "IMAP server hostname (falls back to IMAP_HOST)")
	flags.Int("imap-port", 993, "IMAP server port (falls back to IMAP_PORT)")
	flags.String("imap-user", "", "IMAP username (falls back to IMAP_EMAIL)")
	flags.Bool("imap-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("mailbox", "INBOX", "Mailbox to read")
	flags.String("mbox", "", "Read a local mbox archive instead of the IMAP server")
	flags.String("env-file", ".env", "Environment file loaded before reading configuration")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	return nil
}

// RegisterServeFlags attaches the flags specific to the dashboard server.
func RegisterServeFlags(cmd *cobra.Command) error {
	cmd.Flags().String("listen", DefaultListen, "Address the dashboard listens on")
	return nil
}

// LoadConfig loads the env file, then resolves every setting from flags,
// environment and defaults, in that order of precedence.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	envFile, err := flags.GetString("env-file")
	if err != nil {
		return Config{}, err
	}
	if err := loadEnvFile(envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	filter, err := model.ParseFilter(v.GetString("filter"))
	if err != nil {
		return Config{}, fmt.Errorf("--filter: %w", err)
	}

	logLevel := strings.ToLower(strings.TrimSpace(v.GetString("log-level")))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	cfg := Config{
		IMAPHost:           strings.TrimSpace(v.GetString("imap-host")),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           strings.TrimSpace(v.GetString("imap-user")),
		IMAPPass:           v.GetString("imap-password"),
		UseTLS:             v.GetBool("imap-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		Mailbox:            v.GetString("mailbox"),
		MboxPath:           strings.TrimSpace(v.GetString("mbox")),
		Limit:              v.GetInt("limit"),
		Filter:             filter,
		Model:              strings.TrimSpace(v.GetString("model")),
		Timeout:            v.GetInt("timeout"),
		Backend:            strings.ToLower(strings.TrimSpace(v.GetString("backend"))),
		Endpoint:           strings.TrimSpace(v.GetString("endpoint")),
		APIKey:             v.GetString("api-key"),
		NoAI:               v.GetBool("no-ai"),
		Persona:            v.GetString("persona"),
		PersonaFormal:      v.GetString("persona-formal"),
		LogLevel:           logLevel,
		Listen:             strings.TrimSpace(v.GetString("listen")),
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	// Variables already present in the environment win over the file.
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.MboxPath == "" {
		var missing []string
		if cfg.IMAPHost == "" {
			missing = append(missing, "IMAP_HOST")
		}
		if cfg.IMAPUser == "" {
			missing = append(missing, "IMAP_EMAIL")
		}
		if cfg.IMAPPass == "" {
			missing = append(missing, "IMAP_PASSWORD")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s not set (environment, .env file or flags)", ErrMissingCredentials, strings.Join(missing, ", "))
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}
	if cfg.Limit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}
	if cfg.Timeout < 1 {
		return fmt.Errorf("--timeout must be at least 1 second")
	}
	if cfg.Model == "" {
		return fmt.Errorf("--model is required")
	}

	switch cfg.Backend {
	case BackendOllama, BackendOpenAI:
	default:
		return fmt.Errorf("invalid --backend: %s", cfg.Backend)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}
