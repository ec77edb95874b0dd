package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Interview Helper environment
// variables.
const EnvPrefix = "INTERVIEW_HELPER_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr            string   `yaml:"listen_addr"`
	DBPath                string   `yaml:"db_path"`
	TicketExpiration      string   `yaml:"ticket_expiration"`
	TicketRateLimit       int      `yaml:"ticket_rate_limit"`
	TicketRateWindow      string   `yaml:"ticket_rate_window"`
	AnalysisModel         string   `yaml:"analysis_model"`
	AnalysisMinChars      int      `yaml:"analysis_min_chars"`
	AnalysisMinInterval   string   `yaml:"analysis_min_interval"`
	FrameQueueSize        int      `yaml:"frame_queue_size"`
	TranscriptWindowBytes int      `yaml:"transcript_window_bytes"`
	DeepgramModel         string   `yaml:"deepgram_model"`
	DeepgramLanguage      string   `yaml:"deepgram_language"`
	STUNServers           []string `yaml:"stun_servers"`
	GDriveFolderID        string   `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string   `yaml:"google_credentials_file"`

	// Secrets — env vars only, never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:            ":8080",
		DBPath:                "data/interview-helper.db",
		TicketExpiration:      "300s",
		TicketRateLimit:       10,
		TicketRateWindow:      "60s",
		AnalysisModel:         "openai/gpt-4o-mini",
		AnalysisMinChars:      200,
		AnalysisMinInterval:   "15s",
		FrameQueueSize:        512,
		TranscriptWindowBytes: 32 * 1024,
		DeepgramModel:         "nova-2",
		DeepgramLanguage:      "en-US",
		STUNServers:           []string{"stun:stun.l.google.com:19302"},
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedTicketExpiration returns TicketExpiration as a time.Duration,
// falling back to 300s if the value is invalid.
func (c *Config) ParsedTicketExpiration() time.Duration {
	d, err := time.ParseDuration(c.TicketExpiration)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// ParsedTicketRateWindow returns TicketRateWindow as a time.Duration,
// falling back to 60s if the value is invalid.
func (c *Config) ParsedTicketRateWindow() time.Duration {
	d, err := time.ParseDuration(c.TicketRateWindow)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// ParsedAnalysisMinInterval returns AnalysisMinInterval as a time.Duration,
// falling back to 15s if the value is invalid.
func (c *Config) ParsedAnalysisMinInterval() time.Duration {
	d, err := time.ParseDuration(c.AnalysisMinInterval)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "TICKET_EXPIRATION"); v != "" {
		cfg.TicketExpiration = v
	}
	if v := os.Getenv(EnvPrefix + "TICKET_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.TicketRateLimit = n
		}
	}
	if v := os.Getenv(EnvPrefix + "TICKET_RATE_WINDOW"); v != "" {
		cfg.TicketRateWindow = v
	}
	if v := os.Getenv(EnvPrefix + "ANALYSIS_MODEL"); v != "" {
		cfg.AnalysisModel = v
	}
	if v := os.Getenv(EnvPrefix + "ANALYSIS_MIN_CHARS"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.AnalysisMinChars = n
		}
	}
	if v := os.Getenv(EnvPrefix + "ANALYSIS_MIN_INTERVAL"); v != "" {
		cfg.AnalysisMinInterval = v
	}
	if v := os.Getenv(EnvPrefix + "FRAME_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.FrameQueueSize = n
		}
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPT_WINDOW_BYTES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.TranscriptWindowBytes = n
		}
	}
	if v := os.Getenv(EnvPrefix + "DEEPGRAM_MODEL"); v != "" {
		cfg.DeepgramModel = v
	}
	if v := os.Getenv(EnvPrefix + "DEEPGRAM_LANGUAGE"); v != "" {
		cfg.DeepgramLanguage = v
	}
	if v := os.Getenv(EnvPrefix + "STUN_SERVERS"); v != "" {
		cfg.STUNServers = parseList(v)
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured — live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if !hasProviderKey(cfg) {
		warnings = append(warnings, "No LLM provider API key configured — AI analysis is disabled. Set one of "+EnvPrefix+"OPENAI_API_KEY, "+EnvPrefix+"ANTHROPIC_API_KEY, "+EnvPrefix+"GEMINI_API_KEY.")
	}
	if _, err := time.ParseDuration(cfg.TicketExpiration); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid ticket_expiration %q — using default 300s.", cfg.TicketExpiration))
	}
	if _, err := time.ParseDuration(cfg.TicketRateWindow); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid ticket_rate_window %q — using default 60s.", cfg.TicketRateWindow))
	}
	if _, err := time.ParseDuration(cfg.AnalysisMinInterval); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid analysis_min_interval %q — using default 15s.", cfg.AnalysisMinInterval))
	}
	if !strings.Contains(cfg.AnalysisModel, "/") {
		warnings = append(warnings, fmt.Sprintf("analysis_model %q has no provider prefix — expected provider/model.", cfg.AnalysisModel))
	}

	return warnings
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}

func hasProviderKey(cfg *Config) bool {
	return cfg.OpenAIAPIKey != "" || cfg.AnthropicAPIKey != "" || cfg.GeminiAPIKey != ""
}
