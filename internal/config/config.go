package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-5"
)

var ErrMissingAPIKey = errors.New("missing LLM API key")

type Config struct {
	DataDir      string
	DBPath       string
	ConfigDir    string
	DietaryRules string
	History      bool
	MetricsFile  string
	LogLevel     slog.Level
	LLM          LLMConfig
}

// LLMConfig holds the credentials and endpoint for the LLM backend.
type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
}

// Load reads envFile (a missing file is not an error) and builds the Config
// from the process environment. Variables already set in the environment
// take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	return New()
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("NOURISHBOT_DATA_DIR", filepath.Join(homeDir, ".nourishbot"))

	level, err := parseLevel(getEnv("NOURISHBOT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	llm, err := loadLLM()
	if err != nil {
		return nil, err
	}

	c := &Config{
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "nourishbot.db"),
		ConfigDir:    getEnv("NOURISHBOT_CONFIG_DIR", ""),
		DietaryRules: getEnv("NOURISHBOT_DIETARY_RULES", ""),
		History:      getBool("NOURISHBOT_HISTORY"),
		MetricsFile:  getEnv("NOURISHBOT_METRICS_FILE", ""),
		LogLevel:     level,
		LLM:          llm,
	}

	return c, nil
}

func loadLLM() (LLMConfig, error) {
	provider := strings.ToLower(getEnv("NOURISHBOT_LLM_PROVIDER", ProviderOpenAI))

	c := LLMConfig{Provider: provider}
	switch provider {
	case ProviderOpenAI:
		c.APIKey = os.Getenv("OPENAI_API_KEY")
		c.BaseURL = os.Getenv("OPENAI_BASE_URL")
		c.Model = getEnv("NOURISHBOT_MODEL", DefaultOpenAIModel)
	case ProviderAnthropic:
		c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		c.BaseURL = os.Getenv("ANTHROPIC_BASE_URL")
		c.Model = getEnv("NOURISHBOT_MODEL", DefaultAnthropicModel)
	default:
		return c, fmt.Errorf("unsupported LLM provider %q", provider)
	}
	c.VisionModel = getEnv("NOURISHBOT_VISION_MODEL", c.Model)

	var err error
	if c.MaxTokens, err = getInt("NOURISHBOT_MAX_TOKENS", 4096); err != nil {
		return c, err
	}
	if c.MaxRetries, err = getInt("NOURISHBOT_MAX_RETRIES", 3); err != nil {
		return c, err
	}
	if c.Temperature, err = getFloat("NOURISHBOT_TEMPERATURE", 0.2); err != nil {
		return c, err
	}
	timeout := getEnv("NOURISHBOT_TIMEOUT", "2m")
	if c.Timeout, err = time.ParseDuration(timeout); err != nil {
		return c, fmt.Errorf("invalid NOURISHBOT_TIMEOUT %q: %w", timeout, err)
	}

	return c, nil
}

// Validate checks the settings needed to actually call the backend.
func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w for provider %s", ErrMissingAPIKey, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func getInt(key string, defaultValue int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}
