// Package config loads the agent's configuration from environment
// variables, with .env support via godotenv at the composition root.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the composition root needs to wire the agent.
type Config struct {
	Debug bool

	// OKX credentials
	APIKey     string
	APISecret  string
	Passphrase string

	// Trading
	TradeMode    string // cash, cross, isolated
	Instruments  []string
	OperatorName string

	// Decision executor
	DecisionInterval time.Duration
	HistoryWindow    time.Duration

	// Advisor (optional; the decision loop only starts when the key is set)
	AdvisorEndpoint     string
	AdvisorAPIKey       string
	AdvisorModel        string
	AdvisorSystemPrompt string

	// Persistence
	DatabasePath string

	// Telegram notification egress (optional)
	TelegramToken  string
	TelegramChatID int64
}

func Load() (*Config, error) {
	cfg := &Config{
		Debug:            getEnvBool("DEBUG", false),
		APIKey:           os.Getenv("OKX_API_KEY"),
		APISecret:        os.Getenv("OKX_API_SECRET"),
		Passphrase:       os.Getenv("OKX_PASSPHRASE"),
		TradeMode:        getEnv("OKX_TRADE_MODE", "cross"),
		OperatorName:     getEnv("AI_OPERATOR_NAME", "deepseek"),
		DecisionInterval: getEnvDuration("DECISION_INTERVAL", 5*time.Minute),
		DatabasePath:     getEnv("DATABASE_PATH", "data/okxagent.db"),
		TelegramToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),

		AdvisorEndpoint: getEnv("ADVISOR_ENDPOINT", "https://api.deepseek.com"),
		AdvisorAPIKey:   os.Getenv("ADVISOR_API_KEY"),
		AdvisorModel:    getEnv("ADVISOR_MODEL", "deepseek-chat"),
		AdvisorSystemPrompt: getEnv("ADVISOR_SYSTEM_PROMPT",
			"You are a perpetual-futures trading advisor. Reply with a JSON array of decisions only."),
	}

	raw := getEnv("OKX_INSTRUMENTS", "BTC-USDT-SWAP")
	for _, inst := range strings.Split(raw, ",") {
		inst = strings.TrimSpace(inst)
		if inst != "" {
			cfg.Instruments = append(cfg.Instruments, strings.ToUpper(inst))
		}
	}
	if len(cfg.Instruments) == 0 {
		return nil, fmt.Errorf("OKX_INSTRUMENTS must name at least one instrument")
	}

	window, err := ParseWindow(getEnv("HISTORY_WINDOW", "2h"))
	if err != nil {
		return nil, fmt.Errorf("invalid HISTORY_WINDOW: %w", err)
	}
	cfg.HistoryWindow = window

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	switch cfg.TradeMode {
	case "cash", "cross", "isolated":
	default:
		return nil, fmt.Errorf("OKX_TRADE_MODE must be cash, cross or isolated (got %q)", cfg.TradeMode)
	}
	if cfg.APIKey == "" || cfg.APISecret == "" || cfg.Passphrase == "" {
		return nil, fmt.Errorf("OKX_API_KEY, OKX_API_SECRET and OKX_PASSPHRASE are required")
	}
	return cfg, nil
}

// ParseWindow parses a history window with s|m|h|d units, e.g. "90m", "2d".
// Days are not covered by time.ParseDuration, hence the dedicated parser.
func ParseWindow(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return 0, fmt.Errorf("empty window")
	}
	unit := trimmed[len(trimmed)-1]
	value, err := strconv.ParseFloat(trimmed[:len(trimmed)-1], 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("cannot parse window %q", raw)
	}
	switch unit {
	case 's':
		return time.Duration(value * float64(time.Second)), nil
	case 'm':
		return time.Duration(value * float64(time.Minute)), nil
	case 'h':
		return time.Duration(value * float64(time.Hour)), nil
	case 'd':
		return time.Duration(value * 24 * float64(time.Hour)), nil
	default:
		return 0, fmt.Errorf("window %q must end in s, m, h or d", raw)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
