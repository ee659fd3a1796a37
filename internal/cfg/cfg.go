package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config holds clarion's application-level configuration. Ambient
// concerns (http server, logging, ops listener, tracing) register
// their own flag structs in main.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	AIProvider    string
	AIBaseURL     string
	AIAPIKey      string
	AIModel       string
	AIFilterModel string
	IdentityHint  string

	Workers           int
	RetryAttempts     int
	RunTimeoutSeconds int
	OnAIFailure       string
	PreFilterEnabled  bool

	RulesFile   string
	SourcesFile string

	DatabaseURL   string
	RetentionDays int

	IntervalMinutes int

	SlackWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string

	APIToken string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")

	fs.StringVar(&c.AIProvider, "ai-provider", "openai", "AI provider for enrichment and pre-filtering (openai or claude)")
	fs.StringVar(&c.AIBaseURL, "ai-base-url", "", "base URL of the OpenAI-compatible endpoint (openai provider only)")
	fs.StringVar(&c.AIAPIKey, "ai-api-key", "", "API key for the AI provider")
	fs.StringVar(&c.AIModel, "ai-model", "", "model used for article enrichment")
	fs.StringVar(&c.AIFilterModel, "ai-filter-model", "", "model used for the semantic pre-filter (empty = disable pre-filter)")
	fs.StringVar(&c.IdentityHint, "identity-hint", "", "analysis stance rendered into enrichment prompts (empty = built-in default)")

	fs.IntVar(&c.Workers, "workers", 4, "concurrent article processing width (1..64)")
	fs.IntVar(&c.RetryAttempts, "retry-attempts", 3, "AI call attempts before exhaustion (1..10)")
	fs.IntVar(&c.RunTimeoutSeconds, "run-timeout-seconds", 600, "cancel a pipeline run after this many seconds (0 = unlimited)")
	fs.StringVar(&c.OnAIFailure, "on-ai-failure", "fallback", "what to do with an article whose enrichment is exhausted (fallback or drop)")
	fs.BoolVar(&c.PreFilterEnabled, "pre-filter-enabled", false, "run the semantic pre-filter before the keyword rules")

	fs.StringVar(&c.RulesFile, "rules-file", "rules.yaml", "path to the YAML keyword rules file")
	fs.StringVar(&c.SourcesFile, "sources-file", "sources.yaml", "path to the YAML news sources file")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the fingerprint store (empty = in-memory)")
	fs.IntVar(&c.RetentionDays, "retention-days", 30, "prune fingerprints older than this many days (0 = keep forever)")

	fs.IntVar(&c.IntervalMinutes, "interval-minutes", 0, "run the pipeline every N minutes (0 = API trigger only)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for deliveries")
	fs.StringVar(&c.TelegramBotToken, "telegram-bot-token", "", "Telegram bot token for deliveries")
	fs.StringVar(&c.TelegramChatID, "telegram-chat-id", "", "Telegram chat ID for deliveries")

	fs.StringVar(&c.APIToken, "api-token", "", "bearer token guarding the run API (empty = no auth)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	switch c.AIProvider {
	case "openai":
		if c.AIBaseURL == "" {
			errs = append(errs, errors.New("AI_BASE_URL is required for the openai provider"))
		}
	case "claude":
	default:
		errs = append(errs, fmt.Errorf("invalid AI_PROVIDER %q (must be openai or claude)", c.AIProvider))
	}
	if c.AIAPIKey == "" {
		errs = append(errs, errors.New("AI_API_KEY is required"))
	}
	if c.AIModel == "" {
		errs = append(errs, errors.New("AI_MODEL is required"))
	}

	if c.Workers <= 0 || c.Workers > 64 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..64)", c.Workers))
	}
	if c.RetryAttempts <= 0 || c.RetryAttempts > 10 {
		errs = append(errs, fmt.Errorf("invalid RETRY_ATTEMPTS %d (must be 1..10)", c.RetryAttempts))
	}
	if c.RunTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid RUN_TIMEOUT_SECONDS %d (must be >= 0)", c.RunTimeoutSeconds))
	}
	if c.OnAIFailure != "fallback" && c.OnAIFailure != "drop" {
		errs = append(errs, fmt.Errorf("invalid ON_AI_FAILURE %q (must be fallback or drop)", c.OnAIFailure))
	}
	if c.PreFilterEnabled && c.AIFilterModel == "" {
		errs = append(errs, errors.New("AI_FILTER_MODEL is required when PRE_FILTER_ENABLED is set"))
	}

	if c.RulesFile == "" {
		errs = append(errs, errors.New("RULES_FILE is required"))
	}
	if c.SourcesFile == "" {
		errs = append(errs, errors.New("SOURCES_FILE is required"))
	}

	if c.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("invalid RETENTION_DAYS %d (must be >= 0)", c.RetentionDays))
	}
	if c.IntervalMinutes < 0 {
		errs = append(errs, fmt.Errorf("invalid INTERVAL_MINUTES %d (must be >= 0)", c.IntervalMinutes))
	}

	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
