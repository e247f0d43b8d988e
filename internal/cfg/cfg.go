package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/prealert/internal/alert"
	"github.com/linnemanlabs/prealert/internal/narration"
	"github.com/linnemanlabs/prealert/internal/workflow"
)

// Narration providers.
const (
	ProviderClaude = "claude"
	ProviderOpenAI = "openai"
)

// Config adds application-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	DatabaseURL           string
	DBLogThreshold        time.Duration

	// APITokens is a comma-separated list so tokens can be rotated.
	APITokens string

	NarrationProvider string
	NarrationMode     string

	ClaudeAPIKey string
	ClaudeModel  string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIGatewayToken string
	OpenAITextModel    string
	OpenAISpeechModel  string
	OpenAIVoice        string

	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMaxElapsed      time.Duration

	SlackWebhookURL   string
	SlackOnlyFailures bool

	// SeedOrganizations is "key=org_id[:name],..." and is upserted at startup.
	SeedOrganizations string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")
	fs.DurationVar(&c.DBLogThreshold, "db-log-threshold", 0, "log queries slower than this, 0 logs every query at debug")
	fs.StringVar(&c.APITokens, "api-token", "", "comma-separated bearer tokens accepted by the email ingest endpoint (empty = unauthenticated)")

	fs.StringVar(&c.NarrationProvider, "narration-provider", ProviderClaude, "narration text provider (claude|openai)")
	fs.StringVar(&c.NarrationMode, "narration-mode", string(narration.ModeEvent), "narration input mode (event|source)")

	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")

	fs.StringVar(&c.OpenAIAPIKey, "openai-api-key", "", "OpenAI API key, required for speech synthesis")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "OpenAI base URL, e.g. an AI gateway (empty = api.openai.com)")
	fs.StringVar(&c.OpenAIGatewayToken, "openai-gateway-token", "", "AI gateway token sent as cf-aig-authorization")
	fs.StringVar(&c.OpenAITextModel, "openai-text-model", "", "OpenAI text model when narration-provider=openai (empty = default)")
	fs.StringVar(&c.OpenAISpeechModel, "openai-speech-model", "", "OpenAI speech model (empty = default)")
	fs.StringVar(&c.OpenAIVoice, "openai-voice", "", "OpenAI speech voice (empty = default)")

	def := workflow.DefaultRetryPolicy
	fs.IntVar(&c.RetryMaxAttempts, "retry-max-attempts", def.MaxAttempts, "attempts per workflow step before the instance fails (1..100)")
	fs.DurationVar(&c.RetryInitialInterval, "retry-initial-interval", def.InitialInterval, "first backoff interval between step attempts")
	fs.DurationVar(&c.RetryMaxInterval, "retry-max-interval", def.MaxInterval, "cap on the backoff interval between step attempts")
	fs.DurationVar(&c.RetryMaxElapsed, "retry-max-elapsed", def.MaxElapsed, "cap on total retry time per step within one run (0 = none)")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.BoolVar(&c.SlackOnlyFailures, "slack-only-failures", false, "only notify Slack about failed workflows")

	fs.StringVar(&c.SeedOrganizations, "seed-organizations", "", "organizations to upsert at startup, key=org_id[:name] comma-separated")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
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
	if c.DBLogThreshold < 0 {
		errs = append(errs, fmt.Errorf("invalid DB_LOG_THRESHOLD %s (must be >= 0)", c.DBLogThreshold))
	}

	switch c.NarrationProvider {
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required when NARRATION_PROVIDER=claude"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required when NARRATION_PROVIDER=claude"))
		}
	case ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("invalid NARRATION_PROVIDER %q (must be claude or openai)", c.NarrationProvider))
	}
	if _, err := narration.ParseMode(c.NarrationMode); err != nil {
		errs = append(errs, fmt.Errorf("invalid NARRATION_MODE: %w", err))
	}

	// speech always goes through OpenAI
	if c.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.OpenAIBaseURL != "" && !strings.HasPrefix(c.OpenAIBaseURL, "http://") && !strings.HasPrefix(c.OpenAIBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("invalid OPENAI_BASE_URL %q (must start with http:// or https://)", c.OpenAIBaseURL))
	}

	if c.RetryMaxAttempts < 1 || c.RetryMaxAttempts > 100 {
		errs = append(errs, fmt.Errorf("invalid RETRY_MAX_ATTEMPTS %d (must be 1..100)", c.RetryMaxAttempts))
	}
	if c.RetryInitialInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid RETRY_INITIAL_INTERVAL %s (must be > 0)", c.RetryInitialInterval))
	}
	if c.RetryMaxInterval < c.RetryInitialInterval {
		errs = append(errs, fmt.Errorf("RETRY_MAX_INTERVAL %s must be >= RETRY_INITIAL_INTERVAL %s", c.RetryMaxInterval, c.RetryInitialInterval))
	}
	if c.RetryMaxElapsed < 0 {
		errs = append(errs, fmt.Errorf("invalid RETRY_MAX_ELAPSED %s (must be >= 0)", c.RetryMaxElapsed))
	}

	if c.SlackWebhookURL != "" && !strings.HasPrefix(c.SlackWebhookURL, "https://") {
		errs = append(errs, errors.New("SLACK_WEBHOOK_URL must use https"))
	}

	if _, err := ParseOrganizations(c.SeedOrganizations); err != nil {
		errs = append(errs, fmt.Errorf("invalid SEED_ORGANIZATIONS: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Tokens returns the configured API tokens with blanks removed.
func (c *Config) Tokens() []string {
	var out []string
	for t := range strings.SplitSeq(c.APITokens, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Mode returns the parsed narration mode. Call after Validate.
func (c *Config) Mode() narration.Mode {
	m, err := narration.ParseMode(c.NarrationMode)
	if err != nil {
		return narration.ModeEvent
	}
	return m
}

// RetryPolicy returns the workflow retry policy built from the retry flags.
func (c *Config) RetryPolicy() workflow.RetryPolicy {
	p := workflow.DefaultRetryPolicy
	p.MaxAttempts = c.RetryMaxAttempts
	p.InitialInterval = c.RetryInitialInterval
	p.MaxInterval = c.RetryMaxInterval
	p.MaxElapsed = c.RetryMaxElapsed
	return p
}

// ParseOrganizations parses "key=org_id[:name],..." into organizations.
func ParseOrganizations(s string) ([]alert.Organization, error) {
	var out []alert.Organization
	seen := make(map[string]bool)
	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, rest, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("entry %q: expected key=org_id", entry)
		}
		id, name, _ := strings.Cut(rest, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("entry %q: empty org_id", entry)
		}
		if seen[key] {
			return nil, fmt.Errorf("entry %q: duplicate key %q", entry, key)
		}
		seen[key] = true
		name = strings.TrimSpace(name)
		if name == "" {
			name = key
		}
		out = append(out, alert.Organization{OrgID: id, OrgKey: key, Name: name})
	}
	return out, nil
}
