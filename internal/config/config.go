package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/agentrun/internal/agent"
	"github.com/haasonsaas/agentrun/internal/observability"
)

// Config is the main configuration structure for agentrun.
type Config struct {
	Version       int                 `yaml:"version"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Storage       StorageConfig       `yaml:"storage"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// OrchestratorConfig bounds and shapes every run.
type OrchestratorConfig struct {
	// Instructions is the system prompt sent with every invocation.
	Instructions string `yaml:"instructions"`

	// HistoryLimit is the number of stored turns placed in the window.
	HistoryLimit int `yaml:"history_limit"`

	// MaxIterations bounds model invocations per Start or Resume call.
	MaxIterations int `yaml:"max_iterations" jsonschema:"minimum=1"`

	// AutoApprove approves flagged calls without asking the caller.
	AutoApprove bool `yaml:"auto_approve"`

	// MaxAutoApproveCycles bounds consecutive auto-approved cycles.
	MaxAutoApproveCycles int `yaml:"max_auto_approve_cycles"`

	// ConflictPolicy is "reject" or "wait" for concurrent runs of one conversation.
	ConflictPolicy string `yaml:"conflict_policy" jsonschema:"enum=reject,enum=wait"`
}

// StorageConfig selects the turn and run checkpoint stores.
type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver" jsonschema:"enum=memory,enum=sqlite"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// MaxConnections caps open database connections.
	MaxConnections int `yaml:"max_connections"`

	// ConnMaxLifetime recycles long-lived connections.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// LLMConfig configures the model provider.
type LLMConfig struct {
	// Provider is "openai" or "tape".
	Provider   string        `yaml:"provider" jsonschema:"enum=openai,enum=tape"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	MaxTokens  int           `yaml:"max_tokens"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`

	// TapePath is the tape replayed when Provider is "tape".
	TapePath string `yaml:"tape_path"`
}

// ToolsConfig configures tool execution and approval.
type ToolsConfig struct {
	// Timeout is the default per-call timeout.
	Timeout time.Duration `yaml:"timeout"`

	// Timeouts overrides Timeout per tool name.
	Timeouts map[string]time.Duration `yaml:"timeouts"`

	// Approval adds policy on top of each tool's own approval flag.
	Approval agent.ApprovalPolicy `yaml:"approval"`

	// Disabled lists tools that are not registered.
	Disabled []string `yaml:"disabled"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format" jsonschema:"enum=json,enum=text"`
	AddSource bool   `yaml:"add_source"`

	// RedactPatterns are extra regexes masked in log output.
	RedactPatterns []string `yaml:"redact_patterns"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig             `yaml:"metrics"`
	Tracing observability.TraceConfig `yaml:"tracing"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load reads, merges, decodes, defaults, and validates the configuration at
// path. YAML and JSON5 files are accepted; "$include" directives are merged
// depth first and ${VAR} references are expanded from the environment.
// Relative storage.path and llm.tape_path values resolve against the file
// that sets them. OPENAI_API_KEY and OPENAI_BASE_URL fill empty llm settings.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Orchestrator.HistoryLimit == 0 {
		cfg.Orchestrator.HistoryLimit = agent.DefaultHistoryLimit
	}
	if cfg.Orchestrator.MaxIterations == 0 {
		cfg.Orchestrator.MaxIterations = agent.DefaultMaxIterations
	}
	if cfg.Orchestrator.MaxAutoApproveCycles == 0 {
		cfg.Orchestrator.MaxAutoApproveCycles = agent.DefaultMaxAutoApproveCycles
	}
	if cfg.Orchestrator.ConflictPolicy == "" {
		cfg.Orchestrator.ConflictPolicy = string(agent.ConflictReject)
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.Path == "" {
		cfg.Storage.Path = "agentrun.db"
	}
	if cfg.Storage.MaxConnections == 0 {
		cfg.Storage.MaxConnections = 1
	}
	if cfg.Storage.ConnMaxLifetime == 0 {
		cfg.Storage.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.MaxRetries == 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay == 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = agent.DefaultToolTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Metrics.Enabled && cfg.Observability.Metrics.Address == "" {
		cfg.Observability.Metrics.Address = ":9090"
	}
	if cfg.Observability.Tracing.ServiceName == "" {
		cfg.Observability.Tracing.ServiceName = "agentrun"
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string

	if err := ValidateVersion(c.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if c.Orchestrator.HistoryLimit < 0 {
		issues = append(issues, "orchestrator.history_limit must be >= 0")
	}
	if c.Orchestrator.MaxIterations < 1 {
		issues = append(issues, "orchestrator.max_iterations must be >= 1")
	}
	if c.Orchestrator.MaxAutoApproveCycles < 1 {
		issues = append(issues, "orchestrator.max_auto_approve_cycles must be >= 1")
	}
	switch agent.ConflictPolicy(c.Orchestrator.ConflictPolicy) {
	case agent.ConflictReject, agent.ConflictWait:
	default:
		issues = append(issues, fmt.Sprintf("orchestrator.conflict_policy %q must be reject or wait", c.Orchestrator.ConflictPolicy))
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.Storage.Path) == "" {
			issues = append(issues, "storage.path is required for the sqlite driver")
		}
	default:
		issues = append(issues, fmt.Sprintf("storage.driver %q must be memory or sqlite", c.Storage.Driver))
	}

	switch c.LLM.Provider {
	case "openai":
	case "tape":
		if strings.TrimSpace(c.LLM.TapePath) == "" {
			issues = append(issues, "llm.tape_path is required for the tape provider")
		}
	default:
		issues = append(issues, fmt.Sprintf("llm.provider %q must be openai or tape", c.LLM.Provider))
	}
	if c.LLM.MaxRetries < 0 {
		issues = append(issues, "llm.max_retries must be >= 0")
	}

	if c.Tools.Timeout < 0 {
		issues = append(issues, "tools.timeout must be >= 0")
	}
	for name, timeout := range c.Tools.Timeouts {
		if timeout <= 0 {
			issues = append(issues, fmt.Sprintf("tools.timeouts.%s must be > 0", name))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level %q is not recognized", c.Logging.Level))
	}

	if rate := c.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: issues}
}

// ValidationError lists every invalid setting found by Validate.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config:\n  - " + strings.Join(e.Issues, "\n  - ")
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// LogConfig converts the logging section for observability.NewLogger.
func (c *Config) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:          c.Logging.Level,
		Format:         c.Logging.Format,
		AddSource:      c.Logging.AddSource,
		RedactPatterns: c.Logging.RedactPatterns,
	}
}
