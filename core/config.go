package core

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration, resolved with three-layer
// precedence:
//  1. struct-tag default (lowest)
//  2. environment variable named by the `env` tag
//  3. functional Option passed to NewConfig (highest)
//
// A single Config is built once in cmd/aurora and passed explicitly
// into every component constructor — there is no global singleton.
type Config struct {
	DataRoot    string        `json:"data_root" env:"AURORA_DATA_ROOT" default:"./data"`
	LogFormat   string        `json:"log_format" env:"AURORA_LOG_FORMAT" default:"text"`
	LogLevel    string        `json:"log_level" env:"AURORA_LOG_LEVEL" default:"info"`
	AdminKey    string        `json:"-" env:"AURORA_ADMIN_KEY"`
	HTTPProxy   string        `json:"http_proxy" env:"AURORA_HTTP_PROXY"`
	SlackWebhook string       `json:"-" env:"AURORA_SLACK_WEBHOOK"`

	HeartbeatPeriod time.Duration `json:"heartbeat_period" env:"AURORA_HEARTBEAT_PERIOD" default:"60s"`

	PolicyFile string `json:"policy_file" env:"AURORA_POLICY_FILE" default:"config/operator_enabled.yaml"`

	BrokerDefaultTimeout time.Duration `json:"broker_default_timeout" env:"AURORA_BROKER_TIMEOUT" default:"300s"`
	BrokerHistorySize    int           `json:"broker_history_size" env:"AURORA_BROKER_HISTORY" default:"20"`

	PlannerActionBudget int `json:"planner_action_budget" env:"AURORA_PLANNER_BUDGET" default:"50"`

	ReasoningRingSize int `json:"reasoning_ring_size" env:"AURORA_REASONING_RING" default:"1000"`

	CacheMemoryBytes int64 `json:"cache_memory_bytes" env:"AURORA_CACHE_MEMORY_BYTES" default:"2147483648"`
	CacheDiskDir     string `json:"cache_disk_dir" env:"AURORA_CACHE_DISK_DIR" default:"cache"`
	CacheRemoteAddr  string `json:"cache_remote_addr" env:"AURORA_CACHE_REMOTE_ADDR"`

	InputMaxRetries int `json:"input_max_retries" env:"AURORA_INPUT_MAX_RETRIES" default:"2"`

	AnthropicAPIKey string `json:"-" env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `json:"-" env:"OPENAI_API_KEY"`
	GoogleAPIKey    string `json:"-" env:"GOOGLE_API_KEY"`
	OllamaBaseURL   string `json:"ollama_base_url" env:"VLLM_BASE_URL" default:"http://localhost:11434"`
	TwoCaptchaAPIKey string `json:"-" env:"TWOCAPTCHA_API_KEY"`

	Logger Logger `json:"-"`
}

// Option configures a Config during construction.
type Option func(*Config)

func WithDataRoot(root string) Option     { return func(c *Config) { c.DataRoot = root } }
func WithLogFormat(format string) Option  { return func(c *Config) { c.LogFormat = format } }
func WithLogger(logger Logger) Option     { return func(c *Config) { c.Logger = logger } }
func WithHeartbeatPeriod(d time.Duration) Option {
	return func(c *Config) { c.HeartbeatPeriod = d }
}
func WithPolicyFile(path string) Option { return func(c *Config) { c.PolicyFile = path } }

// NewConfig builds a Config from defaults, then environment
// variables, then the supplied options, in that precedence order.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoOpLogger{}
	}
	return cfg
}

// applyDefaults walks struct tags and assigns `default:"..."` values.
func applyDefaults(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		def, ok := field.Tag.Lookup("default")
		if !ok {
			continue
		}
		setField(v.Field(i), def)
	}
}

// applyEnv overrides fields whose `env` tag names a set environment
// variable.
func applyEnv(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		envName, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}
		val, present := os.LookupEnv(envName)
		if !present || val == "" {
			continue
		}
		setField(v.Field(i), val)
	}
}

func setField(fv reflect.Value, raw string) {
	if !fv.CanSet() {
		return
	}
	switch fv.Interface().(type) {
	case time.Duration:
		if d, err := time.ParseDuration(raw); err == nil {
			fv.Set(reflect.ValueOf(d))
		}
		return
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fv.SetInt(n)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			fv.SetBool(b)
		}
	}
}

// SplitCommandTemplate splits an `<AGENT>_CLI_CMD`-style environment
// value into argv the way a shell would, honoring simple single and
// double quoting. Used by the CLI Task Broker to build a per-agent
// subprocess argv from configuration.
func SplitCommandTemplate(template string) []string {
	var (
		args    []string
		current strings.Builder
		inQuote rune
	)
	flush := func() {
		if current.Len() > 0 {
			args = append(args, current.String())
			current.Reset()
		}
	}
	for _, r := range template {
		switch {
		case inQuote != 0:
			if r == inQuote {
				inQuote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			inQuote = r
		case r == ' ' || r == '\t':
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return args
}
