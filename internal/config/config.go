package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/revenue-digest/internal/fault"
)

// Config holds the full application configuration.
type Config struct {
	CRM      CRMConfig      `yaml:"crm" mapstructure:"crm"`
	Telegram TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Report   ReportConfig   `yaml:"report" mapstructure:"report"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CRMConfig holds amoCRM OAuth2 credentials and request settings.
type CRMConfig struct {
	Domain       string  `yaml:"domain" mapstructure:"domain"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string  `yaml:"redirect_uri" mapstructure:"redirect_uri"`
	AuthCode     string  `yaml:"auth_code" mapstructure:"auth_code"`
	AccessToken  string  `yaml:"access_token" mapstructure:"access_token"`
	RefreshToken string  `yaml:"refresh_token" mapstructure:"refresh_token"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit    float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	WonStatusID  int     `yaml:"won_status_id" mapstructure:"won_status_id"`
	AuthorizeURL string  `yaml:"authorize_url" mapstructure:"authorize_url"`
}

// Timeout returns the per-request timeout.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// URL returns the API base URL, derived from the account domain unless
// overridden.
func (c CRMConfig) URL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return "https://" + c.Domain
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	Token       string `yaml:"token" mapstructure:"token"`
	ChatID      string `yaml:"chat_id" mapstructure:"chat_id"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the send timeout.
func (c TelegramConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// StoreConfig configures the token store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ReportConfig controls the summary message text.
type ReportConfig struct {
	Header        string `yaml:"header" mapstructure:"header"`
	Currency      string `yaml:"currency" mapstructure:"currency"`
	UnknownUser   string `yaml:"unknown_user" mapstructure:"unknown_user"`
	UnknownStatus string `yaml:"unknown_status" mapstructure:"unknown_status"`
}

// ScheduleConfig configures the daily trigger.
type ScheduleConfig struct {
	At            string `yaml:"at" mapstructure:"at"`
	Timezone      string `yaml:"timezone" mapstructure:"timezone"`
	RefreshTokens bool   `yaml:"refresh_tokens" mapstructure:"refresh_tokens"`
}

// ServerConfig configures the OAuth callback server. An empty
// AllowedOrigins disables cross-origin access.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// legacyEnv maps config keys to the plain environment variable names used by
// existing deployments.
var legacyEnv = map[string]string{
	"crm.domain":        "AMOCRM_DOMAIN",
	"crm.client_id":     "CLIENT_ID",
	"crm.client_secret": "CLIENT_SECRET",
	"crm.redirect_uri":  "REDIRECT_URI",
	"crm.auth_code":     "CODE",
	"crm.access_token":  "ACCESS_TOKEN",
	"crm.refresh_token": "REFRESH_TOKEN",
	"telegram.token":    "TELEGRAM_TOKEN",
	"telegram.chat_id":  "CHAT_ID",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "DIGEST_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("crm.base_url", "")
	v.SetDefault("crm.timeout_secs", 10)
	v.SetDefault("crm.rate_limit", 7)
	v.SetDefault("crm.won_status_id", 142)
	v.SetDefault("crm.authorize_url", "https://www.amocrm.ru/oauth")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("telegram.timeout_secs", 10)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "revenue-digest.db")
	v.SetDefault("report.header", "Revenue for yesterday:")
	v.SetDefault("report.currency", "rub")
	v.SetDefault("report.unknown_user", "unknown")
	v.SetDefault("report.unknown_status", "unknown status")
	v.SetDefault("schedule.at", "10:00")
	v.SetDefault("schedule.timezone", "Local")
	v.SetDefault("schedule.refresh_tokens", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that every setting required by the given command mode is
// present. Modes: report, dry-run, token, schedule, serve.
func (c *Config) Validate(mode string) error {
	var missing []string
	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key+" is required")
		}
	}

	crm := func() {
		if c.CRM.BaseURL == "" {
			require("crm.domain", c.CRM.Domain)
		}
		if c.CRM.TimeoutSecs <= 0 {
			missing = append(missing, "crm.timeout_secs must be > 0")
		}
	}
	oauth := func() {
		require("crm.client_id", c.CRM.ClientID)
		require("crm.client_secret", c.CRM.ClientSecret)
		require("crm.redirect_uri", c.CRM.RedirectURI)
	}
	digest := func() {
		if c.CRM.WonStatusID <= 0 {
			missing = append(missing, "crm.won_status_id must be > 0")
		}
		require("report.header", c.Report.Header)
		require("report.currency", c.Report.Currency)
	}
	report := func() {
		digest()
		require("telegram.token", c.Telegram.Token)
		require("telegram.chat_id", c.Telegram.ChatID)
	}

	switch mode {
	case "report":
		crm()
		report()
	case "dry-run":
		crm()
		digest()
	case "token":
		crm()
		oauth()
	case "schedule":
		crm()
		report()
		if c.Schedule.RefreshTokens {
			oauth()
		}
		require("schedule.at", c.Schedule.At)
	case "serve":
		crm()
		oauth()
		report()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	default:
		return fault.Configuration("config", fmt.Sprintf("unknown mode %q", mode))
	}

	if len(missing) > 0 {
		return fault.Configuration("config", strings.Join(missing, "; "))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	r := *c
	r.CRM.ClientSecret = Mask(r.CRM.ClientSecret)
	r.CRM.AuthCode = Mask(r.CRM.AuthCode)
	r.CRM.AccessToken = Mask(r.CRM.AccessToken)
	r.CRM.RefreshToken = Mask(r.CRM.RefreshToken)
	r.Telegram.Token = Mask(r.Telegram.Token)
	return r
}

// Mask keeps the last four characters of long secrets.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
