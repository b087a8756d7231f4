package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Store      StoreConfig      `mapstructure:"store"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Automation AutomationConfig `mapstructure:"automation"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts"`
	Log        LogConfig        `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres sqlite memory"`
	DSN    string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	// Seed loads the default dataset on startup.
	Seed bool `mapstructure:"seed"`
}

// RedisConfig enables the Redis change broker when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type AuthConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	SessionSecret string        `mapstructure:"session_secret"`
	SecureCookie  bool          `mapstructure:"secure_cookie"`
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	TOTPIssuer    string        `mapstructure:"totp_issuer"`
	AdminUsername string        `mapstructure:"admin_username"`
	AdminPassword string        `mapstructure:"admin_password"`
}

type WebhookConfig struct {
	Secret string `mapstructure:"secret"`
}

type NotifyConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=1"`
	RetryAttempts   uint          `mapstructure:"retry_attempts" validate:"gte=1"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	SendTimeout     time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
	SilenceCacheTTL time.Duration `mapstructure:"silence_cache_ttl"`
	SMTPPassword    string        `mapstructure:"smtp_password"`
	SlackToken      string        `mapstructure:"slack_token"`
	VAPIDPublicKey  string        `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string        `mapstructure:"vapid_private_key"`
	VAPIDSubscriber string        `mapstructure:"vapid_subscriber"`
}

type AutomationConfig struct {
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	Executor         string        `mapstructure:"executor" validate:"oneof=dry-run shell"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	OutputLimit      int           `mapstructure:"output_limit" validate:"gt=0"`
}

type AnalysisConfig struct {
	Generator     string        `mapstructure:"generator" validate:"oneof=template openai"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	TemplatesFile string        `mapstructure:"templates_file"`
	OpenAIKey     string        `mapstructure:"openai_api_key" validate:"required_if=Generator openai"`
	OpenAIModel   string        `mapstructure:"openai_model"`
	OpenAIBaseURL string        `mapstructure:"openai_base_url"`
}

type ArtifactsConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=none dir minio"`
	Dir       string `mapstructure:"dir" validate:"required_if=Driver dir"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Driver minio"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Driver minio"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 0)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.cors_origins", []string{"*"})

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "sre-platform.db")
	v.SetDefault("store.seed", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("auth.secure_cookie", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.totp_issuer", "SRE Platform")
	v.SetDefault("auth.admin_username", "admin")
	v.SetDefault("auth.admin_password", "admin123")

	v.SetDefault("webhook.secret", "")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.concurrency", 4)
	v.SetDefault("notify.retry_attempts", 3)
	v.SetDefault("notify.retry_interval", 2*time.Second)
	v.SetDefault("notify.send_timeout", 10*time.Second)
	v.SetDefault("notify.silence_cache_ttl", 30*time.Second)
	v.SetDefault("notify.smtp_password", "")
	v.SetDefault("notify.slack_token", "")
	v.SetDefault("notify.vapid_public_key", "")
	v.SetDefault("notify.vapid_private_key", "")
	v.SetDefault("notify.vapid_subscriber", "")

	v.SetDefault("automation.scheduler_enabled", true)
	v.SetDefault("automation.executor", "dry-run")
	v.SetDefault("automation.timeout", 5*time.Minute)
	v.SetDefault("automation.output_limit", 64*1024)

	v.SetDefault("analysis.generator", "template")
	v.SetDefault("analysis.timeout", 45*time.Second)
	v.SetDefault("analysis.templates_file", "")
	v.SetDefault("analysis.openai_api_key", "")
	v.SetDefault("analysis.openai_model", "gpt-4o-mini")
	v.SetDefault("analysis.openai_base_url", "")

	v.SetDefault("artifacts.driver", "none")
	v.SetDefault("artifacts.dir", "")
	v.SetDefault("artifacts.endpoint", "")
	v.SetDefault("artifacts.access_key", "")
	v.SetDefault("artifacts.secret_key", "")
	v.SetDefault("artifacts.bucket", "")
	v.SetDefault("artifacts.use_ssl", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// legacyEnv keeps the plain variable names older deployments used.
var legacyEnv = map[string]string{
	"store.dsn":      "DATABASE_URL",
	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",
	"webhook.secret": "WEBHOOK_SECRET",
}

// Load reads the optional config file at path, then SRE_* environment
// variables, on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config error: %w", err)
		}
	}

	v.SetEnvPrefix("SRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		prefixed := "SRE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}
	return &c, nil
}
