package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Email     EmailConfig     `mapstructure:"email"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Signup    SignupConfig    `mapstructure:"signup"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Hours     HoursConfig     `mapstructure:"hours"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Mode is one of debug, test, release. Inter-app and cron guards are
	// only enforced in release mode.
	Mode string `mapstructure:"mode"`
	// BaseURL is the externally visible URL of this app, used when
	// building links for emails and processor return URLs.
	BaseURL string `mapstructure:"base_url"`
}

func (s ServerConfig) IsProd() bool {
	return s.Mode == "release"
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// From is the default sender for transactional mail.
	From string `mapstructure:"from"`
	// BillingFrom is the sender used for billing reminder campaigns.
	BillingFrom string `mapstructure:"billing_from"`
	// OpsEmail receives operator alerts (task failures, paypal cancellations).
	OpsEmail string `mapstructure:"ops_email"`
	// HelpEmail is shown to users in error messages.
	HelpEmail string `mapstructure:"help_email"`
}

type BillingConfig struct {
	// Account is the processor account short-name, part of every API path.
	Account string `mapstructure:"account"`
	// APIBase is the processor REST endpoint, e.g. https://subs.pinpayments.com/api/v4
	APIBase string `mapstructure:"api_base"`
	// SubscribeBase is the hosted payment-page base URL.
	SubscribeBase string `mapstructure:"subscribe_base"`
	// GiftCredit is the amount credited when a valid gift code is redeemed.
	GiftCredit float64 `mapstructure:"gift_credit"`
}

type DirectoryConfig struct {
	// Host of the directory/door-access application.
	Host string `mapstructure:"host"`
}

type SignupConfig struct {
	// PlanGraceDays is how long a suspended or never-activated member still
	// counts against plan capacity.
	PlanGraceDays int `mapstructure:"plan_grace_days"`
	// LegacyGraceDays is how long a lapsed member may re-subscribe at a
	// grandfathered rate before being moved to the modern plan.
	LegacyGraceDays int `mapstructure:"legacy_grace_days"`
	// HiveLimit caps the number of members on the desk plans.
	HiveLimit int `mapstructure:"hive_limit"`
	// LiteVisits is the monthly signin allowance on the lite plan.
	LiteVisits int `mapstructure:"lite_visits"`
	// Domain is the workspace apps domain used for member addresses.
	Domain string `mapstructure:"domain"`
	// DefaultPlan is chosen when a signup arrives without a plan parameter.
	DefaultPlan string `mapstructure:"default_plan"`
}

type AuthConfig struct {
	// BcryptCost may be lowered in test configs; production uses the default.
	BcryptCost int `mapstructure:"bcrypt_cost"`
	// AuthorizedApps may redeem cross-app trust tokens.
	AuthorizedApps []string `mapstructure:"authorized_apps"`
	// ResetTokenHours is the password reset token lifetime.
	ResetTokenHours int `mapstructure:"reset_token_hours"`
}

type HoursConfig struct {
	// Open and Close bound the hours during which signins are counted.
	Open  int `mapstructure:"open"`
	Close int `mapstructure:"close"`
	// CountWeekends enables signin counting on Saturday and Sunday.
	CountWeekends bool `mapstructure:"count_weekends"`
	// Timezone for the operating-hours window, e.g. America/Los_Angeles.
	Timezone string `mapstructure:"timezone"`
}

type QueueConfig struct {
	TaskQueue  string `mapstructure:"task_queue"`
	MaxWorkers int    `mapstructure:"max_workers"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type SecretsConfig struct {
	// MasterKey encrypts secrets at rest. 16, 24 or 32 bytes after decoding.
	MasterKey string `mapstructure:"master_key"`
}

func Load(configPath string) (*Config, error) {
	// Prefer config.local.yaml when present; it holds real keys and stays
	// out of version control.
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("signup.plan_grace_days", 30)
	viper.SetDefault("signup.legacy_grace_days", 30)
	viper.SetDefault("signup.hive_limit", 42)
	viper.SetDefault("signup.lite_visits", 10)
	viper.SetDefault("signup.default_plan", "newfull")
	viper.SetDefault("auth.reset_token_hours", 24)
	viper.SetDefault("hours.open", 9)
	viper.SetDefault("hours.close", 21)
	viper.SetDefault("hours.timezone", "America/Los_Angeles")
	viper.SetDefault("queue.task_queue", "memberd:tasks")
	viper.SetDefault("queue.max_workers", 4)
	viper.SetDefault("queue.max_retries", 5)
	viper.SetDefault("billing.gift_credit", 95.0)
}
