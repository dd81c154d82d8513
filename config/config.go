package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log       Logger    `mapstructure:"logger"`
	DB        Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	API       API       `mapstructure:"api"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Sweeper   Sweeper   `mapstructure:"sweeper"`
	Proxy     Proxy     `mapstructure:"proxy"`
	Alert     Alert     `mapstructure:"alert"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Database struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	TimeZone        string `mapstructure:"time_zone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type Scheduler struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxConcurrency   int           `mapstructure:"max_concurrency"`
	MisfireThreshold time.Duration `mapstructure:"misfire_threshold"`
	LockTTLMargin    time.Duration `mapstructure:"lock_ttl_margin"`
	LockKeyPrefix    string        `mapstructure:"lock_key_prefix"`
	StackTraceMaxLen int           `mapstructure:"stack_trace_max_len"`
}

type Sweeper struct {
	Interval      time.Duration `mapstructure:"interval"`
	RetentionDays int           `mapstructure:"retention_days"`
}

type Proxy struct {
	MaxRequestPerSecond int `mapstructure:"max_request_per_second"`
	ResponseBodyMaxLen  int `mapstructure:"response_body_max_len"`
}

type Alert struct {
	WebhookURL string `mapstructure:"webhook_url"`
	MinLevel   string `mapstructure:"min_level"`
}

type API struct {
	Port               int     `mapstructure:"port"`
	RateLimitPerSecond float64 `mapstructure:"rate_limit_per_second"`
	RateLimitBurst     int     `mapstructure:"rate_limit_burst"`
}

func Load() (*Config, error) {
	// .env is optional, used for local development only.
	_ = godotenv.Load()

	viper.SetConfigType("yaml")
	viper.SetConfigName("config")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("scheduler.poll_interval", 5*time.Second)
	viper.SetDefault("scheduler.max_concurrency", 10)
	viper.SetDefault("scheduler.misfire_threshold", time.Minute)
	viper.SetDefault("scheduler.lock_ttl_margin", 30*time.Second)
	viper.SetDefault("scheduler.lock_key_prefix", "batch:lock:")
	viper.SetDefault("scheduler.stack_trace_max_len", 4000)
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.rate_limit_per_second", 10)
	viper.SetDefault("api.rate_limit_burst", 30)
	viper.SetDefault("sweeper.interval", time.Minute)
	viper.SetDefault("sweeper.retention_days", 90)
	viper.SetDefault("proxy.max_request_per_second", 20)
	viper.SetDefault("proxy.response_body_max_len", 4000)
}
