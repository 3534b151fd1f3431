package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string         `mapstructure:"port"`
	Env      string         `mapstructure:"app_env"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"db"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Quiz     QuizConfig     `mapstructure:"quiz"`
	Email    EmailConfig    `mapstructure:"email"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type QuizConfig struct {
	MaxSessions   int           `mapstructure:"max_sessions"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type EmailConfig struct {
	PostmarkToken string `mapstructure:"postmark_token"`
	From          string `mapstructure:"from"`
}

// IsDevelopment reports whether error details may be exposed to clients.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Env, "development")
}

// env maps config keys to the environment variables that override them.
var env = map[string]string{
	"port":                 "PORT",
	"app_env":              "APP_ENV",
	"log.level":            "LOG_LEVEL",
	"log.file":             "LOG_FILE",
	"db.driver":            "DB_DRIVER",
	"db.path":              "DB_PATH",
	"db.host":              "DB_HOST",
	"db.port":              "DB_PORT",
	"db.user":              "DB_USER",
	"db.password":          "DB_PASSWORD",
	"db.name":              "DB_NAME",
	"jwt.secret":           "JWT_SECRET",
	"jwt.ttl":              "JWT_TTL",
	"redis.addr":           "REDIS_ADDR",
	"redis.password":       "REDIS_PASSWORD",
	"redis.db":             "REDIS_DB",
	"quiz.max_sessions":    "QUIZ_MAX_SESSIONS",
	"quiz.sweep_interval":  "QUIZ_SWEEP_INTERVAL",
	"email.postmark_token": "POSTMARK_SERVER_TOKEN",
	"email.from":           "EMAIL_FROM",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("app_env", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "vitisco.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.user", "root")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "vitisco")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 30*24*time.Hour)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("quiz.max_sessions", 1024)
	v.SetDefault("quiz.sweep_interval", time.Second)
	v.SetDefault("email.postmark_token", "")
	v.SetDefault("email.from", "noreply@vitisco.app")
}

// Load reads configuration from defaults, an optional YAML file at path,
// and the environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Quiz.MaxSessions <= 0 {
		return fmt.Errorf("QUIZ_MAX_SESSIONS must be > 0")
	}
	if c.Quiz.SweepInterval <= 0 {
		return fmt.Errorf("QUIZ_SWEEP_INTERVAL must be > 0")
	}
	return nil
}
