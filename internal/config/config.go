// Package config loads settings from defaults, an optional config/.env.<env>
// file and GE_-prefixed environment variables, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Env       string `mapstructure:"env"`
	Debug     bool   `mapstructure:"debug"`
	Addr      string `mapstructure:"addr"`
	Commit    string `mapstructure:"commit"`
	BuildTime string `mapstructure:"build_time"`
	JWTSecret string `mapstructure:"jwt_secret"`
	SeedFile  string `mapstructure:"seed_file"`

	DB struct {
		Driver        string `mapstructure:"driver"`
		DSN           string `mapstructure:"dsn"`
		MigrationsDir string `mapstructure:"migrations_dir"`
	} `mapstructure:"db"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Prefix   string `mapstructure:"prefix"`
	} `mapstructure:"redis"`

	Queue struct {
		// Driver is "redis" or "memory". The memory queue runs the worker
		// pool inside the server process.
		Driver string        `mapstructure:"driver"`
		Delay  time.Duration `mapstructure:"delay"`
	} `mapstructure:"queue"`

	Worker struct {
		MaxConcurrency int           `mapstructure:"max_concurrency"`
		MaxAttempts    int           `mapstructure:"max_attempts"`
		PollTimeout    time.Duration `mapstructure:"poll_timeout"`
		RetryInitial   time.Duration `mapstructure:"retry_initial"`
		RetryMax       time.Duration `mapstructure:"retry_max"`
	} `mapstructure:"worker"`

	Averages struct {
		Window    int     `mapstructure:"window"`
		Tolerance float64 `mapstructure:"tolerance"`
		CacheSize int     `mapstructure:"cache_size"`
	} `mapstructure:"averages"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Rollbar struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"rollbar"`
}

// IsDev reports whether the process runs with local development settings.
func (c *Config) IsDev() bool { return c.Env == "DEV" }

func setDefaults(v *viper.Viper, env string) {
	v.SetDefault("env", env)
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("addr", ":8080")
	v.SetDefault("commit", "")
	v.SetDefault("build_time", "")
	v.SetDefault("jwt_secret", "goodenergy-dev-secret")
	v.SetDefault("seed_file", "")

	v.SetDefault("db.driver", "sqlite3")
	v.SetDefault("db.dsn", "file:goodenergy.db?_busy_timeout=5000")
	v.SetDefault("db.migrations_dir", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "goodenergy:jobs")

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.delay", time.Duration(0))

	v.SetDefault("worker.max_concurrency", 4)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.poll_timeout", 2*time.Second)
	v.SetDefault("worker.retry_initial", time.Second)
	v.SetDefault("worker.retry_max", time.Minute)

	v.SetDefault("averages.window", 30)
	v.SetDefault("averages.tolerance", 5.0)
	v.SetDefault("averages.cache_size", 256)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "")

	v.SetDefault("rollbar.token", "")
}

// Load reads the configuration. ENV selects DEV (default), TEST, QA or PROD.
func Load() (*Config, error) {
	env := strings.ToUpper(strings.TrimSpace(os.Getenv("ENV")))
	if env == "" {
		env = "DEV"
	}
	if err := loadDotEnv(env); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	setDefaults(v, env)
	v.SetEnvPrefix("GE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads config/.env.<env> if it exists. Variables already set win.
func loadDotEnv(env string) error {
	wd, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "getwd")
	}
	path := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "stat %s", path)
	}
	return errors.Wrapf(godotenv.Load(path), "load %s", path)
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "sqlite3", "pgx":
	default:
		return errors.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	switch c.Queue.Driver {
	case "redis", "memory":
	default:
		return errors.Errorf("unsupported queue driver %q", c.Queue.Driver)
	}
	if c.Env == "PROD" && c.JWTSecret == "goodenergy-dev-secret" {
		return errors.New("GE_JWT_SECRET must be set in PROD")
	}
	return nil
}
