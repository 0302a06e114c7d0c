package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Warehouse DatabaseConfig  `mapstructure:"warehouse"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Email     EmailConfig     `mapstructure:"email"`
	NATS      NATSConfig      `mapstructure:"nats"`
	JWTSecret string          `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
}

// SchedulerConfig controls the periodic run-all job. TableTimeout bounds a
// single table's fetch+validate; BatchTimeout bounds a whole run-all batch.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	CronSpec     string        `mapstructure:"cron_spec"`
	TableTimeout time.Duration `mapstructure:"table_timeout"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// ConnString returns the PostgreSQL connection string.
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8000)
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "idx_validation")
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("warehouse.host", "localhost")
	viper.SetDefault("warehouse.port", 5432)
	viper.SetDefault("warehouse.name", "idx_warehouse")
	viper.SetDefault("warehouse.pool_size", 10)
	viper.SetDefault("scheduler.enabled", false)
	viper.SetDefault("scheduler.cron_spec", "0 6 * * *")
	viper.SetDefault("scheduler.table_timeout", 5*time.Minute)
	viper.SetDefault("scheduler.batch_timeout", 20*time.Minute)
	viper.SetDefault("email.enabled", false)
	viper.SetDefault("email.port", 587)
	viper.SetDefault("nats.url", "")
	viper.SetDefault("jwt_secret", "changeme-secret")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
