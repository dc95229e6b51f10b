package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Matcher  MatcherConfig  `mapstructure:"matcher"`
	Instance InstanceConfig `mapstructure:"instance"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	StreamPort int    `mapstructure:"stream_port"`
	Host       string `mapstructure:"host"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MySQLConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type MatcherConfig struct {
	// LossTimeout is the default deadline for submissions that arrive
	// without an explicit one, after which the loss is inferred.
	LossTimeout time.Duration `mapstructure:"loss_timeout"`
	// WinTimeout is how long finished wins are retained for late
	// delivery events.
	WinTimeout time.Duration `mapstructure:"win_timeout"`
	// AuctionTimeout is how long finished losses are retained for late
	// win notices.
	AuctionTimeout time.Duration `mapstructure:"auction_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	// ForceWinUnknown settles really-late wins for unknown auctions
	// without a reservation when the event names an account.
	ForceWinUnknown bool `mapstructure:"force_win_unknown"`
}

type InstanceConfig struct {
	ID string `mapstructure:"id"`
}

func Load() (*Config, error) {
	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.stream_port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("mysql.dsn", "postauction_user:postauction_pass@tcp(localhost:3306)/postauction_db?parseTime=true")
	viper.SetDefault("mysql.max_open_conns", 25)
	viper.SetDefault("mysql.max_idle_conns", 10)
	viper.SetDefault("mysql.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("matcher.loss_timeout", 15*time.Second)
	viper.SetDefault("matcher.win_timeout", time.Hour)
	viper.SetDefault("matcher.auction_timeout", 15*time.Minute)
	viper.SetDefault("matcher.sweep_interval", time.Second)
	viper.SetDefault("matcher.force_win_unknown", true)
	viper.SetDefault("instance.id", "matcher-service-1")

	// Configuration file settings
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/postauction-system/")

	// Environment variable support
	viper.AutomaticEnv()

	// Environment variable mappings
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.stream_port", "SERVER_STREAM_PORT")
	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("redis.address", "REDIS_ADDRESS")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("mysql.dsn", "MYSQL_DSN")
	viper.BindEnv("mysql.max_open_conns", "MYSQL_MAX_OPEN_CONNS")
	viper.BindEnv("mysql.max_idle_conns", "MYSQL_MAX_IDLE_CONNS")
	viper.BindEnv("mysql.conn_max_lifetime", "MYSQL_CONN_MAX_LIFETIME")
	viper.BindEnv("matcher.loss_timeout", "MATCHER_LOSS_TIMEOUT")
	viper.BindEnv("matcher.win_timeout", "MATCHER_WIN_TIMEOUT")
	viper.BindEnv("matcher.auction_timeout", "MATCHER_AUCTION_TIMEOUT")
	viper.BindEnv("matcher.sweep_interval", "MATCHER_SWEEP_INTERVAL")
	viper.BindEnv("matcher.force_win_unknown", "MATCHER_FORCE_WIN_UNKNOWN")
	viper.BindEnv("instance.id", "INSTANCE_ID")

	// Read configuration file (optional - will use defaults/env vars if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found, continue with defaults and environment variables
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// GetConfigString returns a formatted string representation of the config
func (c *Config) GetConfigString() string {
	return fmt.Sprintf(
		"Server: %s:%d, Redis: %s, MySQL: %s, Instance: %s",
		c.Server.Host,
		c.Server.Port,
		c.Redis.Address,
		c.MySQL.DSN,
		c.Instance.ID,
	)
}
