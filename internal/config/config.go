package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigName is the JSON config file looked up in the config directory.
const ConfigName = "scenelink.cfg.json"

// StorageConfig selects and configures the cache backend.
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Key      string         `json:"key" mapstructure:"key"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `json:"postgres" mapstructure:"postgres"`
	Redis    RedisConfig    `json:"redis" mapstructure:"redis"`
}

// SQLiteConfig holds settings for the SQLite cache backend.
type SQLiteConfig struct {
	Path string `json:"path" mapstructure:"path"`
}

// PostgresConfig holds connection settings for the Postgres cache backend.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// DSN renders the libpq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=disable`,
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// RedisConfig holds settings for the Redis cache backend.
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
}

// SetDefaults registers every default value.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("link.baseUrl", "http://localhost:5173/viewer")

	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.key", "ar_experience_data")
	viper.SetDefault("storage.sqlite.path", "./scenelink.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "scenelink")
	viper.SetDefault("storage.redis.addr", "localhost:6379")
	viper.SetDefault("storage.redis.password", "")
	viper.SetDefault("storage.redis.db", 0)

	viper.SetDefault("export.dir", ".")
	viper.SetDefault("binding.dir", "./bindings")
	viper.SetDefault("seed.path", "public/ar_database.json")

	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("viewer.dragSpeed", 5.0)
	viper.SetDefault("viewer.lockPath", "./scenelink-viewer.lock")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
}

// Load reads .env (if present), environment overrides prefixed SCENELINK_
// and the JSON config file in configDir. A missing config file is not an
// error; defaults apply.
func Load(configDir string) error {
	_ = godotenv.Load()

	SetDefaults()

	viper.SetEnvPrefix("SCENELINK")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(ConfigName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// BindFlags lets command-line flags override config values. Flag names use
// the config keys ("log-level" binds "logLevel").
func BindFlags(flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"logLevel":     "log-level",
		"storage.type": "storage",
		"link.baseUrl": "base-url",
		"http.addr":    "addr",
		"export.dir":   "export-dir",
	}
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Key:  viper.GetString("storage.key"),
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("storage.redis.addr"),
			Password: viper.GetString("storage.redis.password"),
			DB:       viper.GetInt("storage.redis.db"),
		},
	}
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat64 returns a float config value.
func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}
