// Package config loads service configuration from config.yaml with
// environment overrides.
package config

import (
	"github.com/kartoteket/kundeimport/internal/db"
	"github.com/kartoteket/kundeimport/internal/importer"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Database       db.Config
	ListenAddr     string
	AllowedOrigins []string
	MigrationsPath string
	MaxFileSizeMB  int64
	PhoneRegion    string
	LogLevel       string
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Database:       db.DefaultConfig(),
		ListenAddr:     ":8080",
		AllowedOrigins: []string{"http://localhost:3000"},
		MigrationsPath: "./migrations",
		MaxFileSizeMB:  32,
		PhoneRegion:    "NO",
		LogLevel:       "info",
	}
}

// ImporterOptions derives pipeline options from the configuration.
func (c Config) ImporterOptions() importer.Options {
	opts := importer.DefaultOptions()
	opts.MaxFileSize = c.MaxFileSizeMB << 20
	opts.Cleaner.PhoneRegion = c.PhoneRegion
	return opts
}

// Load reads config.yaml from configPath, falling back to defaults, with
// environment overrides mapped through the IMPORT prefix (IMPORT_DATABASE_HOST,
// IMPORT_SERVER_ADDR, ...).
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("IMPORT")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("server.allowed_origins")
	v.BindEnv("import.max_file_size_mb")
	v.BindEnv("import.phone_region")
	v.BindEnv("log.level")

	if err := v.ReadInConfig(); err != nil {
		logrus.Info("no config.yaml found, using defaults and env vars")
	} else {
		logrus.WithField("file", v.ConfigFileUsed()).Info("loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.ListenAddr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("migrations.path") {
		cfg.MigrationsPath = v.GetString("migrations.path")
	}
	if v.IsSet("import.max_file_size_mb") {
		cfg.MaxFileSizeMB = v.GetInt64("import.max_file_size_mb")
	}
	if v.IsSet("import.phone_region") {
		cfg.PhoneRegion = v.GetString("import.phone_region")
	}
	if v.IsSet("log.level") {
		cfg.LogLevel = v.GetString("log.level")
	}

	return cfg, nil
}
