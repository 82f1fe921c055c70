// Package config loads cellfit settings from an optional config file, CELLFIT_
// environment variables and built-in defaults, then validates the result.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	validator "gopkg.in/go-playground/validator.v9"
)

// EnvPrefix is prepended to every environment override, e.g. CELLFIT_BLOB_DRIVER.
const EnvPrefix = "CELLFIT"

// Config is the full runtime configuration.
type Config struct {
	Log    Log    `mapstructure:"log"`
	Blob   Blob   `mapstructure:"blob"`
	Store  Store  `mapstructure:"store"`
	HTTP   HTTP   `mapstructure:"http"`
	Worker Worker `mapstructure:"worker"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Blob selects where fit documents are read from and exports are written to.
type Blob struct {
	Driver string `mapstructure:"driver" validate:"oneof=fs s3 memory"`
	FS     FSBlob `mapstructure:"fs"`
	S3     S3Blob `mapstructure:"s3"`
}

type FSBlob struct {
	Root string `mapstructure:"root"`
}

type S3Blob struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint" validate:"omitempty,url"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Store selects the fit record backend.
type Store struct {
	Driver   string   `mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	SQLite   SQLite   `mapstructure:"sqlite"`
	Postgres Postgres `mapstructure:"postgres"`
}

type SQLite struct {
	Path string `mapstructure:"path"`
}

type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

type HTTP struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type Worker struct {
	QueueSize int `mapstructure:"queue_size" validate:"gt=0"`
	Retention int `mapstructure:"retention" validate:"gt=0"`
}

var validate = validator.New()

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.fs.root", "./blobdata")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "us-east-1")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.path_style", false)
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.sqlite.path", "cellfit.db")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("worker.queue_size", 32)
	v.SetDefault("worker.retention", 1024)
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path when it is non-empty, applies environment overrides and
// validates the outcome.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// Default returns the built-in configuration without consulting the environment.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := FromViper(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and driver-specific requirements.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return errors.New("invalid config: blob.s3.bucket required for s3 driver")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return errors.New("invalid config: store.sqlite.path required for sqlite driver")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("invalid config: store.postgres.dsn required for postgres driver")
		}
	}
	return nil
}
