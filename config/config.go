// Package config loads settings from an optional file and CUSTODYLEDGER_*
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, with dots in keys becoming
// underscores: node.url is CUSTODYLEDGER_NODE_URL.
const EnvPrefix = "CUSTODYLEDGER"

type Config struct {
	Log      Log      `mapstructure:"log"`
	Custody  Custody  `mapstructure:"custody"`
	Node     Node     `mapstructure:"node"`
	Submit   Submit   `mapstructure:"submit"`
	Group    Group    `mapstructure:"group"`
	Custodyd Custodyd `mapstructure:"custodyd"`
	Devnet   Devnet   `mapstructure:"devnet"`
}

type Log struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type Custody struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxRetries      uint64        `mapstructure:"max_retries" validate:"lte=10"`
	BreakerFailures uint32        `mapstructure:"breaker_failures" validate:"gte=1"`
}

type Node struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type Submit struct {
	MaxRounds uint64 `mapstructure:"max_rounds" validate:"gte=1,lte=1000"`
}

type Group struct {
	Concurrency int `mapstructure:"concurrency" validate:"gte=1,lte=16"`
}

// Custodyd configures the development custody server.
type Custodyd struct {
	Listen     string `mapstructure:"listen" validate:"hostname_port"`
	KeyDir     string `mapstructure:"key_dir"`
	Passphrase string `mapstructure:"passphrase" validate:"required_with=KeyDir"`
}

// Devnet configures the development node.
type Devnet struct {
	Listen        string        `mapstructure:"listen" validate:"hostname_port"`
	DataDir       string        `mapstructure:"data_dir"`
	GenesisID     string        `mapstructure:"genesis_id" validate:"required"`
	BlockInterval time.Duration `mapstructure:"block_interval" validate:"gt=0"`
	MinFee        uint64        `mapstructure:"min_fee"`
}

// SetDefaults registers a default for every key, which also makes every key
// visible to environment lookup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("custody.url", "")
	v.SetDefault("custody.timeout", 30*time.Second)
	v.SetDefault("custody.max_retries", 3)
	v.SetDefault("custody.breaker_failures", 5)

	v.SetDefault("node.url", "http://localhost:4001")
	v.SetDefault("node.token", "")
	v.SetDefault("node.timeout", 30*time.Second)

	v.SetDefault("submit.max_rounds", 10)
	v.SetDefault("group.concurrency", 4)

	v.SetDefault("custodyd.listen", "localhost:4100")
	v.SetDefault("custodyd.key_dir", "")
	v.SetDefault("custodyd.passphrase", "")

	v.SetDefault("devnet.listen", "localhost:4001")
	v.SetDefault("devnet.data_dir", "")
	v.SetDefault("devnet.genesis_id", "devnet-v1")
	v.SetDefault("devnet.block_interval", 2*time.Second)
	v.SetDefault("devnet.min_fee", 1000)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file, when given, into v and returns the validated settings.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and reports every violation by key.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
