package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/hhledger/internal/logger"
	"github.com/nkiryanov/hhledger/internal/service/ledger"
)

const (
	defaultListenAddr         = "localhost:8000"
	defaultLoggingLevel       = logger.LevelInfo
	defaultEnvironment        = logger.EnvironmentProduction
	defaultTimezone           = "Asia/Seoul"
	defaultDailyResetInterval = time.Minute
	defaultRedisPoolSize      = 10
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the ledger service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Redis address for the coupon sold-out gate; empty disables the gate
	RedisAddr string

	// Redis connections pool size
	RedisPoolSize int

	// Secret key
	// Access tokens are signed with symmetric algorithm, so this key is used for that purpose
	SecretKey string

	// Environment
	Environment string

	// Balance limits in the smallest currency unit
	DailyChargeLimit int64
	MaxBalance       int64
	MinChargeAmount  int64

	// IANA time zone name; calendar days of the daily charge limit are counted in it
	Timezone string

	// How often stale daily charged amounts are reset
	DailyResetInterval time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:           defaultLoggingLevel,
		ListenAddr:         defaultListenAddr,
		Environment:        defaultEnvironment,
		RedisPoolSize:      defaultRedisPoolSize,
		DailyChargeLimit:   ledger.DefaultDailyChargeLimit,
		MaxBalance:         ledger.DefaultMaxBalance,
		MinChargeAmount:    ledger.DefaultMinChargeAmount,
		Timezone:           defaultTimezone,
		DailyResetInterval: defaultDailyResetInterval,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setInt64 := func(o *int64) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			v, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = v
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"REDIS_ADDRESS":        setString(&c.RedisAddr),
		"SECRET_KEY":           setString(&c.SecretKey),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
		"DAILY_CHARGE_LIMIT":   setInt64(&c.DailyChargeLimit),
		"MAX_BALANCE":          setInt64(&c.MaxBalance),
		"MIN_CHARGE_AMOUNT":    setInt64(&c.MinChargeAmount),
		"TIMEZONE":             setString(&c.Timezone),
		"DAILY_RESET_INTERVAL": setDuration(&c.DailyResetInterval),
	}

	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	return nil
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("ledger", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.RedisAddr, "redis", "r", c.RedisAddr, "Redis address for coupon sold-out gate (empty disables it)")
	fs.IntVar(&c.RedisPoolSize, "redis-pool-size", c.RedisPoolSize, "Redis connections pool size")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.Int64Var(&c.DailyChargeLimit, "daily-charge-limit", c.DailyChargeLimit, "Max amount charged per owner per day")
	fs.Int64Var(&c.MaxBalance, "max-balance", c.MaxBalance, "Max balance an owner may hold")
	fs.Int64Var(&c.MinChargeAmount, "min-charge-amount", c.MinChargeAmount, "Min amount of a single charge")
	fs.StringVar(&c.Timezone, "timezone", c.Timezone, "Time zone of the daily charge limit")
	fs.DurationVar(&c.DailyResetInterval, "daily-reset-interval", c.DailyResetInterval, "How often stale daily charged amounts are reset")

	return fs.Parse(args)
}

// Validate checks required options and returns time zone location
func (c *Config) Validate() (*time.Location, error) {
	switch {
	case c.SecretKey == "":
		return nil, errors.New("secret key is required")
	case c.DatabaseDSN == "":
		return nil, errors.New("database uri is required")
	case c.DailyChargeLimit <= 0 || c.MaxBalance <= 0 || c.MinChargeAmount <= 0:
		return nil, errors.New("balance limits must be positive")
	case c.MinChargeAmount > c.DailyChargeLimit:
		return nil, errors.New("min charge amount must not exceed daily charge limit")
	case c.RedisAddr != "" && c.RedisPoolSize <= 0:
		return nil, errors.New("redis pool size must be positive")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	return loc, nil
}
