package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all runtime configuration for the exchange.
type Config struct {
	Port            int
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	SeedFile string // empty means the built-in development seed
	StoreDir string // empty means accounts live in memory only

	KafkaBrokers   []string // empty means trades are logged, not published
	KafkaTopic     string
	PublishTimeout time.Duration

	MaxPrice     uint64
	MaxQuantity  uint64
	TradeHistory int
	DepthStream  int // levels per side pushed to websocket clients, 0 for all

	CORSOrigins []string
	BcryptCost  int
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
//
// Variables from the file named by ENV_FILE (default ".env") are loaded
// first when that file exists. They never override variables already set
// in the environment.
func Load() (*Config, error) {
	if err := loadEnvFile(getStr("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d, must be between 1 and 65535", port)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	publishTimeout, err := getDuration("PUBLISH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PUBLISH_TIMEOUT: %w", err)
	}

	maxPrice, err := getUint("MAX_PRICE", 1_000_000_000)
	if err != nil || maxPrice == 0 {
		return nil, errors.New("invalid MAX_PRICE: must be a positive integer")
	}

	maxQuantity, err := getUint("MAX_QUANTITY", 1_000_000_000)
	if err != nil || maxQuantity == 0 {
		return nil, errors.New("invalid MAX_QUANTITY: must be a positive integer")
	}

	tradeHistory, err := getInt("TRADE_HISTORY", 1000)
	if err != nil || tradeHistory < 1 {
		return nil, errors.New("invalid TRADE_HISTORY: must be a positive integer")
	}

	depthStream, err := getInt("DEPTH_STREAM_LIMIT", 50)
	if err != nil || depthStream < 0 {
		return nil, errors.New("invalid DEPTH_STREAM_LIMIT: must be a non-negative integer")
	}

	bcryptCost, err := getInt("BCRYPT_COST", bcrypt.DefaultCost)
	if err != nil || bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("invalid BCRYPT_COST: must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
		SeedFile:        getStr("SEED_FILE", ""),
		StoreDir:        getStr("STORE_DIR", ""),
		KafkaBrokers:    getList("KAFKA_BROKERS"),
		KafkaTopic:      getStr("KAFKA_TOPIC", "trades"),
		PublishTimeout:  publishTimeout,
		MaxPrice:        maxPrice,
		MaxQuantity:     maxQuantity,
		TradeHistory:    tradeHistory,
		DepthStream:     depthStream,
		CORSOrigins:     getList("CORS_ORIGINS"),
		BcryptCost:      bcryptCost,
	}, nil
}

// loadEnvFile loads path into the environment. A missing file is not an
// error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getUint(key string, defaultVal uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

// getList splits a comma-separated variable, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
