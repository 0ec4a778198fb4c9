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
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	StoreID               string
	TerminalID            string
	ActiveShiftTTLHours   int
	EventsChannel         string
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	LogFormat             string
}

// Load reads the environment. Values from an optional .env file fill in
// variables that are not already set.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("component", "config").Err(err).Msg("failed to read .env")
	}

	tokenTTL := getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480)
	shiftTTL := getEnvInt("ACTIVE_SHIFT_TTL_HOURS", 24)

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		StoreID:               getEnv("DEFAULT_STORE_ID", "main-store"),
		TerminalID:            getEnv("DEFAULT_TERMINAL_ID", "T1"),
		ActiveShiftTTLHours:   shiftTTL,
		EventsChannel:         getEnv("EVENTS_CHANNEL", "tillbook:reconciliation"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:             strings.ToLower(getEnv("LOG_FORMAT", "console")),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) ActiveShiftTTL() time.Duration {
	return time.Duration(c.ActiveShiftTTLHours) * time.Hour
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

// getEnvInt falls back on missing, malformed or non-positive values, except
// that zero is kept when the fallback itself is zero.
func getEnvInt(key string, fallback int) int {
	parsed, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || parsed < 0 || (parsed == 0 && fallback != 0) {
		return fallback
	}
	return parsed
}
