package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DefaultProvider string
	PrettyPrint     bool
	LogLevel        string

	TrackerEndpoint string
	TrackerTimeout  time.Duration
	DebugDir        string
	KafkaBrokers    []string
	KafkaTopic      string

	Workers               int
	JobTimeout            time.Duration
	MaxRetries            int
	RateLimits            string
	DropFarelessProviders string

	Proxy ProxyConfig
	Redis RedisConfig

	LockPollInterval time.Duration
	LockTimeout      time.Duration

	AviancaAuthorizationCode string
	QatarBearerToken         string
	QatarDeviceID            string
	EtihadXDTokens           []string
	VirginCookiesURL         string
	AACID                    string
	AAXSRFToken              string
	AAReferer                string

	ThaiAccounts      []ThaiAccount
	ThaiZoneDirection string
	MailosaurAPIKey   string
	MailosaurSentFrom string
	OTPDelay          time.Duration
	OTPInterval       time.Duration
	OTPTimeout        time.Duration
}

type ProxyConfig struct {
	Host            string
	Port            string
	Username        string
	Password        string
	SessionIDPrefix string
	SessionTime     int
	SessionCount    int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type ThaiAccount struct {
	MemberID string
	Password string
}

// LoadEnv reads .env into the process environment. Variables that are
// already set win.
func LoadEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment file", "path", path)
			return
		}
	}
	slog.Debug("no .env file found, using environment variables")
}

func Load() (Config, error) {
	LoadEnv()

	accounts, err := ParseThaiAccounts(getEnv("THAI_ACCOUNTS", ""))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:            getEnv("PORT", "3000"),
		DefaultProvider: strings.ToLower(getEnv("DEFAULT_PROVIDER", "avianca")),
		PrettyPrint:     getEnvBool("PRETTY_PRINT", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		TrackerEndpoint: getEnv("REWARD_SEAT_TRACKER_ENDPOINT", ""),
		TrackerTimeout:  getEnvDuration("REWARD_SEAT_TRACKER_TIMEOUT", 15*time.Second),
		DebugDir:        getEnv("DEBUG_DIR", "debug"),
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "award-search.jobs"),

		Workers:               getEnvInt("WORKERS", 8),
		JobTimeout:            getEnvDuration("JOB_TIMEOUT", 2*time.Minute),
		MaxRetries:            getEnvInt("MAX_RETRIES", 3),
		RateLimits:            getEnv("RATE_LIMITS", ""),
		DropFarelessProviders: getEnv("DROP_FARELESS_PROVIDERS", ""),

		Proxy: ProxyConfig{
			Host:            getEnv("PROXY_HOST", ""),
			Port:            getEnv("PROXY_PORT", ""),
			Username:        getEnv("PROXY_USERNAME", ""),
			Password:        getEnv("PROXY_PASSWORD", ""),
			SessionIDPrefix: getEnv("PROXY_SESSION_PREFIX", "award"),
			SessionTime:     getEnvInt("PROXY_SESSION_TIME", 30),
			SessionCount:    getEnvInt("PROXY_SESSION_COUNT", 10),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},

		LockPollInterval: getEnvDuration("LOCK_POLL_INTERVAL", 100*time.Millisecond),
		LockTimeout:      getEnvDuration("LOCK_TIMEOUT", 7*time.Second),

		AviancaAuthorizationCode: getEnv("AVIANCA_AUTHORIZATION_CODE", ""),
		QatarBearerToken:         getEnv("QATAR_BEARER_TOKEN", ""),
		QatarDeviceID:            getEnv("QATAR_DEVICE_ID", ""),
		EtihadXDTokens:           splitList(getEnv("ETIHAD_XD_TOKENS", "")),
		VirginCookiesURL:         getEnv("VIRGIN_COOKIES_URL", ""),
		AACID:                    getEnv("AA_CID", ""),
		AAXSRFToken:              getEnv("AA_XSRF_TOKEN", ""),
		AAReferer:                getEnv("AA_REFERER", ""),

		ThaiAccounts:      accounts,
		ThaiZoneDirection: getEnv("THAI_ZONE_DIRECTION", ""),
		MailosaurAPIKey:   getEnv("MAILOSAUR_API_KEY", ""),
		MailosaurSentFrom: getEnv("MAILOSAUR_SENT_FROM", ""),
		OTPDelay:          getEnvDuration("OTP_DELAY", 3*time.Second),
		OTPInterval:       getEnvDuration("OTP_INTERVAL", 500*time.Millisecond),
		OTPTimeout:        getEnvDuration("OTP_TIMEOUT", 7*time.Second),
	}

	if cfg.Workers <= 0 {
		return Config{}, errors.New("WORKERS must be positive")
	}
	return cfg, nil
}

// ParseThaiAccounts reads "member:password,member:password".
func ParseThaiAccounts(s string) ([]ThaiAccount, error) {
	var accounts []ThaiAccount
	for _, part := range splitList(s) {
		member, password, ok := strings.Cut(part, ":")
		if !ok || member == "" || password == "" {
			return nil, fmt.Errorf("THAI_ACCOUNTS entry %q: want member:password", part)
		}
		accounts = append(accounts, ThaiAccount{MemberID: member, Password: password})
	}
	return accounts, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.ToLower(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return duration
}
