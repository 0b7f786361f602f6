package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PublicURL  string
}

type Scheduler struct {
	DispatchInterval     time.Duration
	DispatchBatch        int
	TokenRefreshInterval time.Duration
	PublishConcurrency   int
	RetryDelay           time.Duration
	MaxRetries           int
}

type Timeouts struct {
	Status         time.Duration // container status checks, token introspection
	API            time.Duration // regular platform calls
	Media          time.Duration // media download and upload
	IGPollInterval time.Duration
	IGPollCeiling  time.Duration
}

type Config struct {
	FacebookAppID         string
	FacebookAppSecret     string
	FacebookRedirectURI   string
	GraphAPIVersion       string
	TwitterConsumerKey    string
	TwitterConsumerSecret string
	TwitterCallbackURL    string
	LinkedInClientID      string
	LinkedInClientSecret  string
	LinkedInRedirectURI   string
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	PostgresURI           string
	RedisURI              string
	FrontendURL           string
	HTTPAddr              string
	LogLevel              string
	R2                    R2
	SecretKey             string
	JWTSecret             string
	CookieName            string
	Scheduler             Scheduler
	Timeouts              Timeouts
}

func LoadConfig() *Config {
	return &Config{
		FacebookAppID:         getEnv("FACEBOOK_APP_ID", ""),
		FacebookAppSecret:     getEnv("FACEBOOK_APP_SECRET", ""),
		FacebookRedirectURI:   getEnv("FACEBOOK_REDIRECT_URI", ""),
		GraphAPIVersion:       getEnv("GRAPH_API_VERSION", "v21.0"),
		TwitterConsumerKey:    getEnv("TWITTER_CONSUMER_KEY", ""),
		TwitterConsumerSecret: getEnv("TWITTER_CONSUMER_SECRET", ""),
		TwitterCallbackURL:    getEnv("TWITTER_CALLBACK_URL", ""),
		LinkedInClientID:      getEnv("LINKEDIN_CLIENT_ID", ""),
		LinkedInClientSecret:  getEnv("LINKEDIN_CLIENT_SECRET", ""),
		LinkedInRedirectURI:   getEnv("LINKEDIN_REDIRECT_URI", ""),
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getEnv("GOOGLE_REDIRECT_URI", ""),
		PostgresURI:           getEnv("POSTGRES_URI", ""),
		RedisURI:              getEnv("REDIS_URI", "localhost:6379"),
		FrontendURL:           getEnv("FRONTEND_URL", "http://localhost:5173"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":3000"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		JWTSecret:  getEnv("JWT_SECRET", ""),
		CookieName: getEnv("COOKIE_NAME", "session"),
		Scheduler: Scheduler{
			DispatchInterval:     getEnvDuration("DISPATCH_INTERVAL", time.Minute),
			DispatchBatch:        getEnvInt("DISPATCH_BATCH", 10),
			TokenRefreshInterval: getEnvDuration("TOKEN_REFRESH_INTERVAL", 24*time.Hour),
			PublishConcurrency:   getEnvInt("PUBLISH_CONCURRENCY", 10),
			RetryDelay:           getEnvDuration("RETRY_DELAY", 5*time.Minute),
			MaxRetries:           getEnvInt("MAX_RETRIES", 3),
		},
		Timeouts: Timeouts{
			Status:         getEnvDuration("STATUS_TIMEOUT", 15*time.Second),
			API:            getEnvDuration("API_TIMEOUT", 60*time.Second),
			Media:          getEnvDuration("MEDIA_TIMEOUT", 5*time.Minute),
			IGPollInterval: getEnvDuration("IG_POLL_INTERVAL", 6*time.Second),
			IGPollCeiling:  getEnvDuration("IG_POLL_CEILING", 10*time.Minute),
		},
	}
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
		return defaultValue
	}
	return d
}
