package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	CORSAllowedOrigins []string

	// Per-IP limit on POST /chat. Zero disables.
	ChatRateLimitPerMinute int
	ChatRateLimitBurst     int
	StaffJWTSecret         string

	// Gemini
	GeminiAPIKey    string
	GeminiTextModel string
	GeminiLiveModel string
	GeminiLiveURL   string
	GeminiVoice     string

	// Interview session lifecycle
	SessionMaxAge        time.Duration
	SessionSweepInterval time.Duration
	TurnTimeout          time.Duration

	// Audio
	FFmpegPath          string
	ReplyAudioContainer string

	// Persistence
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	RedisTLS             bool
	AWSRegion            string
	AWSAccessKeyID       string
	AWSSecretAccessKey   string
	AWSEndpointOverride  string
	SummaryArchiveBucket string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	CareTeamEmail     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "3000"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),

		ChatRateLimitPerMinute: getEnvAsInt("CHAT_RATE_LIMIT_PER_MINUTE", 60),
		ChatRateLimitBurst:     getEnvAsInt("CHAT_RATE_LIMIT_BURST", 10),
		StaffJWTSecret:         getEnv("STAFF_JWT_SECRET", ""),

		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiTextModel: getEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash"),
		GeminiLiveModel: getEnv("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		GeminiLiveURL:   getEnv("GEMINI_LIVE_URL", ""),
		GeminiVoice:     getEnv("GEMINI_VOICE", "Zephyr"),

		SessionMaxAge:        getEnvAsDuration("SESSION_MAX_AGE", 30*time.Minute),
		SessionSweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		TurnTimeout:          getEnvAsDuration("TURN_TIMEOUT", 60*time.Second),

		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		ReplyAudioContainer: strings.ToLower(strings.TrimSpace(getEnv("REPLY_AUDIO_CONTAINER", "wav"))),

		DatabaseURL:          getEnv("DATABASE_URL", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisTLS:             getEnvAsBool("REDIS_TLS", false),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:  getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SummaryArchiveBucket: getEnv("SUMMARY_ARCHIVE_BUCKET", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Telehealth Intake"),
		CareTeamEmail:     getEnv("CARE_TEAM_EMAIL", ""),
	}
}

// GeminiConfigured reports whether an API key is present.
func (c *Config) GeminiConfigured() bool {
	return c != nil && strings.TrimSpace(c.GeminiAPIKey) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(strings.TrimSpace(valueStr)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
