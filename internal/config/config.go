package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	// StoreBackend selects the verification/session/identity store: "memory" | "dynamo".
	StoreBackend   string
	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	// RedisURL enables the shared heartbeat table and send limiter when set.
	RedisURL      string
	RedisPassword string
	RedisDB       int

	AuditBucket string // empty disables the S3 audit archive

	JWTPrivateKeyPath    string
	JWTPublicKeyPath     string
	VerificationTokenTTL time.Duration
	GoogleClientID       string

	SMTPHost     string
	SMTPPort     string
	SMTPFrom     string
	SMTPUsername string
	SMTPPassword string
	SNSRegion    string
	SNSSenderID  string

	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppTemplate      string
	WhatsAppAPIBase       string

	Verification VerificationConfig
	Session      SessionConfig
	Heartbeat    HeartbeatConfig

	AllowedOrigins []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Verifications string
	Sessions      string
	Identities    string
}

// VerificationConfig holds the OTP lifecycle and send-rate policy.
type VerificationConfig struct {
	CodeTTL          time.Duration
	MaxAttempts      int
	ChannelTimeout   time.Duration
	SendCooldown     time.Duration
	SendWindow       time.Duration
	SendMaxPerWindow int
	SweepInterval    time.Duration
	// ExposeCodes returns the code in send responses. Ignored when AppEnv is "production".
	ExposeCodes bool
}

type SessionConfig struct {
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
}

type HeartbeatConfig struct {
	LivenessWindow time.Duration
	EvictionWindow time.Duration
	SweepInterval  time.Duration
}

// IsProduction reports whether the app runs with production safeguards.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		StoreBackend:   getEnv("STORE_BACKEND", "memory"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Verifications: getEnv("DYNAMO_TABLE_VERIFICATIONS", "verifications"),
			Sessions:      getEnv("DYNAMO_TABLE_SESSIONS", "sessions"),
			Identities:    getEnv("DYNAMO_TABLE_IDENTITIES", "identities"),
		},
		RedisURL:             getEnv("REDIS_URL", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		AuditBucket:          getEnv("AUDIT_BUCKET", ""),
		JWTPrivateKeyPath:    getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:     getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		VerificationTokenTTL: getEnvDuration("VERIFICATION_TOKEN_TTL", 15*time.Minute),
		GoogleClientID:       getEnv("GOOGLE_CLIENT_ID", ""),
		SMTPHost:             getEnv("SMTP_HOST", "localhost"),
		SMTPPort:             getEnv("SMTP_PORT", "1025"),
		SMTPFrom:             getEnv("SMTP_FROM", "noreply@trinck.app"),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		SNSRegion:            getEnv("SNS_REGION", "us-east-1"),
		SNSSenderID:          getEnv("SNS_SENDER_ID", "TRINCK"),

		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppTemplate:      getEnv("WHATSAPP_TEMPLATE", "otp_verification"),
		WhatsAppAPIBase:       getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v18.0"),

		Verification: VerificationConfig{
			CodeTTL:          getEnvDuration("OTP_TTL", 5*time.Minute),
			MaxAttempts:      getEnvInt("OTP_MAX_ATTEMPTS", 3),
			ChannelTimeout:   getEnvDuration("CHANNEL_TIMEOUT", 10*time.Second),
			SendCooldown:     getEnvDuration("SEND_COOLDOWN", 30*time.Second),
			SendWindow:       getEnvDuration("SEND_WINDOW", 15*time.Minute),
			SendMaxPerWindow: getEnvInt("SEND_MAX_PER_WINDOW", 5),
			SweepInterval:    getEnvDuration("OTP_SWEEP_INTERVAL", time.Minute),
			ExposeCodes:      getEnvBool("OTP_EXPOSE_CODE", false),
		},
		Session: SessionConfig{
			InactivityTimeout: getEnvDuration("SESSION_INACTIVITY_TIMEOUT", 24*time.Hour),
			SweepInterval:     getEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour),
		},
		Heartbeat: HeartbeatConfig{
			LivenessWindow: getEnvDuration("HEARTBEAT_LIVENESS_WINDOW", 60*time.Second),
			EvictionWindow: getEnvDuration("HEARTBEAT_EVICTION_WINDOW", 5*time.Minute),
			SweepInterval:  getEnvDuration("HEARTBEAT_SWEEP_INTERVAL", 5*time.Minute),
		},
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "5m").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
