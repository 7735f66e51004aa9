package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ClareAI/astra-call-control/pkg/logger"
	"go.uber.org/zap"
)

// LoadFromEnv loads the call control configuration from environment variables.
// .env is loaded by main before this runs.
func LoadFromEnv() *CallControlConfig {
	cfg := &CallControlConfig{
		Port:       getEnvOrDefault("PORT", "3000"),
		InstanceID: getDynamicInstanceID(),
		EnableCORS: getEnvAsBoolOrDefault("ENABLE_CORS", true),

		ControlPlaneBaseURL: strings.TrimRight(getEnvOrDefault("CONTROL_PLANE_BASE_URL", DefaultControlPlaneBaseURL), "/"),
		ControlPlaneTimeout: getEnvAsDurationOrDefault("CONTROL_PLANE_TIMEOUT", 15*time.Second),
		ControlPlaneRPS:     getEnvAsFloatOrDefault("CONTROL_PLANE_RPS", 0),
		ControlPlaneBurst:   getEnvAsIntOrDefault("CONTROL_PLANE_BURST", 10),

		ApplicationID:  getEnvOrDefault("APPLICATION_ID", ""),
		PrivateKeyPEM:  getEnvOrDefault("PRIVATE_KEY", ""),
		PrivateKeyPath: getEnvOrDefault("PRIVATE_KEY_PATH", ""),
		TokenTTL:       getEnvAsDurationOrDefault("TOKEN_TTL", DefaultTokenTTL),

		GreetingText: getEnvOrDefault("GREETING_TEXT", DefaultGreetingText),
		VoiceName:    getEnvOrDefault("VOICE_NAME", DefaultVoiceName),

		ConversationName: getEnvOrDefault("CONVERSATION_NAME", DefaultConversationName),
		Geo:              getEnvOrDefault("MESSAGES_GEO", DefaultGeo),
		MessageUsers: MessageUsers{
			SMS:             getEnvOrDefault("MESSAGES_SMS_USER", "smsUser1"),
			MMS:             getEnvOrDefault("MESSAGES_MMS_USER", "mmsUser1"),
			WhatsApp:        getEnvOrDefault("MESSAGES_WHATSAPP_USER", "whatsappUser1"),
			Viber:           getEnvOrDefault("MESSAGES_VIBER_USER", "viberUser1"),
			MessengerPrefix: getEnvOrDefault("MESSAGES_MESSENGER_USER_PREFIX", "messengerUser_"),
		},

		OrchestrationTimeout: getEnvAsDurationOrDefault("ORCHESTRATION_TIMEOUT", DefaultOrchestrationTimeout),
		LegStateTTL:          getEnvAsDurationOrDefault("LEG_STATE_TTL", DefaultLegStateTTL),
		AcceptUntrackedLegs:  getEnvAsBoolOrDefault("ACCEPT_UNTRACKED_LEGS", true),
		Retry: RetryConfig{
			MaxAttempts:    getEnvAsIntOrDefault("RETRY_MAX_ATTEMPTS", DefaultRetryAttempts),
			InitialBackoff: getEnvAsDurationOrDefault("RETRY_INITIAL_BACKOFF", DefaultRetryInitialBackoff),
			MaxBackoff:     getEnvAsDurationOrDefault("RETRY_MAX_BACKOFF", DefaultRetryMaxBackoff),
		},

		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", ""),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getEnvAsIntOrDefault("REDIS_DB", 0),
		},

		Database: DatabaseConfig{
			Host:            getEnvOrDefault("DB_HOST", ""),
			Port:            getEnvAsIntOrDefault("DB_PORT", 5432),
			User:            getEnvOrDefault("DB_USER", "postgres"),
			Password:        getEnvOrDefault("DB_PASSWORD", ""),
			DBName:          getEnvOrDefault("DB_NAME", "call_control"),
			SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsIntOrDefault("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: time.Duration(getEnvAsIntOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30)) * time.Minute,
		},

		PubSubProjectID: getEnvOrDefault("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:     getEnvOrDefault("PUBSUB_TOPIC", "call-lifecycle"),
		PubSubPubID:     getEnvOrDefault("PUBSUB_PUB_ID", ""),

		TwilioAccountSID: getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
	}

	// Load custom STUN servers from environment if provided
	if stunServers := os.Getenv("STUN_SERVERS"); stunServers != "" {
		cfg.STUNServers = splitAndTrimStrings(stunServers, ",")
		logger.Base().Info("Using custom STUN servers", zap.Strings("stun_servers", cfg.STUNServers))
	}

	return cfg
}

// PrivateKey returns the application private key, reading PrivateKeyPath when no inline key is set.
func (c *CallControlConfig) PrivateKey() ([]byte, error) {
	if c.PrivateKeyPEM != "" {
		// Inline keys from env files often carry escaped newlines
		return []byte(strings.ReplaceAll(c.PrivateKeyPEM, `\n`, "\n")), nil
	}
	if c.PrivateKeyPath == "" {
		return nil, fmt.Errorf("no private key configured")
	}
	data, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}
	return data, nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault accepts Go duration strings ("500ms", "2s")
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		logger.Base().Warn("Invalid duration in environment, using default",
			zap.String("key", key), zap.String("value", value), zap.Duration("default", defaultValue))
	}
	return defaultValue
}

// splitAndTrimStrings splits a string by delimiter and trims whitespace from each part
func splitAndTrimStrings(s, delimiter string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, delimiter)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getDynamicInstanceID uses the hostname (pod name in Kubernetes) and falls back to a timestamp.
func getDynamicInstanceID() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return fmt.Sprintf("call-control-%d", time.Now().UnixNano())
}
