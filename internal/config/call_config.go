package config

import (
	"time"
)

const (
	// Control plane defaults
	DefaultControlPlaneBaseURL = "https://api-us-3.vonage.com"
	DefaultGreetingText        = "Hello, have a nice day! "
	DefaultVoiceName           = "Kimberly"
	DefaultConversationName    = "my_conversation"
	DefaultGeo                 = "us-1"

	// Token defaults
	DefaultTokenTTL = 24 * time.Hour

	// Orchestration defaults
	DefaultOrchestrationTimeout = 30 * time.Second
	DefaultLegStateTTL          = 1 * time.Hour
	DefaultRetryAttempts        = 3
	DefaultRetryInitialBackoff  = 200 * time.Millisecond
	DefaultRetryMaxBackoff      = 2 * time.Second
)

// CallControlConfig is built once at process start and passed to every component.
type CallControlConfig struct {
	Port       string
	InstanceID string
	EnableCORS bool

	// Control plane
	ControlPlaneBaseURL string
	ControlPlaneTimeout time.Duration
	ControlPlaneRPS     float64 // 0 disables the limiter
	ControlPlaneBurst   int

	// Application credentials used to mint control-plane and client tokens
	ApplicationID  string
	PrivateKeyPEM  string
	PrivateKeyPath string
	TokenTTL       time.Duration

	// Announcement
	GreetingText string
	VoiceName    string

	// Inbound messages routing
	ConversationName string
	Geo              string
	MessageUsers     MessageUsers

	// Orchestration
	OrchestrationTimeout time.Duration
	LegStateTTL          time.Duration
	AcceptUntrackedLegs  bool
	Retry                RetryConfig

	// Redis (leg store and failure channel); empty host keeps everything in memory
	Redis RedisConfig

	// Failure ledger database; empty host disables it
	Database DatabaseConfig

	// Pub/Sub lifecycle notifications; empty project disables them
	PubSubProjectID string
	PubSubTopic     string
	PubSubPubID     string

	// Twilio Network Traversal Service (dynamic TURN credentials)
	TwilioAccountSID string
	TwilioAuthToken  string
	STUNServers      []string
}

// RetryConfig configures retries for control-plane requests.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RedisConfig holds connection settings for Redis.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host is configured.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Enabled reports whether a database host is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

// MessageUsers maps inbound message channel types to the user that owns them.
// Messenger senders get a per-sender user built from MessengerPrefix.
type MessageUsers struct {
	SMS             string
	MMS             string
	WhatsApp        string
	Viber           string
	MessengerPrefix string
}
