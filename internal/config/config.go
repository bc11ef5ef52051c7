package config

import (
	"log"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/sirupsen/logrus"
)

var Config = struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Port        int    `env:"PORT" envDefault:"8081"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9103"`
	Storage     string `env:"STORAGE" envDefault:"memory"` // memory or redis

	// Redis related settings
	RedisURI           string `env:"REDIS_URI"`
	RecentLogsCapacity int    `env:"RECENT_LOGS_CAPACITY" envDefault:"200"`

	// Relay settings
	StatsInterval  int      `env:"STATS_INTERVAL" envDefault:"30"`
	SendQueueSize  int      `env:"SEND_QUEUE_SIZE" envDefault:"32"`
	WriteTimeout   int      `env:"WRITE_TIMEOUT" envDefault:"10"`
	CorsEnable     bool     `env:"CORS_ENABLE" envDefault:"true"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://localhost:3000,https://rulesmarket.app,https://*.rulesmarket.app"`

	// Admin room credentials
	AdminTokenSecret string `env:"ADMIN_TOKEN_SECRET"`
	AdminTokenTTL    int    `env:"ADMIN_TOKEN_TTL" envDefault:"300"`

	// Rate limiting / connection limiting
	RPSLimit              int      `env:"RPS_LIMIT" envDefault:"10"`
	RateLimitsByPassToken []string `env:"RATE_LIMITS_BY_PASS_TOKEN"`
	ConnectionsLimit      int      `env:"CONNECTIONS_LIMIT" envDefault:"50"`
	TrustedProxyRanges    []string `env:"TRUSTED_PROXY_RANGES" envDefault:"0.0.0.0/0"`

	// Client / monitor settings
	RelayURL          string `env:"RELAY_URL" envDefault:"ws://localhost:8081/relay/events"`
	APIBaseURL        string `env:"API_BASE_URL" envDefault:"http://localhost:8081"`
	OperatorEmail     string `env:"OPERATOR_EMAIL" envDefault:"admin@rulesmarket.app"`
	OperatorUserID    string `env:"OPERATOR_USER_ID" envDefault:"operator"`
	ReconnectAttempts int    `env:"RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay    int    `env:"RECONNECT_DELAY" envDefault:"2"`
	HandshakeTimeout  int    `env:"HANDSHAKE_TIMEOUT" envDefault:"10"`
	PollInterval      int    `env:"POLL_INTERVAL" envDefault:"30"`
	RequestTimeout    int    `env:"REQUEST_TIMEOUT" envDefault:"5"`
	FeedCapacity      int    `env:"FEED_CAPACITY" envDefault:"100"`

	// Other settings
	SelfSignedTLS bool   `env:"SELF_SIGNED_TLS" envDefault:"false"`
	PprofEnabled  bool   `env:"PPROF_ENABLED" envDefault:"true"`
	RelayName     string `env:"RELAY_NAME" envDefault:"rulesmarket-relay"`
	Environment   string `env:"ENVIRONMENT" envDefault:"production"`
}{}

func LoadConfig() {
	if err := env.Parse(&Config); err != nil {
		log.Fatalf("config parsing failed: %v\n", err)
	}

	level, err := logrus.ParseLevel(strings.ToLower(Config.LogLevel))
	if err != nil {
		log.Printf("Invalid LOG_LEVEL '%s', using default 'info'. Valid levels: panic, fatal, error, warn, info, debug, trace", Config.LogLevel)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
