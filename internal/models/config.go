package models

import "time"

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig
	Postgres  PostgresConfig
	Ledger    LedgerConfig
	Processor ProcessorConfig
	Server    ServerConfig
	Redis     RedisConfig
	Formance  FormanceConfig
	Telegram  TelegramConfig
	Client    ClientConfig
}

// DatabaseConfig holds SQLite connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// PostgresConfig holds settings for the Postgres ledger backend
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
	MigrateOnStart  bool
}

// LedgerConfig selects the backend and the settlement currency
type LedgerConfig struct {
	Backend             string // "sqlite" or "postgres"
	SettlementCurrency  string
	SettlementPrecision int32
	CurrenciesFile      string
	DefaultWeeklyRate   string
}

// ProcessorConfig holds the background processor schedules
type ProcessorConfig struct {
	AccrualInterval    time.Duration
	ExpirationInterval time.Duration
	AutoClaimInterval  time.Duration
	AccrualBatchSize   int
	ExpiryBatchSize    int
	ClaimBatchSize     int
	TickTimeout        time.Duration
	AutoClaimEnabled   bool
}

// ServerConfig holds the HTTP/websocket surface settings
type ServerConfig struct {
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	JWTSecret          string
	TokenTTL           time.Duration
	ClaimRatePerMinute int
	ClaimBurst         int
	SendBufferSize     int
}

// RedisConfig enables a cluster-wide lease per processor
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	LeaseTTL time.Duration
}

// FormanceConfig enables mirroring claims into a Formance ledger
type FormanceConfig struct {
	Enabled      bool
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// TelegramConfig enables claim and expiry notices through a Telegram bot
type TelegramConfig struct {
	Enabled  bool
	BotToken string
}

// ClientConfig holds settings for the terminal sync client
type ClientConfig struct {
	ServerURL    string
	PullInterval time.Duration
	CacheFile    string
}
