package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Logging   LoggingConfig
	Catalog   CatalogConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	// Driver is "couchdb" or "memory".
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", d.User, d.Password, d.Host, d.Port)
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
	ResetTokenExpiration   time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	MaxMessageSize   int64
	WriteWait        time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxConnPerUser   int
	MaxSubsPerClient int
}

type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	Enabled           bool
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

type CatalogConfig struct {
	Path string
}

func Load() (*Config, error) {
	godotenv.Load()

	jwtExp, err := getEnvAsDuration("JWT_EXPIRATION", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	refreshExp, err := getEnvAsDuration("REFRESH_TOKEN_EXPIRATION", 168*time.Hour)
	if err != nil {
		return nil, err
	}
	resetExp, err := getEnvAsDuration("RESET_TOKEN_EXPIRATION", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	pongWait, err := getEnvAsDuration("WS_PONG_WAIT", 60*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("DB_DRIVER", "couchdb")),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "devtoolkit"),
		},
		JWT: JWTConfig{
			Secret:                 getEnv("JWT_SECRET", "dev-secret-change-in-production"),
			Expiration:             jwtExp,
			RefreshTokenExpiration: refreshExp,
			ResetTokenExpiration:   resetExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize:  getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:   int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 65536)),
			WriteWait:        10 * time.Second,
			PongWait:         pongWait,
			PingPeriod:       pongWait * 9 / 10,
			MaxConnPerUser:   getEnvAsInt("WS_MAX_CONN_PER_USER", 10),
			MaxSubsPerClient: getEnvAsInt("WS_MAX_SUBS_PER_CONN", 16),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 5),
			Enabled:           getEnvAsBool("RATE_LIMIT_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Catalog: CatalogConfig{
			Path: getEnv("CATALOG_PATH", "data/tools.json"),
		},
	}

	if cfg.Database.Driver != "couchdb" && cfg.Database.Driver != "memory" {
		return nil, fmt.Errorf("invalid DB_DRIVER %q: want couchdb or memory", cfg.Database.Driver)
	}
	if cfg.Server.Env == "production" && cfg.JWT.Secret == "dev-secret-change-in-production" {
		return nil, fmt.Errorf("JWT_SECRET must be set in production")
	}

	return cfg, nil
}

// ClientConfig configures the devtoolkit page host.
type ClientConfig struct {
	ServerURL string
	Profile   string
	// DataDir holds one local storage file per profile.
	DataDir  string
	LogLevel string
	Env      string
	Timeout  time.Duration
}

// StoragePath is the local storage file of the active profile.
func (c ClientConfig) StoragePath() string {
	return filepath.Join(c.DataDir, c.Profile+".db")
}

func LoadClient() (*ClientConfig, error) {
	godotenv.Load()

	timeout, err := getEnvAsDuration("DEVTOOLKIT_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("DEVTOOLKIT_HOME", "")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".devtoolkit")
	}

	cfg := &ClientConfig{
		ServerURL: strings.TrimRight(getEnv("DEVTOOLKIT_SERVER_URL", "http://localhost:8080"), "/"),
		Profile:   getEnv("DEVTOOLKIT_PROFILE", "default"),
		DataDir:   dataDir,
		LogLevel:  getEnv("LOG_LEVEL", "warn"),
		Env:       getEnv("ENV", "development"),
		Timeout:   timeout,
	}

	if strings.ContainsAny(cfg.Profile, `/\`) || cfg.Profile == "." || cfg.Profile == ".." {
		return nil, fmt.Errorf("invalid DEVTOOLKIT_PROFILE %q", cfg.Profile)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
