package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	RelaySecret    string
	JWTSecret      string
	LogLevel       string
	Redis          RedisConfig
	Socket         SocketConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	// TTL bounds how long a presence record outlives a relay that died
	// without cleaning up.
	TTL time.Duration
}

// Enabled reports whether presence should be mirrored into Redis.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

// SocketConfig holds websocket keepalive timings.
type SocketConfig struct {
	PingInterval time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
}

func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		PingInterval: 54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
	}
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := splitList(originsStr)

	socket := DefaultSocketConfig()

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		RelaySecret:    getEnv("RELAY_SECRET", "test"),
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("PRESENCE_TTL", 24*time.Hour),
		},
		Socket: SocketConfig{
			PingInterval: getEnvDuration("PING_INTERVAL", socket.PingInterval),
			PongWait:     getEnvDuration("PONG_WAIT", socket.PongWait),
			WriteWait:    getEnvDuration("WRITE_WAIT", socket.WriteWait),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
