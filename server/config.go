package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the server settings read from the environment
type Config struct {
	Port      string
	PublicURL string
	RoomTTL   time.Duration
	LogLevel  string
	Redis     RedisConfig
	ICE       ICEConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ICEConfig struct {
	URLs       []string
	Username   string
	Credential string
}

func LoadConfig() *Config {
	return &Config{
		Port:      getEnv("PORT", "8080"),
		PublicURL: strings.TrimRight(getEnv("PUBLIC_URL", ""), "/"),
		RoomTTL:   getDuration("ROOM_TTL", 24*time.Hour),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		ICE: ICEConfig{
			URLs:       splitList(getEnv("ICE_SERVER_URLS", "stun:stun.l.google.com:19302")),
			Username:   getEnv("TURN_USERNAME", ""),
			Credential: getEnv("TURN_CREDENTIAL", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
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
