package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port          string
	DatabaseURL   string
	SessionSecret string
	JWTSecret     string
	JWTTTL        time.Duration
	NatsURL       string // 为空时不发布事件
	GinMode       string

	// 评分提交限流
	RankRatePerMinute int
	RankRateBurst     int
}

func Load() *Config {
	return &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=communityhelp port=5432 sslmode=disable"),
		SessionSecret:     getEnv("SESSION_SECRET", "secret_key_change_me"),
		JWTSecret:         getEnv("JWT_SECRET", "jwt_secret_change_me"),
		JWTTTL:            getDuration("JWT_TTL", 30*time.Minute),
		NatsURL:           getEnv("NATS_URL", ""),
		GinMode:           getEnv("GIN_MODE", "debug"),
		RankRatePerMinute: getInt("RANK_RATE_PER_MINUTE", 60),
		RankRateBurst:     getInt("RANK_RATE_BURST", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, ""))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
