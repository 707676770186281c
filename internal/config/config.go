package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	Location    *time.Location

	APIKeys []string

	NumberingRetries int
	ClaimRetries     int

	ReaperInterval time.Duration

	MaxCommentLength int

	RateLimitPerMinute int
	RateLimitBurst     int
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	tz := os.Getenv("TZ")
	if tz == "" {
		tz = "America/Mexico_City"
	}
	location, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("invalid TZ %q, falling back to UTC: %v", tz, err)
		location = time.UTC
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		Location:           location,
		APIKeys:            readList("API_KEYS"),
		NumberingRetries:   readInt("NUMBERING_RETRIES", 5),
		ClaimRetries:       readInt("CLAIM_RETRIES", 25),
		ReaperInterval:     readDurationSeconds("REAPER_SCAN_INTERVAL_SECONDS", 60),
		MaxCommentLength:   readInt("MAX_COMMENT_LENGTH", 512),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			values = append(values, part)
		}
	}
	return values
}
