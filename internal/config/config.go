package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration parsed from environment variables.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	// StoreDriver selects the primary store: "mongo" or "mysql".
	StoreDriver string
	MongoURI    string
	MongoDB     string
	MySQLDSN    string

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	JWTSecret string
	TokenTTL  time.Duration

	StoreTimeout        time.Duration
	CacheTimeout        time.Duration
	InvalidationWorkers int
	InvalidationQueue   int
	ShutdownTimeout     time.Duration

	ProductListTTL   time.Duration
	ProductDetailTTL time.Duration
	SearchTTL        time.Duration

	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string

	AdminLogin    string
	AdminPassword string
}

// Load reads an optional .env file into the environment and returns FromEnv.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("config: ignoring .env: %v", err)
	}
	return FromEnv()
}

// FromEnv builds Config with defaults, overridden by environment variables.
func FromEnv() Config {
	return Config{
		HTTPAddr: envOrDefault("HTTP_ADDR", ":8080"),
		GRPCAddr: envOrDefault("GRPC_ADDR", ":50051"),

		StoreDriver: strings.ToLower(envOrDefault("STORE_DRIVER", "mongo")),
		MongoURI:    envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     envOrDefault("MONGO_DB", "storefront"),
		MySQLDSN:    envOrDefault("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true&multiStatements=true"),

		RedisAddr:     envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisUsername: os.Getenv("REDIS_USERNAME"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		JWTSecret: envOrDefault("JWT_SECRET", "change-me"),
		TokenTTL:  envDuration("TOKEN_TTL", 72*time.Hour),

		StoreTimeout:        envDuration("STORE_TIMEOUT", 3*time.Second),
		CacheTimeout:        envDuration("CACHE_TIMEOUT", 500*time.Millisecond),
		InvalidationWorkers: envInt("INVALIDATION_WORKERS", 4),
		InvalidationQueue:   envInt("INVALIDATION_QUEUE", 1024),
		ShutdownTimeout:     envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		ProductListTTL:   envDuration("CACHE_TTL_PRODUCT_LIST", 5*time.Minute),
		ProductDetailTTL: envDuration("CACHE_TTL_PRODUCT_DETAIL", 10*time.Minute),
		SearchTTL:        envDuration("CACHE_TTL_SEARCH", 5*time.Minute),

		RateLimit:      envFloat("RATE_LIMIT", 20),
		RateBurst:      envInt("RATE_BURST", 40),
		AllowedOrigins: envList("ALLOWED_ORIGINS", []string{"*"}),

		AdminLogin:    os.Getenv("ADMIN_LOGIN"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration accepts Go durations ("750ms", "5m") or a plain number of seconds.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	log.Printf("config: invalid %s=%q, using %s", key, v, def)
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		log.Printf("config: invalid %s=%q, using %d", key, v, def)
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
		log.Printf("config: invalid %s=%q, using %g", key, v, def)
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
