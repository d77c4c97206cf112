package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Config holds all configuration for the service
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Worker      WorkerConfig
	Auth        AuthConfig
	Flutterwave FlutterwaveConfig
	Points      PointsConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Port     string
	GRPCPort string
	GinMode  string
	Origins  []string
}

// DatabaseConfig selects the gorm dialector. Driver is one of mysql, postgres or sqlite.
type DatabaseConfig struct {
	Driver   string
	DSN      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	MaxConns int
	MaxIdle  int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type WorkerConfig struct {
	Concurrency int
}

type AuthConfig struct {
	JWTSecret string
}

type FlutterwaveConfig struct {
	BaseURL     string
	SecretKey   string
	WebhookHash string
	RedirectURL string
	Currency    string
	Country     string
	Timeout     time.Duration
}

// ProductLimit is the accepted points range for one redemption product.
type ProductLimit struct {
	MinPoints int64
	MaxPoints int64
}

// PurchasePackage is a fixed money-to-points bundle offered at checkout.
type PurchasePackage struct {
	ID     string          `json:"id"`
	Points int64           `json:"points"`
	Naira  decimal.Decimal `json:"naira"`
}

type PointsConfig struct {
	// NairaPerPoint converts redeemed points into naira value.
	NairaPerPoint decimal.Decimal
	// PurchaseNairaPerPoint prices custom point purchases.
	PurchaseNairaPerPoint decimal.Decimal
	Airtime               ProductLimit
	Data                  ProductLimit
	Cash                  ProductLimit
	Packages              []PurchasePackage
	CustomMinPoints       int64
	CustomMaxPoints       int64
	AmountTolerance       decimal.Decimal
	PendingPurchaseTTL    time.Duration
	StaleRedemptionAfter  time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute float64
	Burst             int
}

// Limit returns the configured range for a redemption product type.
func (p PointsConfig) Limit(productType string) (ProductLimit, bool) {
	switch productType {
	case "airtime":
		return p.Airtime, true
	case "data":
		return p.Data, true
	case "cash":
		return p.Cash, true
	}
	return ProductLimit{}, false
}

// Package looks up a purchase package by id.
func (p PointsConfig) Package(id string) (PurchasePackage, bool) {
	for _, pkg := range p.Packages {
		if pkg.ID == id {
			return pkg, true
		}
	}
	return PurchasePackage{}, false
}

// LoadConfig reads configuration from the environment, loading a .env file first when present.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found in current directory, trying parent")
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() *Config {
	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			GRPCPort: getEnv("GRPC_PORT", "50051"),
			GinMode:  getEnv("GIN_MODE", ""),
			Origins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "mysql"),
			DSN:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "3306"),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "points"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 20),
			MaxIdle:  getEnvInt("DB_MAX_IDLE", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_URL", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 10),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Flutterwave: FlutterwaveConfig{
			BaseURL:     strings.TrimRight(getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com"), "/"),
			SecretKey:   getEnv("FLUTTERWAVE_SECRET_KEY", ""),
			WebhookHash: getEnv("FLUTTERWAVE_WEBHOOK_HASH", ""),
			RedirectURL: getEnv("FLUTTERWAVE_REDIRECT_URL", ""),
			Currency:    getEnv("FLUTTERWAVE_CURRENCY", "NGN"),
			Country:     getEnv("FLUTTERWAVE_COUNTRY", "NG"),
			Timeout:     getEnvDuration("FLUTTERWAVE_TIMEOUT", 30*time.Second),
		},
		Points: PointsConfig{
			NairaPerPoint:         getEnvDecimal("NAIRA_PER_POINT", decimal.NewFromInt(1)),
			PurchaseNairaPerPoint: getEnvDecimal("PURCHASE_NAIRA_PER_POINT", decimal.NewFromInt(1)),
			Airtime: ProductLimit{
				MinPoints: getEnvInt64("AIRTIME_MIN_POINTS", 100),
				MaxPoints: getEnvInt64("AIRTIME_MAX_POINTS", 10000),
			},
			Data: ProductLimit{
				MinPoints: getEnvInt64("DATA_MIN_POINTS", 100),
				MaxPoints: getEnvInt64("DATA_MAX_POINTS", 20000),
			},
			Cash: ProductLimit{
				MinPoints: getEnvInt64("CASH_MIN_POINTS", 1000),
				MaxPoints: getEnvInt64("CASH_MAX_POINTS", 100000),
			},
			Packages:             ParsePackages(getEnv("PURCHASE_PACKAGES", "starter:500:500,basic:1000:1000,plus:5000:4750,pro:10000:9000")),
			CustomMinPoints:      getEnvInt64("CUSTOM_PURCHASE_MIN_POINTS", 100),
			CustomMaxPoints:      getEnvInt64("CUSTOM_PURCHASE_MAX_POINTS", 1000000),
			AmountTolerance:      getEnvDecimal("PURCHASE_AMOUNT_TOLERANCE", decimal.NewFromFloat(0.01)),
			PendingPurchaseTTL:   getEnvDuration("PURCHASE_PENDING_TTL", 24*time.Hour),
			StaleRedemptionAfter: getEnvDuration("REDEMPTION_STALE_AFTER", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvFloat("RATE_LIMIT_PER_MINUTE", 30),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 5),
		},
	}
}

// ParsePackages parses "id:points:naira" triples separated by commas. Malformed entries are skipped.
func ParsePackages(raw string) []PurchasePackage {
	var packages []PurchasePackage
	for _, item := range strings.Split(raw, ",") {
		parts := strings.Split(strings.TrimSpace(item), ":")
		if len(parts) != 3 {
			continue
		}
		points, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || points <= 0 {
			log.Warnf("skipping purchase package %q: bad points", item)
			continue
		}
		naira, err := decimal.NewFromString(parts[2])
		if err != nil || !naira.IsPositive() {
			log.Warnf("skipping purchase package %q: bad naira amount", item)
			continue
		}
		packages = append(packages, PurchasePackage{ID: parts[0], Points: points, Naira: naira})
	}
	return packages
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value, err := decimal.NewFromString(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
