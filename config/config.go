package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds all runtime configuration loaded from the environment.
type Config struct {
	Port        string
	Environment string

	// Persistence backend: "postgres", "sqlite" or "mongo"
	StorageBackend string
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	SQLitePath     string
	MongoURI       string

	// Curator behavior
	CacheTTL       time.Duration
	WorkerInterval time.Duration

	// JSON config files describing upstream and bulk sources
	SourcesConfigPath string
	BulkConfigPath    string

	// Admin auth
	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string
}

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		StorageBackend:    getEnv("STORAGE_BACKEND", "sqlite"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "curator_db"),
		SQLitePath:        getEnv("SQLITE_PATH", "data/curator.db"),
		MongoURI:          getEnv("MONGODB_URI", ""),
		CacheTTL:          getEnvSeconds("CACHE_TTL_SECONDS", 300),
		WorkerInterval:    getEnvSeconds("WORKER_INTERVAL_SECONDS", 60),
		SourcesConfigPath: getEnv("SOURCES_CONFIG", "config/sources.json"),
		BulkConfigPath:    getEnv("BULK_SOURCES_CONFIG", "config/bulk_sources.json"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		AdminUsername:     getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
	}

	return cfg, nil
}

// InitPostgres opens the gorm connection used by the postgres storage backend.
// The handle is returned to the caller; nothing in this package keeps a
// reference to it.
func InitPostgres(cfg *Config) (*gorm.DB, error) {
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(cfg.DBHost),
		cfg.DBPort,
		cfg.DBUser,
		cfg.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=prefer TimeZone=UTC",
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
	)

	var logLevel logger.LogLevel
	if cfg.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Warn
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Database connection verified successfully")
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvSeconds reads an integer environment variable as a duration in seconds.
func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return time.Duration(defaultSeconds) * time.Second
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("Invalid %s=%q, using default %ds", key, value, defaultSeconds)
		return time.Duration(defaultSeconds) * time.Second
	}
	return time.Duration(n) * time.Second
}
