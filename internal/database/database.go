package database

import (
	"fmt"
	"os"

	"omnibox/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitDatabase initializes the database connection
func InitDatabase() {
	var err error

	// Check environment for database type
	dbType := os.Getenv("DB_TYPE")
	if dbType == "" {
		dbType = "sqlite" // default to sqlite for development
	}

	switch dbType {
	case "mysql":
		DB, err = connectMySQL()
	case "postgres", "postgresql":
		DB, err = connectPostgreSQL()
	case "sqlite":
		DB, err = connectSQLite()
	default:
		logrus.Fatal("Unsupported database type: ", dbType)
	}

	if err != nil {
		logrus.Fatal("Failed to connect to database: ", err)
	}

	// Auto migrate tables
	if err := migrateTables(DB); err != nil {
		logrus.Fatal("Failed to migrate tables: ", err)
	}

	logrus.Info("Database connected and migrated successfully")
}

// connectMySQL connects to MySQL database
func connectMySQL() (*gorm.DB, error) {
	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "3306")
	user := getEnv("DB_USER", "root")
	password := getEnv("DB_PASSWORD", "")
	dbName := getEnv("DB_NAME", "omnibox")

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=10s&readTimeout=30s&writeTimeout=30s",
		user, password, host, port, dbName)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	return db, configurePool(db)
}

// connectPostgreSQL connects to PostgreSQL database
func connectPostgreSQL() (*gorm.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "")
	dbName := getEnv("DB_NAME", "omnibox")

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbName)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %v", err)
	}

	return db, configurePool(db)
}

// connectSQLite connects to SQLite database (fallback)
func connectSQLite() (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(getEnv("DB_PATH", "omnibox.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

func configurePool(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(3600) // 1 hour
	return nil
}

// migrateTables creates/updates database tables
func migrateTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Company{},
		&models.CompanySetting{},
		&models.User{},
		&models.ChannelConnection{},
		&models.Contact{},
		&models.Conversation{},
		&models.Message{},
	)
}

// getEnv gets environment variable with fallback
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}

// CheckAndReconnect checks if database connection is alive and reconnects if needed
func CheckAndReconnect() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}

	if err := sqlDB.Ping(); err != nil {
		logrus.Warn("Database connection lost, attempting to reconnect...")
		sqlDB.Close()
		InitDatabase()
		return nil
	}

	return nil
}
