package db

import (
	"fmt"
	"log"
	"net/url"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options selects where the permit database lives
type Options struct {
	Path        string // local sqlite file
	TursoURL    string // remote libsql database, takes precedence over Path
	TursoToken  string
	Environment string
}

// Open connects to the configured database. Local files use WAL mode for
// concurrent readers; a Turso URL routes through the libsql driver.
func Open(opts Options) (*gorm.DB, error) {
	// Determine log level based on environment
	logLevel := logger.Info
	if opts.Environment == "production" {
		logLevel = logger.Warn
	}
	gormCfg := &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		// sqlite compares timestamps as text, so every stored time is UTC
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	if opts.TursoURL != "" {
		database, err := gorm.Open(sqlite.New(sqlite.Config{
			DriverName: "libsql",
			DSN:        tursoDSN(opts.TursoURL, opts.TursoToken),
		}), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to turso database: %w", err)
		}
		log.Println("Database connection established (Turso libsql)")
		return database, nil
	}

	// Enable WAL mode for better concurrency support
	dsn := opts.Path + "?_journal_mode=WAL&_busy_timeout=5000"

	database, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Println("Database connection established (WAL mode enabled)")
	return database, nil
}

func tursoDSN(rawURL, token string) string {
	if token == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// AutoMigrate runs database migrations for the provided models
func AutoMigrate(database *gorm.DB, models ...interface{}) error {
	if database == nil {
		return fmt.Errorf("database not initialized")
	}

	if err := database.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("Database migrations completed")
	return nil
}

// Close closes the database connection
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}

	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}
