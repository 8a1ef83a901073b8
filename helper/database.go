package helper

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Database wraps a PostgreSQL connection pool together with its logger.
type Database struct {
	Name     string
	Logger   *slog.Logger
	Instance *sql.DB
}

// DatabaseConfiguration holds the connection parameters for PostgreSQL.
type DatabaseConfiguration struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	Schema   string `json:"schema"`
	SSLMode  string `json:"sslmode"`
}

const (
	envDBHost     = "TAX_ASSISTANT_DB_HOST"
	envDBPort     = "TAX_ASSISTANT_DB_PORT"
	envDBDatabase = "TAX_ASSISTANT_DB_DATABASE"
	envDBUsername = "TAX_ASSISTANT_DB_USERNAME"
	envDBPassword = "TAX_ASSISTANT_DB_PASSWORD"
	envDBSchema   = "TAX_ASSISTANT_DB_SCHEMA"
	envDBSSLMode  = "TAX_ASSISTANT_DB_SSLMODE"
)

// NewDatabaseConfiguration reads the configuration from the environment.
// Values from .env.local and .env are loaded first if the files exist,
// already exported variables win.
func NewDatabaseConfiguration() (*DatabaseConfiguration, error) {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err != nil {
				return nil, NewError("load "+file, err)
			}
		}
	}

	config := &DatabaseConfiguration{
		Host:     os.Getenv(envDBHost),
		Port:     os.Getenv(envDBPort),
		Database: os.Getenv(envDBDatabase),
		Username: os.Getenv(envDBUsername),
		Password: os.Getenv(envDBPassword),
		Schema:   os.Getenv(envDBSchema),
		SSLMode:  os.Getenv(envDBSSLMode),
	}
	if config.Schema == "" {
		config.Schema = "public"
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that every required field is set.
func (c *DatabaseConfiguration) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, envDBHost)
	}
	if c.Port == "" {
		missing = append(missing, envDBPort)
	}
	if c.Database == "" {
		missing = append(missing, envDBDatabase)
	}
	if c.Username == "" {
		missing = append(missing, envDBUsername)
	}
	if len(missing) > 0 {
		return NewError("database configuration", fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	return nil
}

// DSN returns the key/value connection string understood by lib/pq. Values
// are quoted so passwords may contain spaces and quotes.
func (c *DatabaseConfiguration) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=%s search_path=%s",
		dsnValue(c.Host), dsnValue(c.Port), dsnValue(c.Database), dsnValue(c.Username),
		dsnValue(c.Password), dsnValue(c.SSLMode), dsnValue(c.Schema),
	)
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func dsnValue(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}

// NewDatabase opens and pings a connection pool.
func NewDatabase(name string, config *DatabaseConfiguration, logger *slog.Logger) (*Database, error) {
	if config == nil {
		return nil, NewError("database configuration", fmt.Errorf("configuration is nil"))
	}
	if logger == nil {
		logger = DiscardLogger()
	}

	db, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, NewError("open database", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	database := &Database{
		Name:     name,
		Logger:   logger.With(slog.String("database", name)),
		Instance: db,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := database.CheckHealth(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	database.Logger.Info("Connected to database", slog.String("host", config.Host), slog.String("port", config.Port))

	return database, nil
}

// NewTestDatabase connects with a debug logger and panics on failure.
func NewTestDatabase(config *DatabaseConfiguration) *Database {
	database, err := NewDatabase("test", config, NewLogger(os.Stdout, slog.LevelDebug))
	if err != nil {
		panic(err)
	}
	return database
}

// CheckHealth pings the database.
func (d *Database) CheckHealth(ctx context.Context) error {
	if d == nil || d.Instance == nil {
		return NewError("health check", fmt.Errorf("database not initialized"))
	}
	if err := d.Instance.PingContext(ctx); err != nil {
		return NewError("health check", err)
	}
	return nil
}

// Close closes the connection pool.
func (d *Database) Close() error {
	if d == nil || d.Instance == nil {
		return nil
	}
	return d.Instance.Close()
}
