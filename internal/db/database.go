// Package db provides PostgreSQL access for the task controller's
// Task, TaskTemplate, Workspace, and VNCWorkspace tables.
//
// The database is the system of record for Task/Workspace/VNCWorkspace rows;
// the orchestrator remains the system of record for pool member identity and
// occupancy (see package orchestrator).
package db

import (
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps a pooled PostgreSQL connection.
type Database struct {
	db *sql.DB
}

// validateConfig rejects connection parameters that could be used to inject
// extra options into the libpq connection string.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase opens a pooled connection and verifies it with a ping.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB, e.g. a sqlmock connection.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB for callers needing raw access.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates the controller's tables if they do not already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS task_templates (
			uuid VARCHAR(64) PRIMARY KEY,
			container_config JSONB NOT NULL,
			replica INT NOT NULL DEFAULT 0,
			max_sharing_users INT NOT NULL DEFAULT 1,
			ttl_interval INT NOT NULL DEFAULT 300,
			time_limit INT NOT NULL DEFAULT 60,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			uuid VARCHAR(64) PRIMARY KEY,
			template_ref VARCHAR(64) NOT NULL REFERENCES task_templates(uuid) ON DELETE CASCADE,
			user_ref VARCHAR(64) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'SCHEDULED',
			create_time TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			logs TEXT NOT NULL DEFAULT '',
			logs_get BOOLEAN NOT NULL DEFAULT false,
			exit_code INT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_create_time ON tasks (status, create_time)`,

		`CREATE TABLE IF NOT EXISTS workspaces (
			template_ref VARCHAR(64) NOT NULL REFERENCES task_templates(uuid) ON DELETE CASCADE,
			user_ref VARCHAR(64) NOT NULL,
			pod_name VARCHAR(255) NOT NULL DEFAULT '',
			expire_time BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (template_ref, user_ref)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workspaces_expire_time ON workspaces (expire_time)`,

		`CREATE TABLE IF NOT EXISTS vnc_workspaces (
			template_ref VARCHAR(64) NOT NULL REFERENCES task_templates(uuid) ON DELETE CASCADE,
			user_ref VARCHAR(64) NOT NULL,
			pod_name VARCHAR(255) NOT NULL DEFAULT '',
			url_path VARCHAR(255) NOT NULL DEFAULT '',
			vnc_password VARCHAR(255) NOT NULL DEFAULT '',
			expire_time BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (template_ref, user_ref)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vnc_workspaces_expire_time ON vnc_workspaces (expire_time)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
