package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"fridgeclinic/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps *sql.DB and rewrites `?` placeholders for drivers that number them.
// Services always write queries with `?`.
type DB struct {
	*sql.DB
	driver string
}

// Driver returns the normalised driver name: sqlite3, mysql or postgres.
func (d *DB) Driver() string { return d.driver }

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.DB.ExecContext(ctx, d.Rebind(query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, d.Rebind(query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.Rebind(query), args...)
}

// Rebind converts `?` placeholders to `$n` for postgres and leaves other
// drivers untouched. Quoted literals are skipped.
func (d *DB) Rebind(query string) string {
	if d.driver != "postgres" || !strings.Contains(query, "?") {
		return query
	}
	var (
		b      strings.Builder
		n      int
		quoted bool
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeDriver(dbType string) string {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pgx":
		return "postgres"
	default:
		return strings.ToLower(dbType)
	}
}

// Open connects to the configured database for dbType.
func Open(dbType string, cfg *config.Config) (*DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	driver := normalizeDriver(dbType)
	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", sqliteDSN(dbCfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// sqlite serialises writers; one connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s", dbCfg.Username, dbCfg.Password, dbCfg.Host, dbCfg.Port, dbCfg.DBName)
			if dbCfg.Params != "" {
				dsn += "?" + dbCfg.Params
			}
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db, driver: driver}, nil
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

// Migrate ensures the required tables are present.
func Migrate(db *DB) error {
	var stmts []string
	switch db.driver {
	case "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS refrigerator_diagnoses (
				id TEXT PRIMARY KEY,
				video_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				video_url TEXT NOT NULL,
				user_description TEXT,
				brand TEXT NOT NULL,
				model TEXT NOT NULL,
				refrigerator_type TEXT NOT NULL,
				issue_category TEXT NOT NULL,
				severity_level TEXT NOT NULL,
				diagnosis_result TEXT NOT NULL,
				solutions TEXT NOT NULL,
				audio_summary TEXT NOT NULL,
				ai_model TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_diagnoses_created_at ON refrigerator_diagnoses(created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_diagnoses_brand ON refrigerator_diagnoses(brand)`,
			`CREATE TABLE IF NOT EXISTS chat_conversations (
				id TEXT PRIMARY KEY,
				diagnosis_id TEXT NOT NULL,
				title TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				FOREIGN KEY(diagnosis_id) REFERENCES refrigerator_diagnoses(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_diagnosis ON chat_conversations(diagnosis_id)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(conversation_id) REFERENCES chat_conversations(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON chat_messages(conversation_id)`,
			`CREATE TABLE IF NOT EXISTS remote_file_orphans (
				name TEXT PRIMARY KEY,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS refrigerator_diagnoses (
				id CHAR(36) NOT NULL,
				video_id VARCHAR(1024) NOT NULL,
				file_name VARCHAR(512) NOT NULL,
				video_url VARCHAR(1100) NOT NULL,
				user_description TEXT,
				brand VARCHAR(255) NOT NULL,
				model VARCHAR(255) NOT NULL,
				refrigerator_type VARCHAR(255) NOT NULL,
				issue_category VARCHAR(255) NOT NULL,
				severity_level VARCHAR(100) NOT NULL,
				diagnosis_result MEDIUMTEXT NOT NULL,
				solutions MEDIUMTEXT NOT NULL,
				audio_summary TEXT NOT NULL,
				ai_model VARCHAR(100) NOT NULL,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_diagnoses_created_at (created_at),
				INDEX idx_diagnoses_brand (brand)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_conversations (
				id CHAR(36) NOT NULL,
				diagnosis_id CHAR(36) NOT NULL,
				title VARCHAR(255) NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_conversations_diagnosis (diagnosis_id),
				CONSTRAINT fk_conversations_diagnosis FOREIGN KEY (diagnosis_id) REFERENCES refrigerator_diagnoses(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id CHAR(36) NOT NULL,
				conversation_id CHAR(36) NOT NULL,
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_conversation (conversation_id),
				CONSTRAINT fk_messages_conversation FOREIGN KEY (conversation_id) REFERENCES chat_conversations(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS remote_file_orphans (
				name VARCHAR(255) NOT NULL PRIMARY KEY,
				attempts INT NOT NULL DEFAULT 0,
				last_error TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case "postgres":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS refrigerator_diagnoses (
				id UUID PRIMARY KEY,
				video_id TEXT NOT NULL,
				file_name TEXT NOT NULL,
				video_url TEXT NOT NULL,
				user_description TEXT,
				brand TEXT NOT NULL,
				model TEXT NOT NULL,
				refrigerator_type TEXT NOT NULL,
				issue_category TEXT NOT NULL,
				severity_level TEXT NOT NULL,
				diagnosis_result TEXT NOT NULL,
				solutions TEXT NOT NULL,
				audio_summary TEXT NOT NULL,
				ai_model TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_diagnoses_created_at ON refrigerator_diagnoses(created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_diagnoses_brand ON refrigerator_diagnoses(brand)`,
			`CREATE TABLE IF NOT EXISTS chat_conversations (
				id UUID PRIMARY KEY,
				diagnosis_id UUID NOT NULL REFERENCES refrigerator_diagnoses(id) ON DELETE CASCADE,
				title TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_diagnosis ON chat_conversations(diagnosis_id)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				id UUID PRIMARY KEY,
				conversation_id UUID NOT NULL REFERENCES chat_conversations(id) ON DELETE CASCADE,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON chat_messages(conversation_id)`,
			`CREATE TABLE IF NOT EXISTS remote_file_orphans (
				name TEXT PRIMARY KEY,
				attempts INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", db.driver)
	}

	for _, stmt := range stmts {
		if _, err := db.DB.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.driver, err)
		}
	}
	return nil
}
