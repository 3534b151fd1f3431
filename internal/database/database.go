package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config selects and addresses the backing database.
type Config struct {
	Driver   string
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
}

// Connect opens the configured database and runs migrations.
func Connect(cfg Config) (*sql.DB, error) {
	db, err := Dial(cfg)
	if err != nil {
		return nil, err
	}

	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	if err := Migrate(db, driver, "up"); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Dial opens and pings the configured database without migrating it.
func Dial(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverMySQL:
		return dialMySQL(cfg)
	case DriverSQLite, "":
		return dialSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// Open opens a SQLite database at the given path and runs migrations.
func Open(dbPath string) (*sql.DB, error) {
	return Connect(Config{Driver: DriverSQLite, Path: dbPath})
}

func dialSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if strings.HasPrefix(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// MySQLDSN builds a DSN for the go-sql-driver with time parsing enabled.
func MySQLDSN(cfg Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN()
}

func dialMySQL(cfg Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", MySQLDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// Migrate runs a goose command ("up", "down", "status") against the
// embedded migrations for driver.
func Migrate(db *sql.DB, driver, command string) error {
	goose.SetBaseFS(migrations)

	dialect := "sqlite3"
	dir := "migrations/sqlite"
	if driver == DriverMySQL {
		dialect = "mysql"
		dir = "migrations/mysql"
	}

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	switch command {
	case "up":
		if err := goose.Up(db, dir); err != nil {
			return fmt.Errorf("goose up: %w", err)
		}
	case "down":
		if err := goose.Down(db, dir); err != nil {
			return fmt.Errorf("goose down: %w", err)
		}
	case "status":
		if err := goose.Status(db, dir); err != nil {
			return fmt.Errorf("goose status: %w", err)
		}
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
