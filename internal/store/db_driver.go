package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// DBType 数据库类型
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"

	driverSQLite   = "sqlite3"
	driverPostgres = "pgx"

	sqliteMemory = ":memory:"
)

// placeholder returns ? for SQLite and $n for PostgreSQL.
func placeholder(dbType DBType, index int) string {
	if dbType == DBTypeSQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", index)
}

// configureConnectionPool 按数据库类型设置连接池
func configureConnectionPool(db *sql.DB, dbType DBType) {
	if dbType == DBTypePostgres {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		return
	}
	// SQLite: single connection avoids locking and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
}
