package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteBusyTimeoutMs = 5000

// Config 描述数据库连接参数。
type Config struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// dialect 把配置中的驱动名映射到 database/sql 驱动与 goqu 方言。
type dialect struct {
	name       string
	sqlDriver  string
	goqu       string
	migrations string
}

func resolveDialect(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "mysql":
		return dialect{name: "mysql", sqlDriver: "mysql", goqu: "mysql", migrations: "mysql"}, nil
	case "postgres", "postgresql", "pgx":
		return dialect{name: "postgres", sqlDriver: "pgx", goqu: "postgres", migrations: "postgres"}, nil
	case "sqlite", "sqlite3":
		return dialect{name: "sqlite", sqlDriver: "sqlite", goqu: "sqlite3", migrations: "sqlite"}, nil
	default:
		return dialect{}, fmt.Errorf("不支持的数据库驱动: %s", driver)
	}
}

func openDatabase(ctx context.Context, d dialect, cfg Config) (*sqlx.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("%s DSN 不能为空", d.name)
	}

	db, err := sqlx.Open(d.sqlDriver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 失败: %w", d.name, err)
	}

	if d.name == "sqlite" {
		// SQLite 只允许单写者，连接池固定为一个连接。
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		} else {
			db.SetMaxOpenConns(20)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		} else {
			db.SetMaxIdleConns(10)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 %s: %w", d.name, err)
	}

	if d.name == "sqlite" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", sqliteBusyTimeoutMs)); err != nil {
			db.Close()
			return nil, fmt.Errorf("设置 busy_timeout 失败: %w", err)
		}
	}
	return db, nil
}
