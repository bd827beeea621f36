package metastore

import (
	"fmt"

	"github.com/openmined/syncbox/internal/db"
	"github.com/redis/go-redis/v9"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Driver string
	// DSN is a file path for sqlite, a connection string for postgres and a redis:// URL for redis.
	DSN     string
	Domains Domains
	// Prefix namespaces redis keys.
	Prefix string
}

// Open creates the backend named by opts.Driver. The caller runs Init.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case DriverSqlite, "":
		sqldb, err := db.NewSqliteDB(db.WithPath(opts.DSN), db.WithMaxOpenConns(1))
		if err != nil {
			return nil, fmt.Errorf("open sqlite metastore: %w", err)
		}
		return NewSQLStore(sqldb, opts.Domains)

	case DriverPostgres:
		sqldb, err := db.NewPostgresDB(opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres metastore: %w", err)
		}
		return NewSQLStore(sqldb, opts.Domains)

	case DriverRedis:
		redisOpts, err := redis.ParseURL(opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return NewRedisStore(redis.NewClient(redisOpts), opts.Prefix, opts.Domains)

	default:
		return nil, fmt.Errorf("unknown metastore driver %q", opts.Driver)
	}
}
