package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"leakdetector/internal/biz"
	"leakdetector/internal/conf"
	"leakdetector/internal/pkg/search"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisCache,
	NewHistoryRepo,
	NewThumbnailCache,
	NewHasher,
	NewThresholds,
	NewThumbnailVerifier,
	NewProviders,
	NewBreaker,
	NewOrchestrator,
	NewMerger,
	NewClassifier,
	wire.Bind(new(biz.Searcher), new(*search.Orchestrator)),
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Data struct for db client
type Data struct {
	Driver string
	Pool   *pgxpool.Pool // postgres queries
	DB     *sql.DB       // postgres migrations, or every sqlite query
}

// NewData new a data instance
func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data"))

	driver := c.Database.Driver
	if driver == "" {
		driver = DriverMemory
	}
	switch driver {
	case DriverPostgres:
		return newPostgres(c, helper)
	case DriverSQLite:
		return newSQLite(c, helper)
	case DriverMemory:
		helper.Warn("history is kept in memory and lost on exit")
		return &Data{Driver: DriverMemory}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func newPostgres(c *conf.Data, helper *log.Helper) (*Data, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pgxConfig, err := newPgxPoolConfig(c)
	if err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pgxConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	// golang-migrate works on database/sql
	db, err := sql.Open("postgres", c.Database.Source)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := RunMigrate(DriverPostgres, db); err != nil {
		pool.Close()
		db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}

	cleanup := func() {
		helper.Info("closing db connections")
		pool.Close()
		db.Close()
	}
	return &Data{Driver: DriverPostgres, Pool: pool, DB: db}, cleanup, nil
}

func newSQLite(c *conf.Data, helper *log.Helper) (*Data, func(), error) {
	db, err := openSQLite(c.Database.Source)
	if err != nil {
		return nil, nil, err
	}
	if err := RunMigrate(DriverSQLite, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}
	cleanup := func() {
		helper.Info("closing db connections")
		db.Close()
	}
	return &Data{Driver: DriverSQLite, DB: db}, cleanup, nil
}

// openSQLite opens a single-connection database so that writes are
// serialized and an in-memory database is not split across connections.
func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		path = "leakdetector.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	return db, nil
}

// newPgxPoolConfig creates a pgxpool.Config from conf.Data
func newPgxPoolConfig(c *conf.Data) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(c.Database.Source)
	if err != nil {
		return nil, err
	}
	pool := c.Database.Pool
	if pool.MaxOpenConns > 0 {
		cfg.MaxConns = pool.MaxOpenConns
	}
	if pool.MinIdleConns > 0 {
		cfg.MinConns = pool.MinIdleConns
	}
	if pool.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = time.Duration(pool.MaxConnLifetime) * time.Minute
	}
	if pool.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = time.Duration(pool.MaxConnIdleTime) * time.Minute
	}
	return cfg, nil
}
