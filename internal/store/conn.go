package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
	"github.com/marcboeker/go-duckdb"
)

// ConnConfig describes how to reach the record database.
type ConnConfig struct {
	Driver         string // "postgres" or "duckdb"
	URL            string // postgres DSN or duckdb file path
	MaxOpenConns   int
	MaxIdleConns   int
	ConnectTimeout time.Duration
	HealthInterval time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration

	DuckDBThreads     int
	DuckDBMemoryLimit string
}

// Conn owns the database handle. It connects once, keeps probing the database
// and reconnects with backoff after a failure; Ready reports the outcome.
type Conn struct {
	db  *sql.DB
	cfg ConnConfig

	ready   atomic.Bool
	started atomic.Bool

	hooksMu  sync.Mutex
	hooks    []func(context.Context, *sql.DB) error
	hooksRan bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Open creates the connection pool and makes the first connection attempt. A
// failed first attempt is not fatal: the handle starts not-ready and Start
// keeps retrying.
func Open(ctx context.Context, cfg ConnConfig) (*Conn, error) {
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 10 * time.Second
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	c := &Conn{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if err := c.check(ctx); err != nil {
		slog.Warn("database not reachable, will retry", "driver", cfg.Driver, "err", err)
	}
	return c, nil
}

func openDB(cfg ConnConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	case "duckdb":
		connector, err := duckdb.NewConnector(cfg.URL, func(execer driver.ExecerContext) error {
			var pragmas []string
			if cfg.DuckDBThreads > 0 {
				pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", cfg.DuckDBThreads))
			}
			if cfg.DuckDBMemoryLimit != "" {
				pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", cfg.DuckDBMemoryLimit))
			}
			for _, pragma := range pragmas {
				if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("create duckdb connector: %w", err)
		}
		return sql.OpenDB(connector), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// DB returns the underlying pool.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// Driver returns the configured driver name.
func (c *Conn) Driver() string {
	return c.cfg.Driver
}

// Ready reports whether the last check succeeded.
func (c *Conn) Ready() bool {
	return c.ready.Load()
}

// OnReady registers a hook run once, the first time the database is reachable.
// If the database is already reachable the hook runs immediately.
func (c *Conn) OnReady(ctx context.Context, hook func(context.Context, *sql.DB) error) error {
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, hook)
	ran := c.hooksRan
	c.hooksMu.Unlock()

	if ran {
		return hook(ctx, c.db)
	}
	if c.ready.Load() {
		return c.runHooks(ctx)
	}
	return nil
}

// Start launches the health monitor. Stop it with Close.
func (c *Conn) Start() {
	if c.started.Swap(true) {
		return
	}
	go c.monitor()
}

// Close stops the monitor and closes the pool.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	if c.started.Load() {
		select {
		case <-c.done:
		case <-time.After(c.cfg.ConnectTimeout):
		}
	}
	return c.db.Close()
}

func (c *Conn) monitor() {
	defer close(c.done)

	attempt := 0
	for {
		wait := c.cfg.HealthInterval
		if !c.ready.Load() {
			wait = backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)
		}

		select {
		case <-c.stop:
			return
		case <-time.After(wait):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		wasReady := c.ready.Load()
		err := c.check(ctx)
		cancel()

		switch {
		case err != nil && wasReady:
			slog.Error("database connection lost", "driver", c.cfg.Driver, "err", err)
			attempt = 0
		case err != nil:
			attempt++
			slog.Warn("database reconnect failed", "driver", c.cfg.Driver, "attempt", attempt, "err", err)
		case !wasReady:
			slog.Info("database connected", "driver", c.cfg.Driver)
			attempt = 0
		}
	}
}

// check pings the database, runs pending hooks and records readiness.
func (c *Conn) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	if err := c.db.PingContext(ctx); err != nil {
		c.ready.Store(false)
		return err
	}
	if err := c.runHooks(ctx); err != nil {
		c.ready.Store(false)
		return err
	}
	c.ready.Store(true)
	return nil
}

func (c *Conn) runHooks(ctx context.Context) error {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	if c.hooksRan || len(c.hooks) == 0 {
		return nil
	}
	for _, hook := range c.hooks {
		if err := hook(ctx, c.db); err != nil {
			return err
		}
	}
	c.hooksRan = true
	return nil
}

// backoff returns min*2^attempt capped at max.
func backoff(min, max time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(min) * math.Pow(2, float64(attempt)))
	if d > max || d <= 0 {
		return max
	}
	return d
}
