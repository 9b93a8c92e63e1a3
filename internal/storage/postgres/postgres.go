// Package postgres stores player accounts in PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/floe/internal/config"
)

// Pool is the account store's connection pool. It doubles as a
// server.Service: Start pings the database every HealthInterval until Stop,
// which closes the pool.
type Pool struct {
	pool     *pgxpool.Pool
	ping     func(context.Context) error
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	observe  func(up bool)

	stop     chan struct{}
	stopOnce sync.Once
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger sets the logger used for failed health checks.
func WithLogger(l *zap.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithHealthObserver registers fn to receive the outcome of every periodic
// health check.
func WithHealthObserver(fn func(up bool)) PoolOption {
	return func(p *Pool) { p.observe = fn }
}

// NewPool connects to the database described by cfg and verifies it answers.
//
// Postcondition: Returns a Pool that has answered one ping, or a non-nil error
// with no connections left open.
func NewPool(ctx context.Context, cfg config.DatabaseConfig, opts ...PoolOption) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	raw, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := raw.Ping(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("pinging %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	p := newPool(raw.Ping, cfg.HealthInterval, cfg.HealthTimeout, opts...)
	p.pool = raw
	return p, nil
}

func newPool(ping func(context.Context) error, interval, timeout time.Duration, opts ...PoolOption) *Pool {
	p := &Pool{
		ping:     ping,
		interval: interval,
		timeout:  timeout,
		logger:   zap.NewNop(),
		observe:  func(bool) {},
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Health pings the database, giving up after the configured health timeout.
func (p *Pool) Health(ctx context.Context) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.ping(ctx)
}

// Start checks Health every interval until Stop. A zero interval disables
// the checks; Start then only waits for Stop.
func (p *Pool) Start() error {
	if p.interval <= 0 {
		<-p.stop
		return nil
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	healthy := true
	for {
		select {
		case <-p.stop:
			return nil
		case <-ticker.C:
			err := p.Health(ctx)
			if ctx.Err() != nil {
				return nil
			}
			p.observe(err == nil)
			switch {
			case err != nil:
				p.logger.Warn("database health check failed", zap.Error(err))
			case !healthy:
				p.logger.Info("database reachable again")
			}
			healthy = err == nil
		}
	}
}

// Stop ends the health checks and closes the pool.
func (p *Pool) Stop(context.Context) {
	p.Close()
}

// Close releases every connection. It is safe to call more than once and
// alongside Stop.
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.pool != nil {
			p.pool.Close()
		}
	})
}

// DB returns the pgx pool for repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
