package app

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/possync/internal/feed"
	"github.com/odyssey-erp/possync/internal/platform/cache"
	"github.com/odyssey-erp/possync/internal/platform/db"
	"github.com/odyssey-erp/possync/internal/possync"
	"github.com/odyssey-erp/possync/jobs"
)

// NewFeedFactory returns a factory of per-tenant POS clients. Clients are
// cached so each tenant keeps one rate limiter and one circuit breaker for
// the life of the process.
func NewFeedFactory(cfg *Config, tokens feed.TokenSource, logger *slog.Logger) jobs.FeedFactory {
	httpClient := &http.Client{Timeout: cfg.POSHTTPTimeout}
	var mu sync.Mutex
	clients := make(map[int64]*feed.Client)
	return func(profileID int64) (jobs.FeedSource, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[profileID]; ok {
			return c, nil
		}
		c, err := feed.NewClient(feed.ClientConfig{
			BaseURL:    cfg.POSAPIBaseURL,
			ProfileID:  profileID,
			Tokens:     tokens,
			HTTPClient: httpClient,
			Rate:       cfg.POSAPIRate,
			Burst:      cfg.POSAPIBurst,
			PageLimit:  cfg.POSPageLimit,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		clients[profileID] = c
		return c, nil
	}
}

// ServiceConfig maps the process configuration onto the engine settings.
func (c *Config) ServiceConfig() possync.ServiceConfig {
	return possync.ServiceConfig{
		StockCutover:         c.StockCutover.UTC(),
		EmployeeRole:         c.EmployeeRole,
		SyntheticEmailDomain: c.SyntheticEmailDomain,
	}
}

// DBOptions returns the connection pool settings.
func (c *Config) DBOptions() db.Options {
	return db.Options{DSN: c.PGDSN, MaxConns: c.PGMaxConns, MinConns: c.PGMinConns}
}

// RedisOptions returns the settings of the shared Redis client.
func (c *Config) RedisOptions() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// AsynqRedis returns the queue connection, pointed at the same Redis as RedisOptions.
func (c *Config) AsynqRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}
