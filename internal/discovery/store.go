package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultKeyPrefix = "arrowhead:"
	DefaultTTL       = 30 * time.Second
)

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// NewClient connects and pings once so that a bad address fails at start
// up rather than on first use.
func NewClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 20
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// RedisStore keeps records under expiring keys. A provider that stops
// refreshing its records disappears once the TTL runs out.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (s *RedisStore) TTL() time.Duration { return s.ttl }

// Publish stores rec, replacing an earlier record of the same service and
// provider, and restarts its TTL.
func (s *RedisStore) Publish(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyRecord(s.prefix, rec.Name, rec.Provider.Name), data, s.ttl)
		pipe.SAdd(ctx, keyProviders(s.prefix, rec.Name), rec.Provider.Name)
		pipe.SAdd(ctx, keyServices(s.prefix), rec.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", rec, err)
	}
	return nil
}

func (s *RedisStore) Unpublish(ctx context.Context, service, provider string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyRecord(s.prefix, service, provider))
		pipe.SRem(ctx, keyProviders(s.prefix, service), provider)
		return nil
	})
	if err != nil {
		return fmt.Errorf("unpublish %s@%s: %w", service, provider, err)
	}
	return nil
}

// Lookup returns the live records of service ordered by provider name, or
// ErrNotFound. Index entries whose record expired are pruned on the way.
func (s *RedisStore) Lookup(ctx context.Context, service string) ([]Record, error) {
	records, err := s.lookup(ctx, service)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, service)
	}
	return records, nil
}

// List returns every live record grouped by service name.
func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	services, err := s.client.SMembers(ctx, keyServices(s.prefix)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("list services: %w", err)
	}
	sort.Strings(services)

	var out []Record
	for _, name := range services {
		records, err := s.lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			_ = s.client.SRem(ctx, keyServices(s.prefix), name).Err()
			continue
		}
		out = append(out, records...)
	}
	return out, nil
}

func (s *RedisStore) lookup(ctx context.Context, service string) ([]Record, error) {
	providers, err := s.client.SMembers(ctx, keyProviders(s.prefix, service)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("lookup %s: %w", service, err)
	}
	if len(providers) == 0 {
		return nil, nil
	}
	sort.Strings(providers)

	keys := make([]string, len(providers))
	for i, p := range providers {
		keys[i] = keyRecord(s.prefix, service, p)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", service, err)
	}

	records := make([]Record, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, providers[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("discarding unreadable record",
				zap.String("service", service),
				zap.String("provider", providers[i]),
				zap.String("reason", err.Error()),
			)
			stale = append(stale, providers[i])
			continue
		}
		records = append(records, rec)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, keyProviders(s.prefix, service), stale...).Err(); err != nil {
			s.logger.Debug("pruning stale providers failed",
				zap.String("service", service),
				zap.String("reason", err.Error()),
			)
		}
	}
	return records, nil
}

// KeepPublished publishes records now and again every interval until ctx
// is done, then unpublishes them. Failures are logged and retried on the
// next tick.
func (s *RedisStore) KeepPublished(ctx context.Context, records []Record, interval time.Duration) error {
	if interval <= 0 {
		interval = s.ttl / 3
	}
	for _, rec := range records {
		if err := s.Publish(ctx, rec); err != nil {
			return err
		}
		s.logger.Info("service published",
			zap.String("service", rec.Name),
			zap.String("uri", rec.URI),
			zap.String("address", rec.Provider.Address),
		)
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				cleanup, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				for _, rec := range records {
					if err := s.Unpublish(cleanup, rec.Name, rec.Provider.Name); err != nil {
						s.logger.Warn("unpublish failed", zap.String("service", rec.Name), zap.String("reason", err.Error()))
					}
				}
				cancel()
				return
			case <-ticker.C:
				for _, rec := range records {
					if err := s.Publish(ctx, rec); err != nil && ctx.Err() == nil {
						s.logger.Warn("refresh failed",
							zap.String("service", rec.Name),
							zap.String("reason", err.Error()),
						)
					}
				}
			}
		}
	}()
	return nil
}

// StartHealthCheck pings the client every interval and logs failures. It
// never closes or replaces the client.
func StartHealthCheck(ctx context.Context, client redis.UniversalClient, logger *zap.Logger, interval time.Duration) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := client.Ping(checkCtx).Err()
				cancel()
				if err != nil {
					logger.Warn("redis ping failed", zap.String("reason", err.Error()))
				}
			}
		}
	}()
}
