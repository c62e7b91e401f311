// cmd/consumer/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arrowhead-go/internal/client"
	"arrowhead-go/internal/common/logging"
	"arrowhead-go/internal/config"
	"arrowhead-go/internal/discovery"
	"arrowhead-go/internal/protocol"
	"arrowhead-go/internal/service/modules/echo"

	"go.uber.org/zap"
)

func main() {
	var (
		configPath string
		name       string
		text       string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "configs/consumer.json", "consumer config path")
	flag.StringVar(&name, "service", "echo", "service to consume")
	flag.StringVar(&text, "msg", "hello", "message sent to the echo service")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "overall request timeout")
	flag.Parse()

	var cfg config.ConsumerConfig
	if err := config.Load(configPath, &cfg); err != nil {
		log.Fatal(err)
	}
	cfg.Defaults()

	logger, err := logging.NewLogger("consumer", cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := consume(ctx, cfg, name, text, logger)
	if err != nil {
		logger.Fatal("consume failed", zap.String("service", name), zap.Error(err))
	}
	body, err := resp.Text()
	if err != nil {
		body = fmt.Sprintf("%d bytes", len(resp.Body()))
	}
	fmt.Fprintf(os.Stdout, "%s\n%s\n", resp.Status(), body)
}

func consume(ctx context.Context, cfg config.ConsumerConfig, name, text string, logger *zap.Logger) (*client.Response, error) {
	if !cfg.Redis.Enabled() {
		return nil, fmt.Errorf("no discovery store configured")
	}
	rc, err := discovery.NewClient(ctx, discovery.RedisConfig{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	store := discovery.NewRedisStore(rc, cfg.Redis.KeyPrefix, cfg.Redis.TTL(), logger)

	records, err := store.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := cfg.TLS.ClientTLS()
	if err != nil {
		return nil, err
	}
	c := client.New(client.Options{
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		MaxBodySize:  cfg.MaxBodySize,
	}, logger)

	var lastErr error
	for _, rec := range records {
		if rec.Secure != c.Secure() {
			continue
		}
		resp, err := c.Consume(ctx, rec, requestFor(rec, text)).Await(ctx)
		if err != nil {
			logger.Warn("provider failed", zap.String("record", rec.String()), zap.Error(err))
			lastErr = err
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no %s provider matches the client security mode", discovery.ErrNotFound, name)
	}
	return nil, lastErr
}

// requestFor posts a message when the record accepts POST and issues a
// plain GET otherwise.
func requestFor(rec discovery.Record, text string) *client.Request {
	for _, m := range rec.Methods {
		if m == protocol.MethodPost.String() {
			req := client.NewRequest(protocol.MethodPost, "")
			req.SetValue(echo.Message{Text: text})
			return req
		}
	}
	return client.NewRequest(protocol.MethodGet, "").AddQuery("msg", text)
}
