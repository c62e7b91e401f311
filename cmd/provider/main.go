// cmd/provider/main.go
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"syscall"

	"arrowhead-go/internal/common/logging"
	"arrowhead-go/internal/config"
	"arrowhead-go/internal/discovery"
	"arrowhead-go/internal/identity"
	"arrowhead-go/internal/monitor"
	"arrowhead-go/internal/service"
	"arrowhead-go/internal/service/modules/echo"
	"arrowhead-go/internal/service/modules/files"
	"arrowhead-go/internal/transport"

	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "configs/provider.json", "provider config path")
	flag.Parse()

	var cfg config.ProviderConfig
	if err := config.Load(configPath, &cfg); err != nil {
		log.Fatal(err)
	}
	cfg.Defaults()

	logger, err := logging.NewLogger("provider", cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("provider stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.ProviderConfig, logger *zap.Logger) error {
	tlsConfig, err := cfg.TLS.ServerTLS()
	if err != nil {
		return err
	}

	svc := service.NewServer(logger, nil)
	if err := svc.RegisterModule(echo.New()); err != nil {
		return err
	}
	if cfg.FilesRoot != "" {
		if err := svc.RegisterModule(files.New(cfg.FilesRoot)); err != nil {
			return err
		}
	}
	svc.Freeze()

	hub := monitor.NewHub(cfg.Monitor.History, logger)
	defer hub.Close()

	srv := transport.NewServer(svc, transport.Options{
		MaxConnections: cfg.MaxConnections,
		Workers:        cfg.Workers,
		MaxBodySize:    cfg.MaxBodySize,
		IdleTimeout:    cfg.IdleTimeout(),
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
		TLSConfig:      tlsConfig,
		InsecureName:   cfg.TLS.InsecureName,
		StatsInterval:  cfg.StatsInterval(),
		Observer:       hub,
	}, logger)

	sources := monitor.Sources{Hub: hub, Services: svc.Registry(), Stats: srv}

	if cfg.Redis.Enabled() {
		client, err := discovery.NewClient(ctx, discovery.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		store := discovery.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL(), logger)
		provider, err := providerOf(cfg, tlsConfig)
		if err != nil {
			return err
		}
		records := discovery.RecordsFor(svc.Registry().Definitions(), provider)
		if err := store.KeepPublished(ctx, records, store.TTL()/3); err != nil {
			return err
		}
		discovery.StartHealthCheck(ctx, client, logger, store.TTL())
		sources.Records = store
		logger.Info("services published", zap.Int("count", len(records)), zap.String("addr", provider.Address))
	}

	if cfg.Monitor.ListenAddr != "" {
		go func() {
			if err := monitor.ListenAndServe(ctx, cfg.Monitor.ListenAddr, monitor.NewRouter(sources, logger), logger); err != nil {
				logger.Error("monitor stopped", zap.Error(err))
			}
		}()
	}

	return srv.ListenAndServe(ctx, cfg.ListenAddr)
}

// providerOf describes this system as it appears in service records.
func providerOf(cfg config.ProviderConfig, tlsConfig *tls.Config) (discovery.Provider, error) {
	addr, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
	if err != nil {
		return discovery.Provider{}, fmt.Errorf("advertise addr: %w", err)
	}
	var sys *identity.System
	if tlsConfig != nil {
		leaf, err := x509.ParseCertificate(tlsConfig.Certificates[0].Certificate[0])
		if err != nil {
			return discovery.Provider{}, fmt.Errorf("parse certificate: %w", err)
		}
		sys, err = identity.FromChain([]*x509.Certificate{leaf}, addr)
		if err != nil {
			return discovery.Provider{}, err
		}
	} else {
		sys, err = identity.Insecure(cfg.SystemName, addr)
		if err != nil {
			return discovery.Provider{}, err
		}
	}
	return discovery.NewProvider(sys, cfg.AdvertiseAddr)
}
