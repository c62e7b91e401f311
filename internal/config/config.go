package config

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type RedisConfig struct {
	Addr         string `json:"addr"`
	Password     string `json:"password"`
	DB           int    `json:"db"`
	KeyPrefix    string `json:"key_prefix"`
	TTLSec       int    `json:"ttl_sec"`
	PoolSize     int    `json:"pool_size"`
	MinIdleConns int    `json:"min_idle_conns"`
}

// Enabled is false when no address is configured; discovery is then off.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

func (c RedisConfig) TTL() time.Duration { return seconds(c.TTLSec) }

// TLSConfig names PEM files. With no certificate configured the system
// runs insecure and identifies itself as InsecureName.
type TLSConfig struct {
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
	CAFile   string `json:"ca_file"`
	// RequireClientCert makes a provider demand and verify consumer
	// certificates against CAFile.
	RequireClientCert bool   `json:"require_client_cert"`
	InsecureName      string `json:"insecure_name"`
}

func (c TLSConfig) Enabled() bool { return c.CertFile != "" }

type MonitorConfig struct {
	ListenAddr string `json:"listen_addr"`
	History    int    `json:"history"`
}

type ProviderConfig struct {
	SystemName       string        `json:"system_name"`
	ListenAddr       string        `json:"listen_addr"`
	AdvertiseAddr    string        `json:"advertise_addr"`
	TLS              TLSConfig     `json:"tls"`
	ReadTimeoutSec   int           `json:"read_timeout_sec"`
	WriteTimeoutSec  int           `json:"write_timeout_sec"`
	IdleTimeoutSec   int           `json:"idle_timeout_sec"`
	MaxConnections   int           `json:"max_connections"`
	Workers          int           `json:"workers"`
	MaxBodySize      int64         `json:"max_body_size"`
	StatsIntervalSec int           `json:"stats_interval_sec"`
	LogLevel         string        `json:"log_level"`
	FilesRoot        string        `json:"files_root"`
	Redis            RedisConfig   `json:"redis"`
	Monitor          MonitorConfig `json:"monitor"`
}

func (c *ProviderConfig) Defaults() {
	if c.SystemName == "" {
		c.SystemName = "provider"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8443"
	}
	if c.AdvertiseAddr == "" {
		c.AdvertiseAddr = c.ListenAddr
	}
	if c.WriteTimeoutSec <= 0 {
		c.WriteTimeoutSec = 10
	}
	if c.IdleTimeoutSec <= 0 {
		c.IdleTimeoutSec = 60
	}
	if c.ReadTimeoutSec <= 0 {
		c.ReadTimeoutSec = 15
	}
	if c.Workers <= 0 {
		c.Workers = 64
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 8 << 20
	}
	if c.StatsIntervalSec <= 0 {
		c.StatsIntervalSec = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Redis.defaults()
}

func (c *ProviderConfig) ReadTimeout() time.Duration   { return seconds(c.ReadTimeoutSec) }
func (c *ProviderConfig) WriteTimeout() time.Duration  { return seconds(c.WriteTimeoutSec) }
func (c *ProviderConfig) IdleTimeout() time.Duration   { return seconds(c.IdleTimeoutSec) }
func (c *ProviderConfig) StatsInterval() time.Duration { return seconds(c.StatsIntervalSec) }

type ConsumerConfig struct {
	SystemName      string      `json:"system_name"`
	TLS             TLSConfig   `json:"tls"`
	DialTimeoutSec  int         `json:"dial_timeout_sec"`
	ReadTimeoutSec  int         `json:"read_timeout_sec"`
	WriteTimeoutSec int         `json:"write_timeout_sec"`
	MaxBodySize     int64       `json:"max_body_size"`
	LogLevel        string      `json:"log_level"`
	Redis           RedisConfig `json:"redis"`
}

func (c *ConsumerConfig) Defaults() {
	if c.SystemName == "" {
		c.SystemName = "consumer"
	}
	if c.DialTimeoutSec <= 0 {
		c.DialTimeoutSec = 5
	}
	if c.ReadTimeoutSec <= 0 {
		c.ReadTimeoutSec = 30
	}
	if c.WriteTimeoutSec <= 0 {
		c.WriteTimeoutSec = 10
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = 8 << 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Redis.defaults()
}

func (c *ConsumerConfig) DialTimeout() time.Duration  { return seconds(c.DialTimeoutSec) }
func (c *ConsumerConfig) ReadTimeout() time.Duration  { return seconds(c.ReadTimeoutSec) }
func (c *ConsumerConfig) WriteTimeout() time.Duration { return seconds(c.WriteTimeoutSec) }

func (c *RedisConfig) defaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "arrowhead:"
	}
	if c.TTLSec <= 0 {
		c.TTLSec = 30
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func Load(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ServerTLS builds a provider TLS config, or nil when TLS is off.
func (c TLSConfig) ServerTLS() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
		if c.RequireClientCert {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		}
	}
	return cfg, nil
}

// ClientTLS builds a consumer TLS config, or nil when TLS is off.
func (c TLSConfig) ClientTLS() (*tls.Config, error) {
	if !c.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if c.CAFile != "" {
		pool, err := loadPool(c.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("ca %s holds no certificates", path)
	}
	return pool, nil
}
