// Package app assembles the authentication core from configuration. Both the HTTP
// server and the CLI build their dependencies through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"zkpauth/internal/audit"
	"zkpauth/internal/auth"
	"zkpauth/internal/claim"
	"zkpauth/internal/identity"
	"zkpauth/internal/issuer"
	jwttoken "zkpauth/internal/jwt_token"
	"zkpauth/internal/platform/config"
	"zkpauth/internal/platform/redis"
	"zkpauth/internal/proof"
	"zkpauth/internal/session"
	"zkpauth/internal/storage"
	"zkpauth/internal/wallet"
	"zkpauth/pkg/platform/circuit"
)

const (
	tokenIssuer   = "zkpauth"
	tokenAudience = "zkpauth"

	auditBufferSize        = 1024
	auditTopicPartitions   = 3
	auditReplicationFactor = 1

	purgeInterval = 10 * time.Minute
)

// Worker is a background task that runs until ctx is cancelled.
type Worker func(ctx context.Context) error

// App holds the assembled components. Optional parts are nil when not configured.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.Store
	Deriver  *identity.Deriver
	Sessions *session.Manager
	Auth     *auth.Service

	// Gateway and Facade are set when the issuer node is enabled.
	Gateway *issuer.Client
	Facade  *issuer.Facade

	Audit    *audit.Publisher
	AuditLog *audit.MemoryStore
	Wallet   *wallet.Monitor

	workers []Worker
	closers []func() error
}

// Build assembles the core. reg receives every module's metrics; pass a fresh
// registry in tests.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &App{Config: cfg, Logger: logger}

	if err := a.buildStorage(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.buildAudit(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.buildWallet(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	claimOpts := []claim.Option{
		claim.WithTTL(cfg.Claim.TTL.Duration),
		claim.WithLogger(logger),
	}
	authOpts := []auth.Option{
		auth.WithAuditPublisher(a.Audit),
		auth.WithRequiredChainID(cfg.Auth.RequiredChainID),
		auth.WithGenerationTimeout(cfg.Proof.GenerationTimeout.Duration),
		auth.WithLogger(logger),
		auth.WithMetrics(auth.NewMetricsWith(reg)),
	}
	if cfg.Issuer.Enabled {
		a.Gateway = issuer.NewClient(cfg.Issuer.URL,
			issuer.WithBasicAuth(cfg.Issuer.User, cfg.Issuer.Password),
			issuer.WithTimeout(cfg.Issuer.Timeout.Duration),
			issuer.WithBreaker(circuit.New("issuer",
				circuit.WithFailureThreshold(cfg.Issuer.FailureThreshold),
				circuit.WithCooldown(cfg.Issuer.Cooldown.Duration),
			)),
			issuer.WithMetrics(issuer.NewMetricsWith(reg)),
			issuer.WithLogger(logger),
		)
		a.Facade = issuer.NewFacade(a.Gateway, logger)
		claimOpts = append(claimOpts, claim.WithBackend(issuer.NewClaimBackend(a.Gateway)))
		authOpts = append(authOpts, auth.WithGateway(a.Gateway))
	}

	a.Deriver = identity.NewDeriver(identity.WithNamespaces(cfg.Auth.WalletNamespace, cfg.Auth.CredentialNamespace))

	engineOpts := []proof.Option{
		proof.WithProver(proof.NewSimulatedProver(cfg.Proof.ProverDelay.Duration)),
		proof.WithMaxAge(cfg.Proof.MaxAge.Duration),
		proof.WithMetrics(proof.NewMetricsWith(reg)),
		proof.WithLogger(logger),
	}
	if cfg.Proof.CircuitID != proof.DefaultCircuitID {
		engineOpts = append(engineOpts, proof.WithCircuit(proof.Circuit{ID: cfg.Proof.CircuitID, SignalCount: 3}))
	}

	tokens := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, tokenIssuer, tokenAudience)
	a.Sessions = session.NewManager(session.NewStore(a.Store), tokens,
		session.WithTTL(cfg.Session.TTL.Duration),
		session.WithLogger(logger),
		session.WithMetrics(session.NewMetricsWith(reg)),
	)

	a.Auth = auth.New(
		a.Deriver,
		claim.NewIssuer(cfg.Auth.IssuerDID, claimOpts...),
		claim.NewStore(a.Store),
		proof.New(engineOpts...),
		a.Sessions,
		auth.NewKVUserStore(a.Store),
		authOpts...,
	)
	return a, nil
}

func (a *App) buildStorage(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case "redis":
		client, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.Store = storage.NewRedisStore(client.Client, storage.WithRedisPrefix("zkpauth:"))
		a.closers = append(a.closers, client.Close)
	case "postgres":
		db, err := storage.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		pg := storage.NewPostgresStore(db)
		a.Store = pg
		a.closers = append(a.closers, db.Close)
		a.workers = append(a.workers, purgeWorker(pg, a.Logger))
	case "sqlite":
		lite, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.Store = lite
		a.closers = append(a.closers, lite.Close)
	default:
		a.Store = storage.NewMemoryStore()
	}
	a.Logger.InfoContext(ctx, "storage ready", "driver", cfg.Storage.Driver)
	return nil
}

func (a *App) buildAudit(ctx context.Context) error {
	kafka := a.Config.Kafka
	if len(kafka.Brokers) == 0 {
		a.AuditLog = audit.NewMemoryStore()
		a.Audit = audit.NewPublisher(a.AuditLog)
		return nil
	}

	sink, err := audit.NewKafkaSink(kafka.Brokers, kafka.Topic)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		sink.Close()
		return nil
	})
	if err := sink.EnsureTopic(ctx, auditTopicPartitions, auditReplicationFactor); err != nil {
		return fmt.Errorf("ensure audit topic: %w", err)
	}
	async := audit.NewAsyncSink(sink, auditBufferSize, a.Logger)
	a.Audit = audit.NewPublisher(async)
	a.workers = append(a.workers, async.Run)
	a.Logger.InfoContext(ctx, "audit stream enabled", "topic", kafka.Topic)
	return nil
}

func (a *App) buildWallet(ctx context.Context) error {
	cfg := a.Config.Wallet
	if cfg.RPCURL == "" || cfg.Address == "" {
		return nil
	}
	client, err := wallet.Dial(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		client.Close()
		return nil
	})
	monitor, err := wallet.NewMonitor(client, cfg.Address,
		wallet.WithInterval(cfg.PollInterval.Duration),
		wallet.WithLogger(a.Logger),
	)
	if err != nil {
		return err
	}
	a.Wallet = monitor
	a.workers = append(a.workers, monitor.Run)
	return nil
}

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func purgeWorker(p purger, logger *slog.Logger) Worker {
	return func(ctx context.Context) error {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := p.PurgeExpired(ctx)
				if err != nil {
					logger.WarnContext(ctx, "purge expired entries failed", "error", err)
					continue
				}
				if n > 0 {
					logger.DebugContext(ctx, "purged expired entries", "count", n)
				}
			}
		}
	}
}

// Workers returns the background tasks the configuration enabled.
func (a *App) Workers() []Worker {
	return a.workers
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
