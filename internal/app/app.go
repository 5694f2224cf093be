// Package app holds the wiring shared by the server and worker binaries.
package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/coinpilot/coinpilot/internal/config"
	"github.com/coinpilot/coinpilot/internal/exchange"
	"github.com/coinpilot/coinpilot/internal/exchange/coinbase"
	"github.com/coinpilot/coinpilot/internal/pkg/crypto"
	"github.com/coinpilot/coinpilot/internal/repository"
	"github.com/coinpilot/coinpilot/internal/service"
	"github.com/spf13/pflag"
)

// ErrMissingBotID is returned when a worker is started without --id.
var ErrMissingBotID = errors.New("--id <botID> is required")

// Stores are the relational stores every binary shares.
type Stores struct {
	Credentials   service.CredentialStore
	States        service.OAuthStateRepo
	Bots          service.BotRepo
	Subscriptions service.SubscriptionRepo
	Close         func()
}

// OpenStores connects to Postgres and applies migrations. Without a DSN it
// falls back to process-local memory stores, which only make sense for a
// single-process development run.
func OpenStores(cfg *config.Config, log *slog.Logger) (*Stores, error) {
	if cfg.Database.DSN == "" {
		log.Warn("database.dsn is empty, using in-memory stores")
		return &Stores{
			Credentials:   repository.NewMemoryCredentialStore(),
			States:        repository.NewMemoryOAuthStateStore(),
			Bots:          repository.NewMemoryBotStore(),
			Subscriptions: repository.NewMemorySubscriptionStore(),
			Close:         func() {},
		}, nil
	}

	db, err := repository.NewDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}
	log.Info("connected to PostgreSQL")
	return &Stores{
		Credentials:   repository.NewPostgresCredentialRepo(db),
		States:        repository.NewPostgresOAuthStateRepo(db),
		Bots:          repository.NewPostgresBotRepo(db),
		Subscriptions: repository.NewPostgresSubscriptionRepo(db),
		Close: func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		},
	}, nil
}

// Registry builds the exchange registry from config.
func Registry(cfg *config.Config) *exchange.Registry {
	return exchange.NewRegistry(coinbase.New(cfg.Exchanges.Coinbase, nil))
}

// TokenBroker assembles the broker over the shared credential store.
func TokenBroker(cfg *config.Config, stores *Stores, registry *exchange.Registry, log *slog.Logger) (*service.TokenBroker, error) {
	codec, err := crypto.NewCodec(cfg.Crypto.TokenKey)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}
	return service.NewTokenBroker(stores.Credentials, codec, registry, cfg.Broker, log), nil
}

// ParseBotID reads the required --id flag of a worker binary.
func ParseBotID(name string, args []string, stderr io.Writer) (int64, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Int64("id", 0, "bot id to run")
	err := fs.Parse(args)
	if err == nil && (!fs.Changed("id") || *id <= 0) {
		err = ErrMissingBotID
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\nusage: %s --id <botID>\n", name, err, name)
		return 0, err
	}
	return *id, nil
}
