// Package common implements common lottery command options.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver for golang_migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"       // support file scheme for golang_migrate
	"github.com/spf13/cobra"

	"github.com/vrflottery/lottery/config"
	"github.com/vrflottery/lottery/deploy"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/network"
	"github.com/vrflottery/lottery/network/devchain"
	"github.com/vrflottery/lottery/network/evmchain"
	"github.com/vrflottery/lottery/storage"
	"github.com/vrflottery/lottery/storage/deployments"
	"github.com/vrflottery/lottery/storage/memory"
	"github.com/vrflottery/lottery/storage/postgres"
)

// Persistent flags registered by the root command.
const (
	FlagConfig  = "config"
	FlagNetwork = "network"
)

var rootLogger = log.NewDefaultLogger("lottery")

// LoadConfig reads the configuration named by the command's persistent
// flags and initializes the common environment from it.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return nil, err
	}
	overrides := map[string]interface{}{}
	if networkName, _ := cmd.Flags().GetString(FlagNetwork); networkName != "" {
		overrides["network"] = networkName
	}
	cfg, err := config.InitConfig(configFile, overrides)
	if err != nil {
		return nil, err
	}
	if err = Init(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init initializes the common environment.
func Init(cfg *config.Config) error {
	var w io.Writer = os.Stdout
	format := log.FmtJSON
	level := log.LevelDebug

	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if format, err = log.ParseFormat(cfg.Log.Format); err != nil {
			return err
		}
		if level, err = log.ParseLevel(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger, err := log.NewLogger("lottery", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger.With("network", cfg.Network)
	return nil
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

// Logger returns the root logger scoped to the cmd module.
func Logger() *log.Logger {
	return rootLogger.WithModule("cmd")
}

func getLoggingStream(cfg *config.LogConfig) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return os.Stdout, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewNetwork connects to the active network. The development network is an
// in-process chain that lives as long as the returned value.
func NewNetwork(ctx context.Context, cfg *config.Config) (network.Network, error) {
	logger := RootLogger()
	if cfg.Network == config.NetworkDevelopment {
		logger.Warn("using the in-process development chain, state is lost when the command exits")
		return devchain.New(devchain.WithLogger(logger)), nil
	}
	ncfg, err := cfg.ActiveNetwork()
	if err != nil {
		return nil, err
	}
	chain, err := evmchain.Dial(ctx, cfg.Network, ncfg, cfg.Wallets, cfg.Build, logger)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// NewRegistry opens the deployment registry of the active network.
func NewRegistry(cfg *config.Config) (*deployments.Registry, error) {
	if cfg.Network == config.NetworkDevelopment {
		return deployments.NewMemory(), nil
	}
	return deployments.Load(cfg.Build.Deployments)
}

// NewDeployer wires the active network, its configuration and the registry.
// The caller closes the deployer's network.
func NewDeployer(ctx context.Context, cfg *config.Config) (*deploy.Deployer, error) {
	ncfg, err := cfg.ActiveNetwork()
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	net, err := NewNetwork(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Network, err)
	}
	return deploy.New(net, ncfg, cfg.Lottery, registry, RootLogger()), nil
}

// NewStorage opens the round store, migrating the postgres schema first.
func NewStorage(ctx context.Context, cfg *config.StorageConfig, logger *log.Logger) (storage.RoundStore, error) {
	var backend config.StorageBackend
	if err := backend.Set(cfg.Backend); err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendInMemory:
		return memory.New(), nil
	case config.BackendPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage backend: %v", cfg.Backend)
	}

	client, err := postgres.NewClient(ctx, cfg.Endpoint, logger)
	if err != nil {
		return nil, err
	}
	if cfg.WipeStorage {
		logger.Warn("wiping storage")
		if err = client.Wipe(ctx); err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("storage wiped")
	}
	if err = migrateUp(cfg, logger); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func migrateUp(cfg *config.StorageConfig, logger *log.Logger) error {
	m, err := migrate.New(cfg.Migrations, cfg.Endpoint)
	if err != nil {
		logger.Error("migrator failed to start", "error", err)
		return err
	}
	defer m.Close()
	m.Log = log.NewPrinter(logger.WithModule("migrate"))

	switch err = m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations needed to be applied")
	case err != nil:
		logger.Error("migrations failed", "error", err)
		return err
	default:
		logger.Info("migrations completed")
	}
	return nil
}
