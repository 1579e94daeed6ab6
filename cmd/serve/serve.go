// Package serve implements the serve sub-command.
package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vrflottery/lottery/api"
	cmdCommon "github.com/vrflottery/lottery/cmd/common"
	"github.com/vrflottery/lottery/config"
	"github.com/vrflottery/lottery/deploy"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/metrics"
	"github.com/vrflottery/lottery/recorder"
	"github.com/vrflottery/lottery/storage"
)

const (
	moduleName = "serve"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the lottery API and record finished rounds",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cfg, err := cmdCommon.LoadConfig(cmd)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		return err
	}
	if cfg.Server == nil {
		return errors.New("no server config provided")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := Init(ctx, cfg)
	if err != nil {
		return err
	}
	defer service.Close()
	return service.Run(ctx)
}

// Service runs the API, the round recorder and the metrics endpoints.
type Service struct {
	cfg      *config.Config
	deployer *deploy.Deployer
	store    storage.RoundStore
	api      *api.LotteryAPI
	recorder *recorder.Recorder
	logger   *log.Logger
}

// Init connects to the network and storage and wires the services.
func Init(ctx context.Context, cfg *config.Config) (*Service, error) {
	logger := cmdCommon.RootLogger().WithModule(moduleName)
	logger.Info("initializing server", "endpoint", cfg.Server.Endpoint)

	d, err := cmdCommon.NewDeployer(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Network == config.NetworkDevelopment {
		// The development chain starts empty, so give the API a lottery.
		if _, err = d.FundContract(ctx); err != nil {
			d.Network().Close()
			return nil, err
		}
	}

	store, err := cmdCommon.NewStorage(ctx, cfg.Server.Storage, cmdCommon.RootLogger())
	if err != nil {
		d.Network().Close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}

	s := &Service{
		cfg:      cfg,
		deployer: d,
		store:    store,
		api:      api.NewLotteryAPI(d, store, cmdCommon.RootLogger()),
		logger:   logger,
	}

	switch l, err := d.Lottery(ctx); {
	case errors.Is(err, deploy.ErrNotDeployed):
		logger.Warn("no lottery deployed, rounds will not be recorded")
	case err != nil:
		s.Close()
		return nil, err
	default:
		fromBlock, err := d.LotteryDeployBlock(ctx, l.Address())
		if err != nil {
			s.Close()
			return nil, err
		}
		s.recorder = recorder.New(d.Network(), l.Address(), store, cmdCommon.RootLogger(),
			recorder.WithFromBlock(fromBlock),
			recorder.WithPollInterval(cfg.Server.PollInterval),
		)
	}
	return s, nil
}

// Run runs all services until ctx is done or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.api.Run(ctx, s.cfg.Server.Endpoint)
	})
	if s.recorder != nil {
		g.Go(func() error {
			s.recorder.Start(ctx)
			return nil
		})
	}
	if s.cfg.Metrics != nil {
		promServer, err := metrics.NewPullService(s.cfg.Metrics.PullEndpoint, cmdCommon.RootLogger())
		if err != nil {
			return err
		}
		g.Go(func() error {
			return promServer.Run(ctx)
		})
		if s.cfg.Metrics.PprofEndpoint != "" {
			g.Go(func() error {
				return cmdCommon.RunPprof(ctx, s.cfg.Metrics.PprofEndpoint)
			})
		}
	}

	s.logger.Info("started all services")
	err := g.Wait()
	s.logger.Info("all services stopped", "err", err)
	return err
}

// Close releases the network and storage connections.
func (s *Service) Close() {
	s.store.Close()
	s.deployer.Network().Close()
}

// Register registers the serve sub-command.
func Register(parentCmd *cobra.Command) {
	parentCmd.AddCommand(serveCmd)
}
