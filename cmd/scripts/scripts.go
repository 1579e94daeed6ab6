// Package scripts implements the deployment and lottery operation
// sub-commands.
package scripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"

	"github.com/spf13/cobra"

	v1 "github.com/vrflottery/lottery/api/v1"
	cmdCommon "github.com/vrflottery/lottery/cmd/common"
	"github.com/vrflottery/lottery/config"
	"github.com/vrflottery/lottery/deploy"
)

const (
	flagEntries    = "entries"
	flagAccount    = "account"
	flagRandomness = "randomness"
	flagUSD        = "usd"
	flagSeconds    = "seconds"
)

// script is the body of a sub-command, run against a ready deployer.
type script func(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error

// run loads the configuration, connects to the network and runs s. Scripts
// that act on an existing lottery set needsLottery; on the development
// chain, which starts empty on every invocation, a funded lottery is
// deployed for them first.
func run(needsLottery bool, s script) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		cfg, err := cmdCommon.LoadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		d, err := cmdCommon.NewDeployer(ctx, cfg)
		if err != nil {
			return err
		}
		defer d.Network().Close()

		if needsLottery && cfg.Network == config.NetworkDevelopment {
			if _, err = d.FundContract(ctx); err != nil {
				return err
			}
		}
		if err = s(ctx, cmd, d); err != nil {
			cmdCommon.Logger().Error("script failed", "command", cmd.Name(), "err", err)
			return err
		}
		return nil
	}
}

func deployLottery(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	_, err := d.DeployLottery(ctx)
	return err
}

func deployMocks(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	if !d.Network().IsLocal() {
		return fmt.Errorf("mocks are only deployed on local networks, not %s", d.Network().Name())
	}
	return d.DeployMocks(ctx)
}

func fund(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	_, err := d.FundContract(ctx)
	return err
}

func start(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	_, err := d.StartLottery(ctx)
	return err
}

func enter(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	entries, err := cmd.Flags().GetUint64(flagEntries)
	if err != nil {
		return err
	}
	account, err := cmd.Flags().GetInt(flagAccount)
	if err != nil {
		return err
	}
	_, err = d.EnterLottery(ctx, account, entries)
	return err
}

func end(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	receipt, err := d.EndLottery(ctx)
	if err != nil {
		return err
	}
	if !d.Network().IsLocal() {
		cmdCommon.Logger().Info("waiting for the VRF coordinator to pick a winner")
		return nil
	}
	randomness, err := cmd.Flags().GetUint64(flagRandomness)
	if err != nil {
		return err
	}
	if randomness == 0 {
		randomness = rand.Uint64N(1<<63) + 1
	}
	_, err = d.FulfillRandomness(ctx, receipt, new(big.Int).SetUint64(randomness))
	return err
}

func setFee(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	usd, err := cmd.Flags().GetUint64(flagUSD)
	if err != nil {
		return err
	}
	if usd == 0 {
		return errors.New("--usd must be positive")
	}
	_, err = d.ChangeEntryFee(ctx, usd)
	return err
}

func setDuration(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	seconds, err := cmd.Flags().GetUint64(flagSeconds)
	if err != nil {
		return err
	}
	if seconds == 0 {
		return errors.New("--seconds must be positive")
	}
	_, err = d.ChangeDuration(ctx, seconds)
	return err
}

func status(ctx context.Context, cmd *cobra.Command, d *deploy.Deployer) error {
	l, err := d.Lottery(ctx)
	if err != nil {
		return err
	}
	view, err := v1.LotteryView(ctx, d.Network(), l)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

// Register registers the script sub-commands.
func Register(parentCmd *cobra.Command) {
	enterCmd := &cobra.Command{
		Use:   "enter",
		Short: "Enter the open lottery round",
		RunE:  run(true, enter),
	}
	enterCmd.Flags().Uint64(flagEntries, 1, "number of entries to buy")
	enterCmd.Flags().Int(flagAccount, 0, "index of the paying account")

	endCmd := &cobra.Command{
		Use:   "end",
		Short: "End the lottery round and request randomness",
		Long:  "End the lottery round. On local networks the mock coordinator answers immediately.",
		RunE:  run(true, end),
	}
	endCmd.Flags().Uint64(flagRandomness, 0, "randomness answered by the mock coordinator (random if 0)")

	setFeeCmd := &cobra.Command{
		Use:   "set-fee",
		Short: "Change the entry fee of future rounds",
		RunE:  run(true, setFee),
	}
	setFeeCmd.Flags().Uint64(flagUSD, 0, "entry fee in whole US dollars")

	setDurationCmd := &cobra.Command{
		Use:   "set-duration",
		Short: "Change the length of future rounds",
		RunE:  run(true, setDuration),
	}
	setDurationCmd.Flags().Uint64(flagSeconds, 0, "round length in seconds")

	parentCmd.AddCommand(
		&cobra.Command{
			Use:   "deploy",
			Short: "Deploy the lottery",
			RunE:  run(false, deployLottery),
		},
		&cobra.Command{
			Use:   "deploy-mocks",
			Short: "Deploy the price feed, LINK token and VRF coordinator mocks",
			RunE:  run(false, deployMocks),
		},
		&cobra.Command{
			Use:   "fund",
			Short: "Fund the latest lottery with LINK, deploying one if needed",
			RunE:  run(false, fund),
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start a lottery round",
			RunE:  run(true, start),
		},
		enterCmd,
		endCmd,
		setFeeCmd,
		setDurationCmd,
		&cobra.Command{
			Use:   "status",
			Short: "Print the state of the lottery",
			RunE:  run(true, status),
		},
	)
}
