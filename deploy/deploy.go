// Package deploy implements the deployment scripts: mocks on local
// networks, the lottery itself, and LINK funding.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/config"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/network"
	"github.com/vrflottery/lottery/storage/deployments"
)

const (
	// Decimals of the mock ETH/USD price feed.
	Decimals = 8
	// EntryFeeUSD is the entry fee used when none is configured.
	EntryFeeUSD = 50

	moduleName = "deploy"
)

// Configuration keys of the oracle contracts, as in the networks section.
const (
	EthUsdPriceFeed = "eth_usd_price_feed"
	VRFCoordinator  = "vrf_coordinator"
	LinkToken       = "link_token"
)

var (
	// InitialPrice is the mock ETH/USD answer: $4000 with 8 decimals.
	InitialPrice = big.NewInt(400000000000)
	// LinkToFund is the LINK sent by FundWithLink when no amount is given.
	LinkToFund = common.MustToWei("1")

	// ErrNotDeployed is returned when no lottery is recorded on the network.
	ErrNotDeployed = errors.New("no lottery deployed on this network")

	contractToMock = map[string]string{
		EthUsdPriceFeed: contracts.NameMockV3Aggregator,
		VRFCoordinator:  contracts.NameVRFCoordinatorMock,
		LinkToken:       contracts.NameLinkToken,
	}
)

// Deployer runs the scripts against one network.
type Deployer struct {
	net      network.Network
	netCfg   *config.NetworkConfig
	lottery  config.LotteryConfig
	registry *deployments.Registry
	logger   *log.Logger
}

// New creates a Deployer.
func New(net network.Network, netCfg *config.NetworkConfig, lotteryCfg config.LotteryConfig, registry *deployments.Registry, logger *log.Logger) *Deployer {
	return &Deployer{
		net:      net,
		netCfg:   netCfg,
		lottery:  lotteryCfg,
		registry: registry,
		logger:   logger.WithModule(moduleName).With("network", net.Name()),
	}
}

// Network is the network the deployer acts on.
func (d *Deployer) Network() network.Network {
	return d.net
}

// GetAccount returns the index-th account. The default account (index 0)
// is the first pre-funded account on local networks and the configured
// wallet elsewhere.
func (d *Deployer) GetAccount(index int) (network.Account, error) {
	return network.AccountAt(d.net, index)
}

func (d *Deployer) defaultOpts() (contracts.TxOpts, error) {
	account, err := d.GetAccount(0)
	if err != nil {
		return contracts.TxOpts{}, err
	}
	return contracts.From(account.Address), nil
}

// contractAddress resolves one of the oracle contracts. On local networks
// the latest mock is used, deploying all mocks first if there is none.
func (d *Deployer) contractAddress(ctx context.Context, name string) (ethCommon.Address, error) {
	mock, ok := contractToMock[name]
	if !ok {
		return ethCommon.Address{}, fmt.Errorf("unknown contract '%s'", name)
	}
	if !d.net.IsLocal() {
		return d.netCfg.ContractAddress(name)
	}
	chainID, err := d.net.ChainID(ctx)
	if err != nil {
		return ethCommon.Address{}, err
	}
	if addr, ok := d.registry.Latest(chainID, mock); ok {
		return addr, nil
	}
	if err = d.DeployMocks(ctx); err != nil {
		return ethCommon.Address{}, err
	}
	addr, ok := d.registry.Latest(chainID, mock)
	if !ok {
		return ethCommon.Address{}, fmt.Errorf("%s missing after deploying mocks", mock)
	}
	return addr, nil
}

// GetContract returns the contract configured under name (one of
// EthUsdPriceFeed, VRFCoordinator or LinkToken).
func (d *Deployer) GetContract(ctx context.Context, name string) (contracts.Contract, error) {
	switch name {
	case EthUsdPriceFeed:
		return d.PriceFeed(ctx)
	case VRFCoordinator:
		return d.VRFCoordinator(ctx)
	case LinkToken:
		return d.LinkToken(ctx)
	default:
		return nil, fmt.Errorf("unknown contract '%s'", name)
	}
}

func (d *Deployer) PriceFeed(ctx context.Context) (contracts.PriceFeed, error) {
	addr, err := d.contractAddress(ctx, EthUsdPriceFeed)
	if err != nil {
		return nil, err
	}
	return d.net.PriceFeedAt(addr)
}

func (d *Deployer) VRFCoordinator(ctx context.Context) (contracts.VRFCoordinator, error) {
	addr, err := d.contractAddress(ctx, VRFCoordinator)
	if err != nil {
		return nil, err
	}
	return d.net.VRFCoordinatorAt(addr)
}

func (d *Deployer) LinkToken(ctx context.Context) (contracts.LinkToken, error) {
	addr, err := d.contractAddress(ctx, LinkToken)
	if err != nil {
		return nil, err
	}
	return d.net.LinkTokenAt(addr)
}

func (d *Deployer) record(ctx context.Context, name string, c contracts.Contract) error {
	chainID, err := d.net.ChainID(ctx)
	if err != nil {
		return err
	}
	if err = d.registry.Record(chainID, name, c.Address()); err != nil {
		return fmt.Errorf("recording %s deployment: %w", name, err)
	}
	return nil
}

// DeployMocks deploys MockV3Aggregator, LinkToken and VRFCoordinatorMock.
func (d *Deployer) DeployMocks(ctx context.Context) error {
	opts, err := d.defaultOpts()
	if err != nil {
		return err
	}
	d.logger.Info("deploying mocks")

	feed, err := d.net.DeployPriceFeed(ctx, opts, Decimals, InitialPrice)
	if err != nil {
		return fmt.Errorf("deploying %s: %w", contracts.NameMockV3Aggregator, err)
	}
	if err = d.record(ctx, contracts.NameMockV3Aggregator, feed); err != nil {
		return err
	}

	link, err := d.net.DeployLinkToken(ctx, opts)
	if err != nil {
		return fmt.Errorf("deploying %s: %w", contracts.NameLinkToken, err)
	}
	if err = d.record(ctx, contracts.NameLinkToken, link); err != nil {
		return err
	}

	coordinator, err := d.net.DeployVRFCoordinator(ctx, opts, link.Address())
	if err != nil {
		return fmt.Errorf("deploying %s: %w", contracts.NameVRFCoordinatorMock, err)
	}
	if err = d.record(ctx, contracts.NameVRFCoordinatorMock, coordinator); err != nil {
		return err
	}

	d.logger.Info("mocks deployed",
		"price_feed", feed.Address().Hex(),
		"link_token", link.Address().Hex(),
		"vrf_coordinator", coordinator.Address().Hex(),
	)
	return nil
}

// DeployLottery deploys the lottery wired to the network's oracles.
func (d *Deployer) DeployLottery(ctx context.Context) (contracts.Lottery, error) {
	d.logger.Info("deploying lottery")
	opts, err := d.defaultOpts()
	if err != nil {
		return nil, err
	}

	priceFeed, err := d.contractAddress(ctx, EthUsdPriceFeed)
	if err != nil {
		return nil, err
	}
	coordinator, err := d.contractAddress(ctx, VRFCoordinator)
	if err != nil {
		return nil, err
	}
	link, err := d.contractAddress(ctx, LinkToken)
	if err != nil {
		return nil, err
	}
	entryFee := d.lottery.EntryFeeUSD
	if entryFee == 0 {
		entryFee = EntryFeeUSD
	}

	lottery, err := d.net.DeployLottery(ctx, opts, contracts.LotteryParams{
		PriceFeed:      priceFeed,
		VRFCoordinator: coordinator,
		LinkToken:      link,
		EntryFeeUSD:    new(big.Int).SetUint64(entryFee),
		Fee:            new(big.Int).SetUint64(d.netCfg.Fee),
		KeyHash:        d.netCfg.KeyHashBytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("deploying %s: %w", contracts.NameLottery, err)
	}
	if err = d.record(ctx, contracts.NameLottery, lottery); err != nil {
		return nil, err
	}
	// DeployLottery waits for the deployment to be mined, so the head is
	// at or after the deployment block.
	block, err := d.net.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying deployment block: %w", err)
	}
	chainID, err := d.net.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	if err = d.registry.RecordBlock(chainID, lottery.Address(), block); err != nil {
		return nil, fmt.Errorf("recording %s deployment block: %w", contracts.NameLottery, err)
	}
	if d.netCfg.Verify {
		d.logger.Warn("source verification is not performed by this tool, verify the contract on the block explorer",
			"address", lottery.Address().Hex(),
		)
	}
	d.logger.Info("lottery deployed", "address", lottery.Address().Hex(), "block", block, "entry_fee_usd", entryFee)
	return lottery, nil
}

// Lottery returns the most recently deployed lottery.
func (d *Deployer) Lottery(ctx context.Context) (contracts.Lottery, error) {
	chainID, err := d.net.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	addr, ok := d.registry.Latest(chainID, contracts.NameLottery)
	if !ok {
		return nil, ErrNotDeployed
	}
	return d.net.LotteryAt(addr)
}

// LotteryDeployBlock returns the block the lottery at addr was deployed in.
// Lotteries deployed elsewhere fall back to lottery.from_block.
func (d *Deployer) LotteryDeployBlock(ctx context.Context, addr ethCommon.Address) (uint64, error) {
	chainID, err := d.net.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if block, ok := d.registry.DeployBlock(chainID, addr); ok {
		return block, nil
	}
	return d.lottery.FromBlock, nil
}

// FundOptions overrides the defaults of FundWithLink.
type FundOptions struct {
	// Account pays; defaults to GetAccount(0).
	Account *network.Account
	// LinkToken defaults to the network's LINK token.
	LinkToken contracts.LinkToken
	// Amount defaults to the configured lottery.link_to_fund, then LinkToFund.
	Amount *big.Int
}

func (d *Deployer) defaultFundAmount() (*big.Int, error) {
	if d.lottery.LinkToFund == "" {
		return new(big.Int).Set(LinkToFund), nil
	}
	amount, err := common.ToWei(d.lottery.LinkToFund)
	if err != nil {
		return nil, fmt.Errorf("lottery.link_to_fund: %w", err)
	}
	return amount, nil
}

// FundWithLink sends LINK to addr so that it can pay for randomness.
func (d *Deployer) FundWithLink(ctx context.Context, addr ethCommon.Address, fo FundOptions) (*types.Receipt, error) {
	d.logger.Info("funding with LINK", "recipient", addr.Hex())
	account := fo.Account
	if account == nil {
		a, err := d.GetAccount(0)
		if err != nil {
			return nil, err
		}
		account = &a
	}
	link := fo.LinkToken
	if link == nil {
		var err error
		if link, err = d.LinkToken(ctx); err != nil {
			return nil, err
		}
	}
	amount := fo.Amount
	if amount == nil {
		var err error
		if amount, err = d.defaultFundAmount(); err != nil {
			return nil, err
		}
	}

	receipt, err := link.Transfer(ctx, contracts.From(account.Address), addr, amount)
	if err != nil {
		return nil, fmt.Errorf("transferring LINK: %w", err)
	}
	d.logger.Info("contract funded", "recipient", addr.Hex(), "link", common.FromWei(amount))
	return receipt, nil
}

// FundContract funds the latest lottery, deploying one first if none is
// recorded.
func (d *Deployer) FundContract(ctx context.Context) (*types.Receipt, error) {
	lottery, err := d.Lottery(ctx)
	if errors.Is(err, ErrNotDeployed) {
		lottery, err = d.DeployLottery(ctx)
	}
	if err != nil {
		return nil, err
	}
	return d.FundWithLink(ctx, lottery.Address(), FundOptions{})
}
