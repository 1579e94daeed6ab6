package deploy

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/config"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/network"
	"github.com/vrflottery/lottery/network/devchain"
	"github.com/vrflottery/lottery/storage/deployments"
)

const (
	daySeconds = 86400
	luckNumber = 777
)

func testLogger(t *testing.T) *log.Logger {
	logger, err := log.NewLogger("deploy-test", io.Discard, log.FmtJSON, log.LevelDebug)
	require.NoError(t, err)
	return logger
}

func developmentConfig(t *testing.T) *config.NetworkConfig {
	cfg := &config.Config{Network: config.NetworkDevelopment}
	netCfg, err := cfg.ActiveNetwork()
	require.NoError(t, err)
	return netCfg
}

func newDeployer(t *testing.T) (*Deployer, *devchain.Chain) {
	logger := testLogger(t)
	chain := devchain.New(devchain.WithLogger(logger))
	d := New(chain, developmentConfig(t), config.LotteryConfig{EntryFeeUSD: EntryFeeUSD, LinkToFund: "1"}, deployments.NewMemory(), logger)
	return d, chain
}

func deployLottery(t *testing.T, d *Deployer) contracts.Lottery {
	lottery, err := d.DeployLottery(context.Background())
	require.NoError(t, err)
	return lottery
}

func balance(t *testing.T, net network.Network, addr ethCommon.Address) *big.Int {
	b, err := net.BalanceAt(context.Background(), addr)
	require.NoError(t, err)
	return b
}

func TestGetEntryFee(t *testing.T) {
	d, _ := newDeployer(t)
	lottery := deployLottery(t, d)

	entryFee, err := lottery.GetEntryFee(context.Background())
	require.NoError(t, err)
	require.Equal(t, common.MustToWei("0.0125").String(), entryFee.String())
}

func TestCanEnterLottery(t *testing.T) {
	ctx := context.Background()
	d, chain := newDeployer(t)
	account, err := d.GetAccount(0)
	require.NoError(t, err)
	lottery := deployLottery(t, d)

	_, err = lottery.StartLottery(ctx, contracts.From(account.Address))
	require.NoError(t, err)
	entryFee, err := lottery.GetEntryFee(ctx)
	require.NoError(t, err)
	_, err = lottery.EnterLottery(ctx, contracts.TxOpts{From: account.Address, Value: entryFee}, big.NewInt(1))
	require.NoError(t, err)

	entryCounter, err := lottery.EntryCounter(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", entryCounter.String())
	participant, err := lottery.EntryIdToParticipant(ctx, new(big.Int).Sub(entryCounter, big.NewInt(1)))
	require.NoError(t, err)
	require.Equal(t, account.Address, participant)
	state, err := lottery.LotteryState(ctx)
	require.NoError(t, err)
	require.Equal(t, common.LotteryOpened, state)
	require.Equal(t, entryFee.String(), balance(t, chain, lottery.Address()).String())
}

func TestCanEndLottery(t *testing.T) {
	ctx := context.Background()
	d, chain := newDeployer(t)
	account, err := d.GetAccount(0)
	require.NoError(t, err)
	lottery := deployLottery(t, d)
	_, err = d.FundWithLink(ctx, lottery.Address(), FundOptions{})
	require.NoError(t, err)

	_, err = lottery.StartLottery(ctx, contracts.From(account.Address))
	require.NoError(t, err)
	entryFee, err := lottery.GetEntryFee(ctx)
	require.NoError(t, err)
	_, err = lottery.EnterLottery(ctx, contracts.TxOpts{From: account.Address, Value: entryFee}, big.NewInt(1))
	require.NoError(t, err)

	require.NoError(t, chain.Sleep(ctx, daySeconds*time.Second))
	receipt, err := lottery.EndLottery(ctx, contracts.From(account.Address))
	require.NoError(t, err)

	_, err = contracts.RequestIDFromReceipt(receipt, lottery.Address())
	require.NoError(t, err)
	state, err := lottery.LotteryState(ctx)
	require.NoError(t, err)
	require.Equal(t, common.LotteryProcessing, state)
}

func TestCanPickWinnerCorrectly(t *testing.T) {
	ctx := context.Background()
	d, chain := newDeployer(t)
	account, err := d.GetAccount(0)
	require.NoError(t, err)
	expectedWinner, err := d.GetAccount(1)
	require.NoError(t, err)
	third, err := d.GetAccount(2)
	require.NoError(t, err)
	lottery := deployLottery(t, d)
	_, err = d.FundWithLink(ctx, lottery.Address(), FundOptions{})
	require.NoError(t, err)

	entryFee, err := lottery.GetEntryFee(ctx)
	require.NoError(t, err)
	_, err = lottery.StartLottery(ctx, contracts.From(account.Address))
	require.NoError(t, err)
	for _, a := range []network.Account{account, expectedWinner, third} {
		_, err = lottery.EnterLottery(ctx, contracts.TxOpts{From: a.Address, Value: entryFee}, big.NewInt(1))
		require.NoError(t, err)
	}

	contractInitial := balance(t, chain, lottery.Address())
	ownerInitial := balance(t, chain, account.Address)
	winnerInitial := balance(t, chain, expectedWinner.Address)

	require.NoError(t, chain.Sleep(ctx, daySeconds*time.Second))
	receipt, err := lottery.EndLottery(ctx, contracts.From(account.Address))
	require.NoError(t, err)
	requestID, err := contracts.RequestIDFromReceipt(receipt, lottery.Address())
	require.NoError(t, err)
	coordinator, err := d.VRFCoordinator(ctx)
	require.NoError(t, err)
	_, err = coordinator.CallBackWithRandomness(ctx, contracts.From(account.Address), requestID, big.NewInt(luckNumber+1), lottery.Address())
	require.NoError(t, err)

	toWinner := new(big.Int).Quo(new(big.Int).Mul(contractInitial, big.NewInt(9)), big.NewInt(10))
	toOwner := new(big.Int).Quo(contractInitial, big.NewInt(10))

	winner, err := lottery.LatestWinner(ctx)
	require.NoError(t, err)
	require.Equal(t, expectedWinner.Address, winner)
	require.Equal(t, "0", balance(t, chain, lottery.Address()).String())
	require.Equal(t, new(big.Int).Add(winnerInitial, toWinner).String(), balance(t, chain, expectedWinner.Address).String())
	require.Equal(t, new(big.Int).Add(ownerInitial, toOwner).String(), balance(t, chain, account.Address).String())
}

func TestCannotEndUntilDeadline(t *testing.T) {
	ctx := context.Background()
	d, _ := newDeployer(t)
	account, err := d.GetAccount(0)
	require.NoError(t, err)
	lottery := deployLottery(t, d)
	_, err = d.FundWithLink(ctx, lottery.Address(), FundOptions{})
	require.NoError(t, err)
	_, err = lottery.StartLottery(ctx, contracts.From(account.Address))
	require.NoError(t, err)

	_, err = lottery.EndLottery(ctx, contracts.From(account.Address))
	require.ErrorIs(t, err, contracts.ErrReverted)
}

func TestGetContractDeploysMocksOnce(t *testing.T) {
	ctx := context.Background()
	d, _ := newDeployer(t)

	feed, err := d.GetContract(ctx, EthUsdPriceFeed)
	require.NoError(t, err)
	again, err := d.GetContract(ctx, EthUsdPriceFeed)
	require.NoError(t, err)
	require.Equal(t, feed.Address(), again.Address())

	chainID, err := d.Network().ChainID(ctx)
	require.NoError(t, err)
	for _, name := range []string{contracts.NameMockV3Aggregator, contracts.NameLinkToken, contracts.NameVRFCoordinatorMock} {
		require.Len(t, d.registry.All(chainID, name), 1, name)
	}

	priceFeed, err := d.PriceFeed(ctx)
	require.NoError(t, err)
	decimals, err := priceFeed.Decimals(ctx)
	require.NoError(t, err)
	require.Equal(t, uint8(Decimals), decimals)
	round, err := priceFeed.LatestRoundData(ctx)
	require.NoError(t, err)
	require.Equal(t, InitialPrice.String(), round.Answer.String())

	_, err = d.GetContract(ctx, "uniswap_router")
	require.Error(t, err)
}

func TestFundContract(t *testing.T) {
	ctx := context.Background()
	d, _ := newDeployer(t)

	_, err := d.Lottery(ctx)
	require.ErrorIs(t, err, ErrNotDeployed)

	_, err = d.FundContract(ctx)
	require.NoError(t, err)
	lottery, err := d.Lottery(ctx)
	require.NoError(t, err)
	link, err := d.LinkToken(ctx)
	require.NoError(t, err)
	funded, err := link.BalanceOf(ctx, lottery.Address())
	require.NoError(t, err)
	require.Equal(t, LinkToFund.String(), funded.String())

	// A second run funds the same lottery.
	_, err = d.FundContract(ctx)
	require.NoError(t, err)
	again, err := d.Lottery(ctx)
	require.NoError(t, err)
	require.Equal(t, lottery.Address(), again.Address())
	funded, err = link.BalanceOf(ctx, lottery.Address())
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(LinkToFund, big.NewInt(2)).String(), funded.String())
}

func TestFundWithLinkOptions(t *testing.T) {
	ctx := context.Background()
	d, _ := newDeployer(t)
	owner, err := d.GetAccount(0)
	require.NoError(t, err)
	recipient, err := d.GetAccount(4)
	require.NoError(t, err)
	link, err := d.LinkToken(ctx)
	require.NoError(t, err)

	amount := common.MustToWei("2.5")
	_, err = d.FundWithLink(ctx, recipient.Address, FundOptions{Account: &owner, LinkToken: link, Amount: amount})
	require.NoError(t, err)
	got, err := link.BalanceOf(ctx, recipient.Address)
	require.NoError(t, err)
	require.Equal(t, amount.String(), got.String())

	// Accounts without LINK cannot fund.
	_, err = d.FundWithLink(ctx, owner.Address, FundOptions{Account: &recipient, Amount: common.MustToWei("3")})
	require.ErrorIs(t, err, contracts.ErrReverted)
}

func TestConfiguredEntryFee(t *testing.T) {
	logger := testLogger(t)
	chain := devchain.New(devchain.WithLogger(logger))
	d := New(chain, developmentConfig(t), config.LotteryConfig{EntryFeeUSD: 100}, deployments.NewMemory(), logger)
	lottery := deployLottery(t, d)

	fee, err := lottery.GetEntryFee(context.Background())
	require.NoError(t, err)
	require.Equal(t, common.MustToWei("0.025").String(), fee.String())
}

// remote presents a development chain as a live network.
type remote struct {
	*devchain.Chain
}

func (remote) Name() string  { return "sepolia" }
func (remote) IsLocal() bool { return false }

func TestRemoteUsesConfiguredAddresses(t *testing.T) {
	ctx := context.Background()
	logger := testLogger(t)
	chain := devchain.New(devchain.WithLogger(logger))
	owner := chain.Accounts()[0].Address

	feed, err := chain.DeployPriceFeed(ctx, contracts.From(owner), 8, big.NewInt(200000000000))
	require.NoError(t, err)
	link, err := chain.DeployLinkToken(ctx, contracts.From(owner))
	require.NoError(t, err)
	coordinator, err := chain.DeployVRFCoordinator(ctx, contracts.From(owner), link.Address())
	require.NoError(t, err)

	netCfg := &config.NetworkConfig{
		EthUsdPriceFeed: feed.Address().Hex(),
		VRFCoordinator:  coordinator.Address().Hex(),
		LinkToken:       link.Address().Hex(),
		Fee:             config.DevelopmentFee,
		KeyHash:         config.DevelopmentKeyHash,
		Verify:          true,
	}
	registry := deployments.NewMemory()
	d := New(remote{chain}, netCfg, config.LotteryConfig{EntryFeeUSD: EntryFeeUSD}, registry, logger)

	lottery := deployLottery(t, d)
	fee, err := lottery.GetEntryFee(ctx)
	require.NoError(t, err)
	require.Equal(t, common.MustToWei("0.025").String(), fee.String(), "priced from the configured feed")

	chainID, err := chain.ChainID(ctx)
	require.NoError(t, err)
	require.Empty(t, registry.All(chainID, contracts.NameMockV3Aggregator), "no mocks on live networks")
	latest, ok := registry.Latest(chainID, contracts.NameLottery)
	require.True(t, ok)
	require.Equal(t, lottery.Address(), latest)
}

func TestLotteryDeployBlock(t *testing.T) {
	ctx := context.Background()
	d, chain := newDeployer(t)
	require.NoError(t, d.DeployMocks(ctx))
	mocksHead, err := chain.BlockNumber(ctx)
	require.NoError(t, err)

	lottery := deployLottery(t, d)
	block, err := d.LotteryDeployBlock(ctx, lottery.Address())
	require.NoError(t, err)
	require.Equal(t, mocksHead+1, block)

	// Later transactions do not move it.
	_, err = d.FundContract(ctx)
	require.NoError(t, err)
	again, err := d.LotteryDeployBlock(ctx, lottery.Address())
	require.NoError(t, err)
	require.Equal(t, block, again)
}

func TestLotteryDeployBlockFallsBackToConfig(t *testing.T) {
	logger := testLogger(t)
	chain := devchain.New(devchain.WithLogger(logger))
	d := New(chain, developmentConfig(t), config.LotteryConfig{EntryFeeUSD: EntryFeeUSD, FromBlock: 42}, deployments.NewMemory(), logger)

	block, err := d.LotteryDeployBlock(context.Background(), ethCommon.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	require.NoError(t, err)
	require.Equal(t, uint64(42), block)
}
