package recorder

import (
	"context"
	"io"
	"math/big"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/vrflottery/lottery/config"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/deploy"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/network"
	"github.com/vrflottery/lottery/network/devchain"
	"github.com/vrflottery/lottery/storage"
	"github.com/vrflottery/lottery/storage/deployments"
	"github.com/vrflottery/lottery/storage/memory"
)

var genesis = time.Unix(1_700_000_000, 0)

type fixture struct {
	chain    *devchain.Chain
	deployer *deploy.Deployer
	lottery  contracts.Lottery
	owner    network.Account
	logger   *log.Logger
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	logger, err := log.NewLogger("recorder-test", io.Discard, log.FmtJSON, log.LevelDebug)
	require.NoError(t, err)
	chain := devchain.New(devchain.WithLogger(logger), devchain.WithClock(func() time.Time { return genesis }))
	netCfg, err := (&config.Config{Network: config.NetworkDevelopment}).ActiveNetwork()
	require.NoError(t, err)
	d := deploy.New(chain, netCfg, config.LotteryConfig{}, deployments.NewMemory(), logger)

	lottery, err := d.DeployLottery(ctx)
	require.NoError(t, err)
	owner, err := d.GetAccount(0)
	require.NoError(t, err)
	_, err = d.FundWithLink(ctx, lottery.Address(), deploy.FundOptions{Amount: big.NewInt(1e18)})
	require.NoError(t, err)
	return &fixture{chain: chain, deployer: d, lottery: lottery, owner: owner, logger: logger}
}

// playRound runs a full round with the given accounts entering once each.
func (f *fixture) playRound(t *testing.T, entrants []int, randomness int64) {
	ctx := context.Background()
	_, err := f.lottery.StartLottery(ctx, contracts.From(f.owner.Address))
	require.NoError(t, err)
	fee, err := f.lottery.GetEntryFee(ctx)
	require.NoError(t, err)
	for _, i := range entrants {
		a, err := f.deployer.GetAccount(i)
		require.NoError(t, err)
		_, err = f.lottery.EnterLottery(ctx, contracts.TxOpts{From: a.Address, Value: fee}, big.NewInt(1))
		require.NoError(t, err)
	}
	require.NoError(t, f.chain.Sleep(ctx, devchain.DefaultLotteryDuration*time.Second))
	receipt, err := f.lottery.EndLottery(ctx, contracts.From(f.owner.Address))
	require.NoError(t, err)
	if len(entrants) == 0 {
		return
	}
	requestID, err := contracts.RequestIDFromReceipt(receipt, f.lottery.Address())
	require.NoError(t, err)
	coordinator, err := f.deployer.VRFCoordinator(ctx)
	require.NoError(t, err)
	_, err = coordinator.CallBackWithRandomness(ctx, contracts.From(f.owner.Address), requestID, big.NewInt(randomness), f.lottery.Address())
	require.NoError(t, err)
}

func (f *fixture) account(t *testing.T, i int) ethCommon.Address {
	a, err := f.deployer.GetAccount(i)
	require.NoError(t, err)
	return a.Address
}

func TestRecordsFinishedRounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.playRound(t, []int{0, 1, 2}, 778)
	f.playRound(t, nil, 0)

	store := memory.New()
	r := New(f.chain, f.lottery.Address(), store, f.logger, WithBatchSize(4))
	require.Equal(t, "recorder", r.Name())

	head, err := f.chain.BlockNumber(ctx)
	require.NoError(t, err)
	steps := 0
	for {
		caughtUp, err := r.Step(ctx)
		require.NoError(t, err)
		steps++
		if caughtUp {
			break
		}
		require.Less(t, steps, 100)
	}
	require.Greater(t, steps, 1, "small batches need several steps")

	last, err := store.LastProcessedBlock(ctx, f.lottery.Address())
	require.NoError(t, err)
	require.Equal(t, head, last)

	rounds, err := store.ListRounds(ctx, f.lottery.Address(), 10, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 2)

	empty, won := rounds[0], rounds[1]
	require.Equal(t, uint64(1), won.Round)
	require.Equal(t, f.account(t, 1), won.Winner)
	require.Equal(t, "778", won.Randomness.String())
	// 90% of three entries of 0.0125 ether.
	require.Equal(t, "33750000000000000", won.Prize.String())
	require.Equal(t, f.lottery.Address(), won.Lottery)
	require.Equal(t, genesis.Add(devchain.DefaultLotteryDuration*time.Second).UTC(), won.FinishedAt)

	require.Equal(t, uint64(2), empty.Round)
	require.Equal(t, ethCommon.Address{}, empty.Winner)
	require.Equal(t, "0", empty.Prize.String())
	require.Greater(t, empty.Block, won.Block)

	caughtUp, err := r.Step(ctx)
	require.NoError(t, err)
	require.True(t, caughtUp)
	rounds, err = store.ListRounds(ctx, f.lottery.Address(), 10, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
}

func TestResumesFromStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	store := memory.New()
	r := New(f.chain, f.lottery.Address(), store, f.logger)

	f.playRound(t, []int{3}, 5)
	caughtUp, err := r.Step(ctx)
	require.NoError(t, err)
	require.True(t, caughtUp)

	// A new recorder over the same store only sees later rounds.
	f.playRound(t, []int{4, 5}, 6)
	r2 := New(f.chain, f.lottery.Address(), store, f.logger)
	_, err = r2.Step(ctx)
	require.NoError(t, err)

	rounds, err := store.ListRounds(ctx, f.lottery.Address(), 10, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	require.Equal(t, f.account(t, 4), rounds[0].Winner)
	require.Equal(t, f.account(t, 3), rounds[1].Winner)
}

func TestFromBlockSkipsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.playRound(t, []int{1}, 9)
	head, err := f.chain.BlockNumber(ctx)
	require.NoError(t, err)

	store := memory.New()
	r := New(f.chain, f.lottery.Address(), store, f.logger, WithFromBlock(head+1))
	caughtUp, err := r.Step(ctx)
	require.NoError(t, err)
	require.True(t, caughtUp)
	_, err = store.LastProcessedBlock(ctx, f.lottery.Address())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.playRound(t, []int{2}, 1)
	store := memory.New()
	r := New(f.chain, f.lottery.Address(), store, f.logger, WithPollInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		rounds, err := store.ListRounds(context.Background(), f.lottery.Address(), 10, 0)
		return err == nil && len(rounds) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not stop")
	}
}

func TestBackoff(t *testing.T) {
	_, err := newBackoff(time.Millisecond, time.Second)
	require.Error(t, err)
	_, err = newBackoff(time.Second, time.Millisecond)
	require.Error(t, err)

	b, err := newBackoff(100*time.Millisecond, 300*time.Millisecond)
	require.NoError(t, err)
	b.Failure()
	require.Equal(t, 200*time.Millisecond, b.Timeout())
	b.Failure()
	require.Equal(t, 300*time.Millisecond, b.Timeout())
	b.Success()
	require.Equal(t, 100*time.Millisecond, b.Timeout())
}
