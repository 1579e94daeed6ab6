package v1

import (
	"context"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"

	apiCommon "github.com/vrflottery/lottery/api/common"
	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/network"
)

// Ether amounts are shown with this many decimals.
const displayDecimals = 4

// FormatCountdown renders the time left until a deadline as HH:MM:SS. Past
// deadlines render as 00:00:00; hours are not wrapped.
func FormatCountdown(seconds int64) string {
	if seconds <= 0 {
		return "00:00:00"
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

func chainErr(what string, err error) error {
	return apiCommon.ErrChainError{Err: fmt.Errorf("%s: %w", what, err)}
}

// headTimestamp returns the timestamp of the latest block.
func headTimestamp(ctx context.Context, net network.Network) (uint64, error) {
	head, err := net.BlockNumber(ctx)
	if err != nil {
		return 0, chainErr("block number", err)
	}
	ts, err := net.BlockTimestamp(ctx, head)
	if err != nil {
		return 0, chainErr("block timestamp", err)
	}
	return ts, nil
}

// LotteryView reads the current round of l as shown to the dapp.
func LotteryView(ctx context.Context, net network.Network, l contracts.Lottery) (*Lottery, error) {
	state, err := l.LotteryState(ctx)
	if err != nil {
		return nil, chainErr("lottery state", err)
	}
	pool, err := net.BalanceAt(ctx, l.Address())
	if err != nil {
		return nil, chainErr("prize pool", err)
	}
	fee, err := l.GetEntryFee(ctx)
	if err != nil {
		return nil, chainErr("entry fee", err)
	}
	counter, err := l.EntryCounter(ctx)
	if err != nil {
		return nil, chainErr("entry counter", err)
	}
	randomness, err := l.Randomness(ctx)
	if err != nil {
		return nil, chainErr("randomness", err)
	}
	winner, err := l.LatestWinner(ctx)
	if err != nil {
		return nil, chainErr("latest winner", err)
	}
	deadline, err := l.LotteryDeadlineTimestamp(ctx)
	if err != nil {
		return nil, chainErr("deadline", err)
	}
	now, err := headTimestamp(ctx, net)
	if err != nil {
		return nil, err
	}

	poolEther, err := common.FromWeiFixed(pool, displayDecimals)
	if err != nil {
		return nil, err
	}
	feeEther, err := common.FromWeiFixed(fee, displayDecimals)
	if err != nil {
		return nil, err
	}
	left := new(big.Int).Sub(deadline, new(big.Int).SetUint64(now))
	pastDeadline := left.Sign() <= 0

	return &Lottery{
		Address:           l.Address().Hex(),
		State:             state,
		PrizePool:         poolEther,
		EntryFee:          feeEther,
		EntryFeeWei:       common.BigIntFromInt(fee),
		EntryCounter:      common.BigIntFromInt(counter),
		Randomness:        common.BigIntFromInt(randomness),
		RandomnessShort:   common.SliceLongValue(randomness.String()),
		LatestWinner:      winner.Hex(),
		LatestWinnerShort: common.SliceAddress(winner),
		Deadline:          deadline.Uint64(),
		Countdown:         FormatCountdown(left.Int64()),
		Now:               now,
		CanStart:          state == common.LotteryClosed,
		CanEnter:          state == common.LotteryOpened && !pastDeadline,
		CanEnd:            state == common.LotteryOpened && pastDeadline,
	}, nil
}

func participantView(ctx context.Context, net network.Network, l contracts.Lottery, addr ethCommon.Address) (*Participant, error) {
	entries, err := l.ParticipantEntries(ctx, addr)
	if err != nil {
		return nil, chainErr("participant entries", err)
	}
	balance, err := net.BalanceAt(ctx, addr)
	if err != nil {
		return nil, chainErr("balance", err)
	}
	balanceEther, err := common.FromWeiFixed(balance, displayDecimals)
	if err != nil {
		return nil, err
	}
	return &Participant{
		Address:    addr.Hex(),
		Entries:    common.BigIntFromInt(entries),
		Balance:    balanceEther,
		BalanceWei: common.BigIntFromInt(balance),
	}, nil
}
