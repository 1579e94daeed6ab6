package deploy

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/contracts"
)

var (
	// ErrMocksOnly is returned by operations that need the VRF coordinator mock.
	ErrMocksOnly = errors.New("randomness can only be fulfilled by the mock coordinator on local networks")
	// ErrNotFulfilled is returned when the lottery rejected the randomness
	// delivered by the coordinator.
	ErrNotFulfilled = errors.New("lottery did not accept the randomness")
)

// usdUnit scales whole dollars to the 18 decimals the contract stores.
var usdUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(common.EtherDecimals), nil)

func (d *Deployer) ownerLottery(ctx context.Context) (contracts.Lottery, contracts.TxOpts, error) {
	l, err := d.Lottery(ctx)
	if err != nil {
		return nil, contracts.TxOpts{}, err
	}
	opts, err := d.defaultOpts()
	if err != nil {
		return nil, contracts.TxOpts{}, err
	}
	return l, opts, nil
}

// StartLottery opens a round on the latest lottery.
func (d *Deployer) StartLottery(ctx context.Context) (*types.Receipt, error) {
	l, opts, err := d.ownerLottery(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := l.StartLottery(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting lottery: %w", err)
	}
	d.logger.Info("lottery started", "address", l.Address().Hex(), "tx", receipt.TxHash.Hex())
	return receipt, nil
}

// EnterLottery buys entries for the account-th account, paying exactly the
// current entry fee per entry.
func (d *Deployer) EnterLottery(ctx context.Context, account int, entries uint64) (*types.Receipt, error) {
	if entries == 0 {
		return nil, fmt.Errorf("at least one entry is required")
	}
	l, err := d.Lottery(ctx)
	if err != nil {
		return nil, err
	}
	a, err := d.GetAccount(account)
	if err != nil {
		return nil, err
	}
	fee, err := l.GetEntryFee(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting entry fee: %w", err)
	}
	n := new(big.Int).SetUint64(entries)
	value := new(big.Int).Mul(fee, n)

	receipt, err := l.EnterLottery(ctx, contracts.TxOpts{From: a.Address, Value: value}, n)
	if err != nil {
		return nil, fmt.Errorf("entering lottery: %w", err)
	}
	d.logger.Info("entered lottery",
		"participant", a.Address.Hex(),
		"entries", entries,
		"paid", common.FromWei(value),
	)
	return receipt, nil
}

// EndLottery closes the round. A round with entries moves to Processing
// until the coordinator answers; an empty round closes immediately.
func (d *Deployer) EndLottery(ctx context.Context) (*types.Receipt, error) {
	l, opts, err := d.ownerLottery(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := l.EndLottery(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ending lottery: %w", err)
	}
	d.logger.Info("lottery ended", "address", l.Address().Hex(), "tx", receipt.TxHash.Hex())
	return receipt, nil
}

// FulfillRandomness answers the request made by the endLottery transaction
// in receipt through the mock coordinator. It returns false without error
// when the receipt carries no request, i.e. the round had no entries.
func (d *Deployer) FulfillRandomness(ctx context.Context, receipt *types.Receipt, randomness *big.Int) (bool, error) {
	if !d.net.IsLocal() {
		return false, ErrMocksOnly
	}
	l, opts, err := d.ownerLottery(ctx)
	if err != nil {
		return false, err
	}
	requestID, err := contracts.RequestIDFromReceipt(receipt, l.Address())
	switch {
	case errors.Is(err, contracts.ErrEventNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	coordinator, err := d.VRFCoordinator(ctx)
	if err != nil {
		return false, err
	}
	callback, err := coordinator.CallBackWithRandomness(ctx, opts, requestID, randomness, l.Address())
	if err != nil {
		return false, fmt.Errorf("fulfilling randomness: %w", err)
	}

	// The coordinator does not propagate a rejection by the lottery.
	var finished contracts.LotteryFinished
	if err = contracts.FindEvent(callback, contracts.LotteryABI, l.Address(), contracts.EventLotteryFinished, &finished); err != nil {
		return false, fmt.Errorf("%w: %v", ErrNotFulfilled, err)
	}
	state, err := l.LotteryState(ctx)
	if err != nil {
		return false, err
	}
	if state != common.LotteryClosed {
		return false, fmt.Errorf("%w: lottery is %s", ErrNotFulfilled, state)
	}
	d.logger.Info("randomness fulfilled",
		"randomness", finished.Randomness.String(),
		"winner", finished.Winner.Hex(),
		"prize", common.FromWei(finished.Prize),
	)
	return true, nil
}

// ChangeEntryFee sets the entry fee in whole dollars.
func (d *Deployer) ChangeEntryFee(ctx context.Context, usd uint64) (*types.Receipt, error) {
	l, opts, err := d.ownerLottery(ctx)
	if err != nil {
		return nil, err
	}
	fee := new(big.Int).Mul(new(big.Int).SetUint64(usd), usdUnit)
	receipt, err := l.ChangeEntryFee(ctx, opts, fee)
	if err != nil {
		return nil, fmt.Errorf("changing entry fee: %w", err)
	}
	d.logger.Info("entry fee changed", "entry_fee_usd", usd)
	return receipt, nil
}

// ChangeDuration sets the length of future rounds.
func (d *Deployer) ChangeDuration(ctx context.Context, seconds uint64) (*types.Receipt, error) {
	l, opts, err := d.ownerLottery(ctx)
	if err != nil {
		return nil, err
	}
	receipt, err := l.ChangeDuration(ctx, opts, new(big.Int).SetUint64(seconds))
	if err != nil {
		return nil, fmt.Errorf("changing duration: %w", err)
	}
	d.logger.Info("duration changed", "seconds", seconds)
	return receipt, nil
}
