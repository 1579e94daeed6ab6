package contracts

import (
	"context"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vrflottery/lottery/common"
)

// TxOpts describes who sends a state-changing call and how much ether it
// carries.
type TxOpts struct {
	From  ethCommon.Address
	Value *big.Int
}

// From is shorthand for TxOpts without value.
func From(addr ethCommon.Address) TxOpts {
	return TxOpts{From: addr}
}

// Contract is a deployed contract.
type Contract interface {
	Address() ethCommon.Address
}

// RoundData is the result of AggregatorV3Interface.latestRoundData.
type RoundData struct {
	RoundId         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// PriceFeed is a Chainlink AggregatorV3 price feed. UpdateAnswer is only
// implemented by MockV3Aggregator.
type PriceFeed interface {
	Contract
	Decimals(ctx context.Context) (uint8, error)
	LatestRoundData(ctx context.Context) (*RoundData, error)
	UpdateAnswer(ctx context.Context, opts TxOpts, answer *big.Int) (*types.Receipt, error)
}

// LinkToken is the ERC-677 LINK token.
type LinkToken interface {
	Contract
	BalanceOf(ctx context.Context, owner ethCommon.Address) (*big.Int, error)
	Transfer(ctx context.Context, opts TxOpts, to ethCommon.Address, amount *big.Int) (*types.Receipt, error)
}

// VRFCoordinator is the randomness oracle. CallBackWithRandomness is only
// implemented by VRFCoordinatorMock.
type VRFCoordinator interface {
	Contract
	CallBackWithRandomness(ctx context.Context, opts TxOpts, requestID [32]byte, randomness *big.Int, consumer ethCommon.Address) (*types.Receipt, error)
}

// LotteryParams are the Lottery constructor arguments.
type LotteryParams struct {
	PriceFeed      ethCommon.Address
	VRFCoordinator ethCommon.Address
	LinkToken      ethCommon.Address
	// EntryFeeUSD is in whole dollars.
	EntryFeeUSD *big.Int
	// Fee is the LINK paid per randomness request.
	Fee     *big.Int
	KeyHash ethCommon.Hash
}

// Lottery is the lottery contract.
type Lottery interface {
	Contract

	StartLottery(ctx context.Context, opts TxOpts) (*types.Receipt, error)
	EnterLottery(ctx context.Context, opts TxOpts, entries *big.Int) (*types.Receipt, error)
	EndLottery(ctx context.Context, opts TxOpts) (*types.Receipt, error)
	ChangeEntryFee(ctx context.Context, opts TxOpts, entryFeeUSD18 *big.Int) (*types.Receipt, error)
	ChangeDuration(ctx context.Context, opts TxOpts, seconds *big.Int) (*types.Receipt, error)

	// GetEntryFee is the price of one entry in wei at the current ETH/USD rate.
	GetEntryFee(ctx context.Context) (*big.Int, error)
	// EntryFee is the price of one entry in USD with 18 decimals.
	EntryFee(ctx context.Context) (*big.Int, error)
	EntryCounter(ctx context.Context) (*big.Int, error)
	LotteryState(ctx context.Context) (common.LotteryState, error)
	EntryIdToParticipant(ctx context.Context, id *big.Int) (ethCommon.Address, error)
	ParticipantEntries(ctx context.Context, participant ethCommon.Address) (*big.Int, error)
	LotteryDuration(ctx context.Context) (*big.Int, error)
	LotteryDeadlineTimestamp(ctx context.Context) (*big.Int, error)
	LatestWinner(ctx context.Context) (ethCommon.Address, error)
	Randomness(ctx context.Context) (*big.Int, error)
	Owner(ctx context.Context) (ethCommon.Address, error)
}
