package evmchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/contracts"
)

// boundContract is a contract deployed on a Chain.
type boundContract struct {
	chain   *Chain
	name    string
	address ethCommon.Address
	abi     *abi.ABI
	bound   *bind.BoundContract
}

func (c *Chain) attach(name string, contractABI *abi.ABI, addr ethCommon.Address) boundContract {
	return boundContract{
		chain:   c,
		name:    name,
		address: addr,
		abi:     contractABI,
		bound:   bind.NewBoundContract(addr, *contractABI, c.backend, c.backend, c.backend),
	}
}

func (b *boundContract) Address() ethCommon.Address {
	return b.address
}

func (b *boundContract) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	return b.chain.callWithABI(ctx, b.name, b.address, b.abi, result, method, params...)
}

func (b *boundContract) callBig(ctx context.Context, method string, params ...interface{}) (*big.Int, error) {
	var out *big.Int
	if err := b.call(ctx, &out, method, params...); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *boundContract) callAddress(ctx context.Context, method string, params ...interface{}) (ethCommon.Address, error) {
	var out ethCommon.Address
	err := b.call(ctx, &out, method, params...)
	return out, err
}

func (b *boundContract) transact(ctx context.Context, opts contracts.TxOpts, method string, params ...interface{}) (*types.Receipt, error) {
	return b.chain.transact(ctx, opts, b.name, b.bound, method, params...)
}

// deploy creates a contract from its build artifact.
func (c *Chain) deploy(ctx context.Context, opts contracts.TxOpts, name string, params ...interface{}) (boundContract, error) {
	contractABI, err := contracts.ABIByName(name)
	if err != nil {
		return boundContract{}, err
	}
	bytecode, err := c.bytecode(name)
	if err != nil {
		return boundContract{}, err
	}

	timer := c.metrics.TransactionLatencies(name, "constructor")
	defer timer.ObserveDuration()

	var addr ethCommon.Address
	receipt, err := c.send(ctx, name, "constructor", func() (*types.Transaction, error) {
		auth, err := c.transactor(ctx, opts)
		if err != nil {
			return nil, err
		}
		var tx *types.Transaction
		addr, tx, _, err = bind.DeployContract(auth, *contractABI, bytecode, c.backend, params...)
		return tx, err
	})
	c.countTransaction(name, "constructor", err)
	if err != nil {
		return boundContract{}, err
	}
	if receipt.ContractAddress != (ethCommon.Address{}) {
		addr = receipt.ContractAddress
	}
	c.logger.Info("contract deployed", "contract", name, "address", addr.Hex())
	return c.attach(name, contractABI, addr), nil
}

// priceFeed is an AggregatorV3 (or MockV3Aggregator) contract.
type priceFeed struct {
	boundContract
}

var _ contracts.PriceFeed = (*priceFeed)(nil)

func (c *Chain) DeployPriceFeed(ctx context.Context, opts contracts.TxOpts, decimals uint8, initialAnswer *big.Int) (contracts.PriceFeed, error) {
	if err := contracts.CheckInts(contracts.NameMockV3Aggregator, "constructor", []string{"initialAnswer"}, initialAnswer); err != nil {
		return nil, err
	}
	b, err := c.deploy(ctx, opts, contracts.NameMockV3Aggregator, decimals, initialAnswer)
	if err != nil {
		return nil, err
	}
	return &priceFeed{b}, nil
}

func (c *Chain) PriceFeedAt(addr ethCommon.Address) (contracts.PriceFeed, error) {
	return &priceFeed{c.attach(contracts.NameMockV3Aggregator, contracts.MockV3AggregatorABI, addr)}, nil
}

func (p *priceFeed) Decimals(ctx context.Context) (uint8, error) {
	var decimals uint8
	err := p.call(ctx, &decimals, "decimals")
	return decimals, err
}

func (p *priceFeed) LatestRoundData(ctx context.Context) (*contracts.RoundData, error) {
	var round contracts.RoundData
	if err := p.call(ctx, &round, "latestRoundData"); err != nil {
		return nil, err
	}
	return &round, nil
}

func (p *priceFeed) UpdateAnswer(ctx context.Context, opts contracts.TxOpts, answer *big.Int) (*types.Receipt, error) {
	if err := contracts.CheckInts(p.name, "updateAnswer", []string{"answer"}, answer); err != nil {
		return nil, err
	}
	return p.transact(ctx, opts, "updateAnswer", answer)
}

type linkToken struct {
	boundContract
}

var _ contracts.LinkToken = (*linkToken)(nil)

func (c *Chain) DeployLinkToken(ctx context.Context, opts contracts.TxOpts) (contracts.LinkToken, error) {
	b, err := c.deploy(ctx, opts, contracts.NameLinkToken)
	if err != nil {
		return nil, err
	}
	return &linkToken{b}, nil
}

func (c *Chain) LinkTokenAt(addr ethCommon.Address) (contracts.LinkToken, error) {
	return &linkToken{c.attach(contracts.NameLinkToken, contracts.LinkTokenABI, addr)}, nil
}

func (t *linkToken) BalanceOf(ctx context.Context, owner ethCommon.Address) (*big.Int, error) {
	return t.callBig(ctx, "balanceOf", owner)
}

func (t *linkToken) Transfer(ctx context.Context, opts contracts.TxOpts, to ethCommon.Address, amount *big.Int) (*types.Receipt, error) {
	if err := contracts.CheckInts(t.name, "transfer", []string{"amount"}, amount); err != nil {
		return nil, err
	}
	return t.transact(ctx, opts, "transfer", to, amount)
}

type vrfCoordinator struct {
	boundContract
}

var _ contracts.VRFCoordinator = (*vrfCoordinator)(nil)

func (c *Chain) DeployVRFCoordinator(ctx context.Context, opts contracts.TxOpts, link ethCommon.Address) (contracts.VRFCoordinator, error) {
	b, err := c.deploy(ctx, opts, contracts.NameVRFCoordinatorMock, link)
	if err != nil {
		return nil, err
	}
	return &vrfCoordinator{b}, nil
}

func (c *Chain) VRFCoordinatorAt(addr ethCommon.Address) (contracts.VRFCoordinator, error) {
	return &vrfCoordinator{c.attach(contracts.NameVRFCoordinatorMock, contracts.VRFCoordinatorMockABI, addr)}, nil
}

func (v *vrfCoordinator) CallBackWithRandomness(ctx context.Context, opts contracts.TxOpts, requestID [32]byte, randomness *big.Int, consumer ethCommon.Address) (*types.Receipt, error) {
	if err := contracts.CheckInts(v.name, "callBackWithRandomness", []string{"randomness"}, randomness); err != nil {
		return nil, err
	}
	return v.transact(ctx, opts, "callBackWithRandomness", requestID, randomness, consumer)
}

type lottery struct {
	boundContract
}

var _ contracts.Lottery = (*lottery)(nil)

func (c *Chain) DeployLottery(ctx context.Context, opts contracts.TxOpts, params contracts.LotteryParams) (contracts.Lottery, error) {
	fee := params.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if err := contracts.CheckInts(contracts.NameLottery, "constructor", []string{"entryFeeUSD"}, params.EntryFeeUSD); err != nil {
		return nil, err
	}
	b, err := c.deploy(ctx, opts, contracts.NameLottery,
		params.PriceFeed,
		params.VRFCoordinator,
		params.LinkToken,
		params.EntryFeeUSD,
		fee,
		[32]byte(params.KeyHash),
	)
	if err != nil {
		return nil, err
	}
	return &lottery{b}, nil
}

func (c *Chain) LotteryAt(addr ethCommon.Address) (contracts.Lottery, error) {
	return &lottery{c.attach(contracts.NameLottery, contracts.LotteryABI, addr)}, nil
}

func (l *lottery) StartLottery(ctx context.Context, opts contracts.TxOpts) (*types.Receipt, error) {
	return l.transact(ctx, opts, "startLottery")
}

func (l *lottery) EnterLottery(ctx context.Context, opts contracts.TxOpts, entries *big.Int) (*types.Receipt, error) {
	if err := contracts.CheckInts(l.name, "enterLottery", []string{"entries"}, entries); err != nil {
		return nil, err
	}
	return l.transact(ctx, opts, "enterLottery", entries)
}

func (l *lottery) EndLottery(ctx context.Context, opts contracts.TxOpts) (*types.Receipt, error) {
	return l.transact(ctx, opts, "endLottery")
}

func (l *lottery) ChangeEntryFee(ctx context.Context, opts contracts.TxOpts, entryFeeUSD18 *big.Int) (*types.Receipt, error) {
	if err := contracts.CheckInts(l.name, "changeEntryFee", []string{"entryFeeUSD18"}, entryFeeUSD18); err != nil {
		return nil, err
	}
	return l.transact(ctx, opts, "changeEntryFee", entryFeeUSD18)
}

func (l *lottery) ChangeDuration(ctx context.Context, opts contracts.TxOpts, seconds *big.Int) (*types.Receipt, error) {
	if err := contracts.CheckInts(l.name, "changeDuration", []string{"seconds"}, seconds); err != nil {
		return nil, err
	}
	return l.transact(ctx, opts, "changeDuration", seconds)
}

func (l *lottery) GetEntryFee(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "getEntryFee")
}

func (l *lottery) EntryFee(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "entryFee")
}

func (l *lottery) EntryCounter(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "entryCounter")
}

func (l *lottery) LotteryState(ctx context.Context) (common.LotteryState, error) {
	var state uint8
	if err := l.call(ctx, &state, "lotteryState"); err != nil {
		return 0, err
	}
	s := common.LotteryState(state)
	if !s.Valid() {
		return 0, fmt.Errorf("lottery reported unknown state %d", state)
	}
	return s, nil
}

func (l *lottery) EntryIdToParticipant(ctx context.Context, id *big.Int) (ethCommon.Address, error) {
	if err := contracts.CheckInts(l.name, "entryIdToParticipant", []string{"id"}, id); err != nil {
		return ethCommon.Address{}, err
	}
	return l.callAddress(ctx, "entryIdToParticipant", id)
}

func (l *lottery) ParticipantEntries(ctx context.Context, participant ethCommon.Address) (*big.Int, error) {
	return l.callBig(ctx, "participantEntries", participant)
}

func (l *lottery) LotteryDuration(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "lotteryDuration")
}

func (l *lottery) LotteryDeadlineTimestamp(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "lotteryDeadlineTimestamp")
}

func (l *lottery) LatestWinner(ctx context.Context) (ethCommon.Address, error) {
	return l.callAddress(ctx, "latestWinner")
}

func (l *lottery) Randomness(ctx context.Context) (*big.Int, error) {
	return l.callBig(ctx, "randomness")
}

func (l *lottery) Owner(ctx context.Context) (ethCommon.Address, error) {
	return l.callAddress(ctx, "owner")
}
