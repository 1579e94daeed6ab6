package devchain

import (
	"context"
	"maps"
	"math/big"
	"slices"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/contracts"
)

const (
	// DefaultLotteryDuration is the round length set by the constructor.
	DefaultLotteryDuration = 86400
	// WinnerSharePercent is the share of the pool paid to the winner. The
	// owner receives the remainder.
	WinnerSharePercent = 90

	errNotOwner  = "Ownable: caller is not the owner"
	errNotClosed = "lottery is not closed"
	errNotOpened = "lottery is not opened"
)

var (
	ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(common.EtherDecimals), nil)
	// userSeed is the seed passed with every randomness request.
	userSeed = new(big.Int)
)

type lottery struct {
	chain   *Chain
	address ethCommon.Address

	owner          ethCommon.Address
	priceFeed      ethCommon.Address
	vrfCoordinator ethCommon.Address
	link           ethCommon.Address
	fee            *big.Int
	keyHash        ethCommon.Hash

	state lotteryStorage
}

type lotteryStorage struct {
	// entryFee is in USD with 18 decimals.
	entryFee     *big.Int
	duration     *big.Int
	deadline     *big.Int
	lotteryState common.LotteryState
	// participants maps entry id to participant.
	participants []ethCommon.Address
	entries      map[ethCommon.Address]*big.Int
	latestWinner ethCommon.Address
	randomness   *big.Int
	// pendingRequest is the randomness request of the round in Processing.
	pendingRequest [32]byte
	// nonces are the per key hash request counters of VRFConsumerBase.
	nonces map[ethCommon.Hash]*big.Int
}

var _ contracts.Lottery = (*lottery)(nil)

func (c *Chain) DeployLottery(ctx context.Context, opts contracts.TxOpts, params contracts.LotteryParams) (contracts.Lottery, error) {
	return deploy(ctx, c, opts, contracts.NameLottery, func(tx *txContext) (*lottery, error) {
		if params.EntryFeeUSD == nil || params.EntryFeeUSD.Sign() < 0 {
			return nil, contracts.Revert(contracts.NameLottery, "constructor", "invalid entry fee")
		}
		fee := new(big.Int)
		if params.Fee != nil {
			fee.Set(params.Fee)
		}
		return &lottery{
			chain:          c,
			address:        tx.self,
			owner:          tx.sender,
			priceFeed:      params.PriceFeed,
			vrfCoordinator: params.VRFCoordinator,
			link:           params.LinkToken,
			fee:            fee,
			keyHash:        params.KeyHash,
			state: lotteryStorage{
				entryFee:     new(big.Int).Mul(params.EntryFeeUSD, ether),
				duration:     big.NewInt(DefaultLotteryDuration),
				deadline:     new(big.Int),
				lotteryState: common.LotteryClosed,
				entries:      make(map[ethCommon.Address]*big.Int),
				randomness:   new(big.Int),
				nonces:       make(map[ethCommon.Hash]*big.Int),
			},
		}, nil
	})
}

func (l *lottery) Address() ethCommon.Address {
	return l.address
}

func (l *lottery) snapshot() func() {
	state := l.state
	state.participants = slices.Clone(l.state.participants)
	state.entries = maps.Clone(l.state.entries)
	state.nonces = maps.Clone(l.state.nonces)
	return func() {
		l.state = state
	}
}

func (l *lottery) revert(method, reason string) error {
	return contracts.Revert(contracts.NameLottery, method, reason)
}

// getEntryFee is the wei price of one entry. It reads the price feed, so the
// chain lock must be held.
func (l *lottery) getEntryFee() (*big.Int, error) {
	feed, err := lookup[*priceFeed](l.chain, l.priceFeed, contracts.NameMockV3Aggregator)
	if err != nil {
		return nil, l.revert("getEntryFee", err.Error())
	}
	answer := feed.latestRoundData().Answer
	if answer.Sign() <= 0 {
		return nil, l.revert("getEntryFee", "invalid price")
	}
	// Scale the answer to 18 decimals.
	adjusted := new(big.Int).Set(answer)
	if d := int64(feed.decimals); d <= common.EtherDecimals {
		adjusted.Mul(adjusted, new(big.Int).Exp(big.NewInt(10), big.NewInt(common.EtherDecimals-d), nil))
	} else {
		adjusted.Quo(adjusted, new(big.Int).Exp(big.NewInt(10), big.NewInt(d-common.EtherDecimals), nil))
	}
	if adjusted.Sign() == 0 {
		return nil, l.revert("getEntryFee", "invalid price")
	}
	cost := new(big.Int).Mul(l.state.entryFee, ether)
	return cost.Quo(cost, adjusted), nil
}

func (l *lottery) onlyOwner(tx *txContext, method string) error {
	if tx.sender != l.owner {
		return l.revert(method, errNotOwner)
	}
	return nil
}

func (l *lottery) startLottery(tx *txContext) error {
	if err := l.onlyOwner(tx, "startLottery"); err != nil {
		return err
	}
	if l.state.lotteryState != common.LotteryClosed {
		return l.revert("startLottery", errNotClosed)
	}
	l.state.lotteryState = common.LotteryOpened
	l.state.deadline = new(big.Int).Add(tx.now(), l.state.duration)
	return tx.emit(contracts.LotteryABI, contracts.EventLotteryStarted, l.state.deadline)
}

func (l *lottery) enterLottery(tx *txContext, entries *big.Int) error {
	const method = "enterLottery"
	if l.state.lotteryState != common.LotteryOpened {
		return l.revert(method, errNotOpened)
	}
	if tx.now().Cmp(l.state.deadline) >= 0 {
		return l.revert(method, "lottery deadline has passed")
	}
	if entries == nil || entries.Sign() <= 0 {
		return l.revert(method, "at least one entry is required")
	}
	if !entries.IsInt64() || entries.Int64() > int64(1<<20) {
		return l.revert(method, "too many entries")
	}
	fee, err := l.getEntryFee()
	if err != nil {
		return err
	}
	if tx.value.Cmp(new(big.Int).Mul(fee, entries)) < 0 {
		return l.revert(method, "not enough ETH to enter")
	}
	for i := int64(0); i < entries.Int64(); i++ {
		l.state.participants = append(l.state.participants, tx.sender)
	}
	l.state.entries[tx.sender] = new(big.Int).Add(l.participantEntries(tx.sender), entries)
	return tx.emit(contracts.LotteryABI, contracts.EventLotteryEntered, tx.sender, entries)
}

func (l *lottery) endLottery(tx *txContext) error {
	const method = "endLottery"
	if l.state.lotteryState != common.LotteryOpened {
		return l.revert(method, errNotOpened)
	}
	if tx.now().Cmp(l.state.deadline) < 0 {
		return l.revert(method, "lottery deadline has not passed")
	}
	if len(l.state.participants) == 0 {
		l.state.lotteryState = common.LotteryClosed
		return tx.emit(contracts.LotteryABI, contracts.EventLotteryFinished, ethCommon.Address{}, new(big.Int), new(big.Int))
	}

	link, err := lookup[*linkToken](l.chain, l.link, contracts.NameLinkToken)
	if err != nil {
		return l.revert(method, err.Error())
	}
	if link.balanceOf(l.address).Cmp(l.fee) < 0 {
		return l.revert(method, "not enough LINK")
	}
	l.state.lotteryState = common.LotteryProcessing
	requestID, err := l.requestRandomness(tx, link)
	if err != nil {
		return err
	}
	l.state.pendingRequest = requestID
	return tx.emit(contracts.LotteryABI, contracts.EventRequestedRandomness, requestID)
}

// requestRandomness pays the coordinator and derives the request id the
// coordinator will answer with.
func (l *lottery) requestRandomness(tx *txContext, link *linkToken) ([32]byte, error) {
	data, err := contracts.PackRandomnessRequest(l.keyHash, userSeed)
	if err != nil {
		return [32]byte{}, err
	}
	if err = link.transferAndCall(tx.call(l.link), l.vrfCoordinator, l.fee, data); err != nil {
		return [32]byte{}, err
	}
	nonce, ok := l.state.nonces[l.keyHash]
	if !ok {
		nonce = new(big.Int)
	}
	seed := contracts.MakeVRFInputSeed(l.keyHash, userSeed, l.address, nonce)
	l.state.nonces[l.keyHash] = new(big.Int).Add(nonce, big.NewInt(1))
	return contracts.MakeRequestID(l.keyHash, seed), nil
}

func (l *lottery) rawFulfillRandomness(tx *txContext, requestID [32]byte, randomness *big.Int) error {
	const method = "rawFulfillRandomness"
	if tx.sender != l.vrfCoordinator {
		return l.revert(method, "Only VRFCoordinator can fulfill")
	}
	if l.state.lotteryState != common.LotteryProcessing {
		return l.revert(method, "lottery is not processing")
	}
	if requestID != l.state.pendingRequest {
		return l.revert(method, "unknown request id")
	}
	if randomness == nil || randomness.Sign() <= 0 {
		return l.revert(method, "random number not found")
	}

	count := big.NewInt(int64(len(l.state.participants)))
	index := new(big.Int).Mod(randomness, count)
	winner := l.state.participants[index.Int64()]

	pool := l.chain.balanceOf(l.address)
	prize := new(big.Int).Mul(pool, big.NewInt(WinnerSharePercent))
	prize.Quo(prize, big.NewInt(100))
	ownerCut := new(big.Int).Sub(pool, prize)
	if err := l.chain.transferEther(l.address, winner, prize); err != nil {
		return l.revert(method, err.Error())
	}
	if err := l.chain.transferEther(l.address, l.owner, ownerCut); err != nil {
		return l.revert(method, err.Error())
	}

	l.state.latestWinner = winner
	l.state.randomness = new(big.Int).Set(randomness)
	l.state.participants = nil
	l.state.entries = make(map[ethCommon.Address]*big.Int)
	l.state.pendingRequest = [32]byte{}
	l.state.lotteryState = common.LotteryClosed
	return tx.emit(contracts.LotteryABI, contracts.EventLotteryFinished, winner, randomness, prize)
}

func (l *lottery) changeEntryFee(tx *txContext, entryFeeUSD18 *big.Int) error {
	if err := l.onlyOwner(tx, "changeEntryFee"); err != nil {
		return err
	}
	if l.state.lotteryState != common.LotteryClosed {
		return l.revert("changeEntryFee", errNotClosed)
	}
	if entryFeeUSD18 == nil || entryFeeUSD18.Sign() <= 0 {
		return l.revert("changeEntryFee", "entry fee must be positive")
	}
	l.state.entryFee = new(big.Int).Set(entryFeeUSD18)
	return nil
}

func (l *lottery) changeDuration(tx *txContext, seconds *big.Int) error {
	if err := l.onlyOwner(tx, "changeDuration"); err != nil {
		return err
	}
	if l.state.lotteryState != common.LotteryClosed {
		return l.revert("changeDuration", errNotClosed)
	}
	if seconds == nil || seconds.Sign() <= 0 {
		return l.revert("changeDuration", "duration must be positive")
	}
	l.state.duration = new(big.Int).Set(seconds)
	return nil
}

func (l *lottery) participantEntries(participant ethCommon.Address) *big.Int {
	if n, ok := l.state.entries[participant]; ok {
		return n
	}
	return new(big.Int)
}

func (l *lottery) transact(ctx context.Context, opts contracts.TxOpts, method string, payable bool, fn func(tx *txContext) error) (*types.Receipt, error) {
	return l.chain.transact(ctx, opts, call{
		to:       l.address,
		contract: contracts.NameLottery,
		method:   method,
		payable:  payable,
		fn:       fn,
	})
}

func (l *lottery) StartLottery(ctx context.Context, opts contracts.TxOpts) (*types.Receipt, error) {
	return l.transact(ctx, opts, "startLottery", false, l.startLottery)
}

func (l *lottery) EnterLottery(ctx context.Context, opts contracts.TxOpts, entries *big.Int) (*types.Receipt, error) {
	return l.transact(ctx, opts, "enterLottery", true, func(tx *txContext) error {
		return l.enterLottery(tx, entries)
	})
}

func (l *lottery) EndLottery(ctx context.Context, opts contracts.TxOpts) (*types.Receipt, error) {
	return l.transact(ctx, opts, "endLottery", false, l.endLottery)
}

func (l *lottery) ChangeEntryFee(ctx context.Context, opts contracts.TxOpts, entryFeeUSD18 *big.Int) (*types.Receipt, error) {
	return l.transact(ctx, opts, "changeEntryFee", false, func(tx *txContext) error {
		return l.changeEntryFee(tx, entryFeeUSD18)
	})
}

func (l *lottery) ChangeDuration(ctx context.Context, opts contracts.TxOpts, seconds *big.Int) (*types.Receipt, error) {
	return l.transact(ctx, opts, "changeDuration", false, func(tx *txContext) error {
		return l.changeDuration(tx, seconds)
	})
}

func (l *lottery) GetEntryFee(ctx context.Context) (*big.Int, error) {
	return view(ctx, l.chain, l.getEntryFee)
}

func (l *lottery) EntryFee(ctx context.Context) (*big.Int, error) {
	return view(ctx, l.chain, func() (*big.Int, error) {
		return new(big.Int).Set(l.state.entryFee), nil
	})
}

func (l *lottery) EntryCounter(ctx context.Context) (*big.Int, error) {
	return view(ctx, l.chain, func() (*big.Int, error) {
		return big.NewInt(int64(len(l.state.participants))), nil
	})
}

func (l *lottery) LotteryState(ctx context.Context) (common.LotteryState, error) {
	return view(ctx, l.chain, func() (common.LotteryState, error) {
		return l.state.lotteryState, nil
	})
}

// EntryIdToParticipant returns the zero address for ids without an entry.
func (l *lottery) EntryIdToParticipant(ctx context.Context, id *big.Int) (ethCommon.Address, error) {
	if err := contracts.CheckInts(contracts.NameLottery, "entryIdToParticipant", []string{"id"}, id); err != nil {
		return ethCommon.Address{}, err
	}
	return view(ctx, l.chain, func() (ethCommon.Address, error) {
		if id.Sign() < 0 || id.Cmp(big.NewInt(int64(len(l.state.participants)))) >= 0 {
			return ethCommon.Address{}, nil
		}
		return l.state.participants[id.Int64()], nil
	})
}

func (l *lottery) ParticipantEntries(ctx context.Context, participant ethCommon.Address) (*big.Int, error) {
	return view(ctx, l.chain, func() (*big.Int, error) {
		return new(big.Int).Set(l.participantEntries(participant)), nil
	})
}

func (l *lottery) LotteryDuration(ctx context.Context) (*big.Int, error) {
	return view(ctx, l.chain, func() (*big.Int, error) {
		return new(big.Int).Set(l.state.duration), nil
	})
}

func (l *lottery) LotteryDeadlineTimestamp(ctx context.Context) (*big.Int, error) {
	return view(ctx, l.chain, func() (*big.Int, error) {
		return new(big.Int).Set(l.state.deadline), nil
	})
}

func (l *lottery) LatestWinner(ctx context.Context) (ethCommon.Address, error) {
	return view(ctx, l.chain, func() (ethCommon.Address, error) {
		return l.state.latestWinner, nil
	})
}

func (l *lottery) Randomness(ctx context.Context) (*big.Int, error) {
	return view(ctx, l.chain, func() (*big.Int, error) {
		return new(big.Int).Set(l.state.randomness), nil
	})
}

func (l *lottery) Owner(ctx context.Context) (ethCommon.Address, error) {
	return l.owner, ctx.Err()
}
