// Package devchain is an in-process development chain. It runs the lottery
// and its mocks as native Go contracts and emits the same ABI-encoded logs a
// node would, so everything above the network layer is oblivious to it.
package devchain

import (
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/config"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/metrics"
	"github.com/vrflottery/lottery/network"
)

const (
	// ChainID is the chain id ganache and brownie use for development chains.
	ChainID = 1337
	// NumAccounts is the number of pre-funded accounts.
	NumAccounts = 10

	moduleName = "devchain"
)

// InitialBalance is the ether every pre-funded account starts with.
var InitialBalance = common.MustToWei("100")

// ErrInsufficientFunds is returned when a sender cannot cover the value it
// sends.
var ErrInsufficientFunds = errors.New("insufficient funds for transfer")

// native is a contract implemented in Go.
type native interface {
	contracts.Contract
	// snapshot captures the contract storage and returns a function that
	// restores it.
	snapshot() func()
}

// Chain is an in-process chain. It is safe for concurrent use; all
// transactions are serialized and each one is mined in its own block.
type Chain struct {
	mu sync.Mutex

	logger  *log.Logger
	metrics metrics.ChainMetrics
	now     func() time.Time

	accounts []network.Account
	keys     map[ethCommon.Address]struct{}

	balances   map[ethCommon.Address]*big.Int
	nonces     map[ethCommon.Address]uint64
	contracts  map[ethCommon.Address]native
	logs       []types.Log
	blockTimes []uint64
	offset     time.Duration
}

var _ network.Network = (*Chain)(nil)

// Option configures a Chain.
type Option func(*Chain)

// WithClock replaces the wall clock block timestamps are derived from.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// New creates a chain with NumAccounts deterministic accounts, each holding
// InitialBalance.
func New(opts ...Option) *Chain {
	c := &Chain{
		now:       time.Now,
		metrics:   metrics.NewDefaultChainMetrics(config.NetworkDevelopment),
		keys:      make(map[ethCommon.Address]struct{}),
		balances:  make(map[ethCommon.Address]*big.Int),
		nonces:    make(map[ethCommon.Address]uint64),
		contracts: make(map[ethCommon.Address]native),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.NewDefaultLogger(moduleName)
	} else {
		c.logger = c.logger.WithModule(moduleName)
	}

	for i := 0; i < NumAccounts; i++ {
		account := network.NewAccount(devKey(i))
		c.accounts = append(c.accounts, account)
		c.keys[account.Address] = struct{}{}
		c.balances[account.Address] = new(big.Int).Set(InitialBalance)
	}
	// Genesis.
	c.blockTimes = append(c.blockTimes, uint64(c.now().Unix()))
	return c
}

// devKey derives the i-th development key. The same keys are produced on
// every run so that addresses are stable across invocations.
func devKey(i int) *ecdsa.PrivateKey {
	key, err := crypto.ToECDSA(crypto.Keccak256([]byte(fmt.Sprintf("lottery development account %d", i))))
	if err != nil {
		panic(err)
	}
	return key
}

func (c *Chain) Name() string {
	return config.NetworkDevelopment
}

func (c *Chain) IsLocal() bool {
	return true
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(ChainID), nil
}

func (c *Chain) Accounts() []network.Account {
	return c.accounts
}

func (c *Chain) BalanceAt(ctx context.Context, addr ethCommon.Address) (*big.Int, error) {
	return view(ctx, c, func() (*big.Int, error) {
		return new(big.Int).Set(c.balanceOf(addr)), nil
	})
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	return view(ctx, c, func() (uint64, error) {
		return c.head(), nil
	})
}

func (c *Chain) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	return view(ctx, c, func() (uint64, error) {
		if number > c.head() {
			return 0, fmt.Errorf("block %d not found, head is %d", number, c.head())
		}
		return c.blockTimes[number], nil
	})
}

// Sleep moves the chain clock forward and mines an empty block stamped
// with the advanced time.
func (c *Chain) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("cannot travel back in time by %s", d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
	c.blockTimes = append(c.blockTimes, c.timestamp())
	c.logger.Debug("chain clock advanced", "by", d, "offset", c.offset, "block", c.head())
	return nil
}

// FilterLogs supports block ranges, addresses and positional topics.
func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if q.BlockHash != nil {
		return nil, fmt.Errorf("filtering by block hash is not supported")
	}
	return view(ctx, c, func() ([]types.Log, error) {
		from := uint64(0)
		if q.FromBlock != nil {
			from = q.FromBlock.Uint64()
		}
		to := c.head()
		if q.ToBlock != nil && q.ToBlock.Sign() >= 0 && q.ToBlock.Uint64() < to {
			to = q.ToBlock.Uint64()
		}
		var out []types.Log
		for _, l := range c.logs {
			if l.BlockNumber < from || l.BlockNumber > to {
				continue
			}
			if matchLog(&l, q.Addresses, q.Topics) {
				out = append(out, l)
			}
		}
		return out, nil
	})
}

func matchLog(l *types.Log, addresses []ethCommon.Address, topics [][]ethCommon.Hash) bool {
	if len(addresses) > 0 {
		found := false
		for _, addr := range addresses {
			if l.Address == addr {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(topics) > len(l.Topics) {
		return false
	}
	for i, alternatives := range topics {
		if len(alternatives) == 0 {
			continue
		}
		found := false
		for _, topic := range alternatives {
			if l.Topics[i] == topic {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c *Chain) Close() {}

func (c *Chain) head() uint64 {
	return uint64(len(c.blockTimes) - 1)
}

func (c *Chain) balanceOf(addr ethCommon.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

// timestamp is the time of the block being built.
func (c *Chain) timestamp() uint64 {
	ts := uint64(c.now().Add(c.offset).Unix())
	if last := c.blockTimes[c.head()]; ts < last {
		return last
	}
	return ts
}

// snapshot captures balances, the set of deployed contracts and their
// storage.
func (c *Chain) snapshot() func() {
	balances := maps.Clone(c.balances)
	deployed := maps.Clone(c.contracts)
	restores := make([]func(), 0, len(c.contracts))
	for _, n := range c.contracts {
		restores = append(restores, n.snapshot())
	}
	return func() {
		c.balances = balances
		c.contracts = deployed
		for _, restore := range restores {
			restore()
		}
	}
}

// call describes one transaction.
type call struct {
	to       ethCommon.Address
	contract string
	method   string
	payable  bool
	deploy   bool
	fn       func(tx *txContext) error
}

// transact executes c atomically and mines it. A failing call leaves no
// trace on the chain.
func (c *Chain) transact(ctx context.Context, opts contracts.TxOpts, cl call) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timer := c.metrics.TransactionLatencies(cl.contract, cl.method)
	defer timer.ObserveDuration()

	c.mu.Lock()
	defer c.mu.Unlock()

	receipt, err := c.execute(opts, cl)
	switch {
	case err == nil:
		c.metrics.Transactions(cl.contract, cl.method, metrics.TxStatusSuccess).Inc()
		c.logger.Debug("transaction mined",
			"contract", cl.contract,
			"method", cl.method,
			"from", opts.From.Hex(),
			"block", receipt.BlockNumber.Uint64(),
			"tx_hash", receipt.TxHash.Hex(),
		)
	case errors.Is(err, contracts.ErrReverted):
		c.metrics.Transactions(cl.contract, cl.method, metrics.TxStatusReverted).Inc()
		c.logger.Debug("transaction reverted", "contract", cl.contract, "method", cl.method, "err", err)
	default:
		c.metrics.Transactions(cl.contract, cl.method, metrics.TxStatusError).Inc()
	}
	return receipt, err
}

func (c *Chain) execute(opts contracts.TxOpts, cl call) (*types.Receipt, error) {
	if _, ok := c.keys[opts.From]; !ok {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownAccount, opts.From.Hex())
	}
	value := new(big.Int)
	if opts.Value != nil {
		value.Set(opts.Value)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative value %s", value)
	}
	if value.Sign() > 0 && !cl.payable {
		return nil, contracts.Revert(cl.contract, cl.method, "function is not payable")
	}

	to := cl.to
	if cl.deploy {
		to = crypto.CreateAddress(opts.From, c.nonces[opts.From])
	}

	restore := c.snapshot()
	var logs []*types.Log
	tx := &txContext{
		chain:     c,
		sender:    opts.From,
		value:     value,
		timestamp: c.timestamp(),
		logs:      &logs,
	}
	if value.Sign() > 0 {
		if err := c.transferEther(opts.From, to, value); err != nil {
			restore()
			return nil, err
		}
	}
	if err := cl.fn(tx.at(to)); err != nil {
		restore()
		return nil, err
	}

	receipt := c.mine(opts.From, tx.timestamp, logs)
	if cl.deploy {
		receipt.ContractAddress = to
	}
	return receipt, nil
}

// mine appends a block holding a single transaction from sender.
func (c *Chain) mine(sender ethCommon.Address, timestamp uint64, logs []*types.Log) *types.Receipt {
	nonce := c.nonces[sender]
	c.nonces[sender] = nonce + 1
	c.blockTimes = append(c.blockTimes, timestamp)
	number := c.head()

	txHash := crypto.Keccak256Hash(sender.Bytes(), uint64Bytes(nonce), uint64Bytes(ChainID))
	blockHash := crypto.Keccak256Hash(uint64Bytes(number), uint64Bytes(timestamp), txHash.Bytes())
	for i, l := range logs {
		l.BlockNumber = number
		l.BlockHash = blockHash
		l.TxHash = txHash
		l.TxIndex = 0
		l.Index = uint(i)
		c.logs = append(c.logs, *l)
	}
	return &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 0,
		Logs:              logs,
		TxHash:            txHash,
		BlockHash:         blockHash,
		BlockNumber:       new(big.Int).SetUint64(number),
		TransactionIndex:  0,
	}
}

func (c *Chain) transferEther(from, to ethCommon.Address, amount *big.Int) error {
	balance := c.balanceOf(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s wei, needs %s", ErrInsufficientFunds, from.Hex(), balance, amount)
	}
	c.balances[from] = new(big.Int).Sub(balance, amount)
	c.balances[to] = new(big.Int).Add(c.balanceOf(to), amount)
	return nil
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// txContext is the execution context of a (possibly nested) call.
type txContext struct {
	chain *Chain
	// self is the contract being executed.
	self ethCommon.Address
	// sender is msg.sender.
	sender ethCommon.Address
	// value is msg.value.
	value     *big.Int
	timestamp uint64
	logs      *[]*types.Log
}

func (tx *txContext) at(self ethCommon.Address) *txContext {
	cp := *tx
	cp.self = self
	return &cp
}

// call is a message from the executing contract to target.
func (tx *txContext) call(target ethCommon.Address) *txContext {
	return &txContext{
		chain:     tx.chain,
		self:      target,
		sender:    tx.self,
		value:     new(big.Int),
		timestamp: tx.timestamp,
		logs:      tx.logs,
	}
}

// try runs fn and rolls back its effects, logs included, if it fails.
func (tx *txContext) try(fn func() error) error {
	restore := tx.chain.snapshot()
	n := len(*tx.logs)
	if err := fn(); err != nil {
		restore()
		*tx.logs = (*tx.logs)[:n]
		return err
	}
	return nil
}

// emit records an event of the executing contract.
func (tx *txContext) emit(contractABI *abi.ABI, event string, args ...interface{}) error {
	l, err := contracts.PackLog(contractABI, tx.self, event, args...)
	if err != nil {
		return err
	}
	*tx.logs = append(*tx.logs, l)
	return nil
}

func (tx *txContext) now() *big.Int {
	return new(big.Int).SetUint64(tx.timestamp)
}

// view runs a read-only call.
func view[T any](ctx context.Context, c *Chain, fn func() (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// lookup finds the contract of type T at addr.
func lookup[T native](c *Chain, addr ethCommon.Address, name string) (T, error) {
	n, ok := c.contracts[addr]
	if ok {
		if t, ok := n.(T); ok {
			return t, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s at %s", network.ErrNoContract, name, addr.Hex())
}

func attach[T native](c *Chain, addr ethCommon.Address, name string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lookup[T](c, addr, name)
}

func (c *Chain) PriceFeedAt(addr ethCommon.Address) (contracts.PriceFeed, error) {
	return attach[*priceFeed](c, addr, contracts.NameMockV3Aggregator)
}

func (c *Chain) LinkTokenAt(addr ethCommon.Address) (contracts.LinkToken, error) {
	return attach[*linkToken](c, addr, contracts.NameLinkToken)
}

func (c *Chain) VRFCoordinatorAt(addr ethCommon.Address) (contracts.VRFCoordinator, error) {
	return attach[*vrfCoordinator](c, addr, contracts.NameVRFCoordinatorMock)
}

func (c *Chain) LotteryAt(addr ethCommon.Address) (contracts.Lottery, error) {
	return attach[*lottery](c, addr, contracts.NameLottery)
}

// deploy registers the contract built by construct at the address the
// transaction creates.
func deploy[T native](ctx context.Context, c *Chain, opts contracts.TxOpts, name string, construct func(tx *txContext) (T, error)) (T, error) {
	var created T
	_, err := c.transact(ctx, opts, call{
		contract: name,
		method:   "constructor",
		deploy:   true,
		fn: func(tx *txContext) error {
			n, err := construct(tx)
			if err != nil {
				return err
			}
			c.contracts[tx.self] = n
			created = n
			return nil
		},
	})
	if err != nil {
		var zero T
		return zero, err
	}
	c.logger.Info("contract deployed", "contract", name, "address", created.Address().Hex())
	return created, nil
}
