// Package evmchain talks to an EVM chain over JSON-RPC.
package evmchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vrflottery/lottery/config"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/metrics"
	"github.com/vrflottery/lottery/network"
)

const (
	moduleName = "evmchain"

	// DefaultConfirmationTimeout bounds the wait for a receipt when the
	// network configures none.
	DefaultConfirmationTimeout = 5 * time.Minute
)

// Backend is the subset of ethclient.Client used here.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account ethCommon.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// RPCCaller issues raw JSON-RPC calls, used for node-specific methods.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// Chain is a network reached through a JSON-RPC endpoint.
type Chain struct {
	name     string
	local    bool
	backend  Backend
	rpc      RPCCaller
	chainID  *big.Int
	accounts []network.Account
	keys     map[ethCommon.Address]network.Account

	artifacts           string
	confirmationTimeout time.Duration

	closer  func()
	logger  *log.Logger
	metrics metrics.ChainMetrics
}

var _ network.Network = (*Chain)(nil)

// Option configures a Chain.
type Option func(*Chain)

// WithArtifacts sets the directory build artifacts are read from.
func WithArtifacts(dir string) Option {
	return func(c *Chain) {
		c.artifacts = dir
	}
}

// WithConfirmationTimeout bounds the wait for receipts.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(c *Chain) {
		if d > 0 {
			c.confirmationTimeout = d
		}
	}
}

// New wraps an established connection.
func New(name string, backend Backend, rpcCaller RPCCaller, chainID *big.Int, accounts []network.Account, logger *log.Logger, opts ...Option) *Chain {
	c := &Chain{
		name:                name,
		local:               config.IsLocalNetwork(name),
		backend:             backend,
		rpc:                 rpcCaller,
		chainID:             chainID,
		accounts:            accounts,
		keys:                make(map[ethCommon.Address]network.Account),
		confirmationTimeout: DefaultConfirmationTimeout,
		closer:              func() {},
		logger:              logger.WithModule(moduleName).With("network", name),
		metrics:             metrics.NewDefaultChainMetrics(name),
	}
	for _, account := range accounts {
		c.keys[account.Address] = account
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the named network. Local networks sign with the
// configured pre-funded accounts, remote ones with the wallet key.
func Dial(ctx context.Context, name string, cfg *config.NetworkConfig, wallets config.WalletsConfig, build config.BuildConfig, logger *log.Logger) (*Chain, error) {
	var keys []string
	if config.IsLocalNetwork(name) {
		keys = cfg.Accounts
	}
	if len(keys) == 0 {
		if wallets.FromKey == "" {
			return nil, fmt.Errorf("network %s: no accounts configured and wallets.from_key is empty", name)
		}
		keys = []string{wallets.FromKey}
	}
	accounts := make([]network.Account, 0, len(keys))
	for i, key := range keys {
		account, err := network.AccountFromHex(key)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		accounts = append(accounts, account)
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.RPC)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", cfg.RPC, err)
	}
	client := ethclient.NewClient(rpcClient)
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}

	c := New(name, client, rpcClient, chainID, accounts, logger,
		WithArtifacts(build.Contracts),
		WithConfirmationTimeout(cfg.ConfirmationTimeout),
	)
	c.closer = client.Close
	c.logger.Info("connected", "rpc", cfg.RPC, "chain_id", chainID.String(), "accounts", len(accounts))
	return c, nil
}

func (c *Chain) Name() string {
	return c.name
}

func (c *Chain) IsLocal() bool {
	return c.local
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

func (c *Chain) Accounts() []network.Account {
	return c.accounts
}

func (c *Chain) BalanceAt(ctx context.Context, addr ethCommon.Address) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, addr, nil)
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

func (c *Chain) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, fmt.Errorf("fetching header %d: %w", number, err)
	}
	return header.Time, nil
}

// Sleep advances the clock of a local node and mines a block so that the
// next transaction observes the new time.
func (c *Chain) Sleep(ctx context.Context, d time.Duration) error {
	if !c.local {
		return network.ErrTimeTravelUnsupported
	}
	var offset interface{}
	if err := c.rpc.CallContext(ctx, &offset, "evm_increaseTime", int64(d/time.Second)); err != nil {
		return fmt.Errorf("evm_increaseTime: %w", err)
	}
	var mined interface{}
	if err := c.rpc.CallContext(ctx, &mined, "evm_mine"); err != nil {
		return fmt.Errorf("evm_mine: %w", err)
	}
	c.logger.Debug("chain clock advanced", "by", d)
	return nil
}

func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.backend.FilterLogs(ctx, q)
}

func (c *Chain) Close() {
	c.closer()
}

// callWithABI runs a read-only call and unpacks the output into result.
func (c *Chain) callWithABI(ctx context.Context, contract string, addr ethCommon.Address, contractABI *abi.ABI, result interface{}, method string, params ...interface{}) error {
	inPacked, err := contractABI.Pack(method, params...)
	if err != nil {
		return fmt.Errorf("packing %s.%s call data: %w", contract, method, err)
	}
	outPacked, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: inPacked}, nil)
	if err != nil {
		return mapError(contract, method, err)
	}
	if err = contractABI.UnpackIntoInterface(result, method, outPacked); err != nil {
		return fmt.Errorf("unpacking %s.%s output: %w", contract, method, err)
	}
	return nil
}

func (c *Chain) transactor(ctx context.Context, opts contracts.TxOpts) (*bind.TransactOpts, error) {
	account, ok := c.keys[opts.From]
	if !ok {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownAccount, opts.From.Hex())
	}
	auth, err := bind.NewKeyedTransactorWithChainID(account.Key, c.chainID)
	if err != nil {
		return nil, err
	}
	auth.Context = ctx
	if opts.Value != nil {
		auth.Value = new(big.Int).Set(opts.Value)
	}
	return auth, nil
}

// transact sends a transaction through bound and waits for its receipt.
func (c *Chain) transact(ctx context.Context, opts contracts.TxOpts, contract string, bound *bind.BoundContract, method string, params ...interface{}) (*types.Receipt, error) {
	timer := c.metrics.TransactionLatencies(contract, method)
	defer timer.ObserveDuration()

	receipt, err := c.send(ctx, contract, method, func() (*types.Transaction, error) {
		auth, err := c.transactor(ctx, opts)
		if err != nil {
			return nil, err
		}
		return bound.Transact(auth, method, params...)
	})
	c.countTransaction(contract, method, err)
	return receipt, err
}

// send submits the transaction built by submit and waits for it to be
// mined.
func (c *Chain) send(ctx context.Context, contract, method string, submit func() (*types.Transaction, error)) (*types.Receipt, error) {
	tx, err := submit()
	if err != nil {
		return nil, mapError(contract, method, err)
	}
	c.logger.Debug("transaction sent", "contract", contract, "method", method, "tx_hash", tx.Hash().Hex())

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmationTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s.%s transaction %s: %w", contract, method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, contracts.Revert(contract, method, fmt.Sprintf("transaction %s failed", tx.Hash().Hex()))
	}
	c.logger.Info("transaction confirmed",
		"contract", contract,
		"method", method,
		"tx_hash", tx.Hash().Hex(),
		"block", receipt.BlockNumber.Uint64(),
		"gas_used", receipt.GasUsed,
	)
	return receipt, nil
}

func (c *Chain) countTransaction(contract, method string, err error) {
	status := metrics.TxStatusSuccess
	switch {
	case errors.Is(err, contracts.ErrReverted):
		status = metrics.TxStatusReverted
	case err != nil:
		status = metrics.TxStatusError
	}
	c.metrics.Transactions(contract, method, status).Inc()
}

// mapError turns node-reported reverts into *contracts.RevertError.
func mapError(contract, method string, err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "revert") {
		return fmt.Errorf("%s.%s: %w", contract, method, err)
	}
	return contracts.Revert(contract, method, revertReason(err))
}

// revertReason extracts the Error(string) reason from the error data if
// the node supplied it, falling back to the message text.
func revertReason(err error) string {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(s); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	for _, marker := range []string{"execution reverted", "revert"} {
		if i := strings.Index(msg, marker); i >= 0 {
			return strings.TrimLeft(msg[i+len(marker):], ": ")
		}
	}
	return msg
}
