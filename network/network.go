// Package network defines the chain the tooling operates on: accounts,
// balances, time travel, logs, and deployment of the lottery contracts.
package network

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vrflottery/lottery/contracts"
)

var (
	// ErrTimeTravelUnsupported is returned by Sleep on non-local networks.
	ErrTimeTravelUnsupported = errors.New("time travel is only available on local networks")
	// ErrUnknownAccount is returned when a transaction is sent from an
	// address the network holds no key for.
	ErrUnknownAccount = errors.New("unknown sender account")
	// ErrNoContract is returned when attaching to an address that does not
	// hold the expected contract.
	ErrNoContract = errors.New("no such contract at address")
)

// Account is an address together with its signing key.
type Account struct {
	Address ethCommon.Address
	Key     *ecdsa.PrivateKey
}

// NewAccount wraps a private key.
func NewAccount(key *ecdsa.PrivateKey) Account {
	return Account{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
	}
}

// AccountFromHex parses a hex private key, with or without 0x prefix.
func AccountFromHex(hexKey string) (Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return Account{}, fmt.Errorf("parsing private key: %w", err)
	}
	return NewAccount(key), nil
}

// Network is a chain holding the lottery and its oracles.
type Network interface {
	// Name is the configured network name, e.g. "development".
	Name() string
	// IsLocal reports whether mocks and pre-funded accounts are used.
	IsLocal() bool
	ChainID(ctx context.Context) (*big.Int, error)
	// Accounts are the accounts the network can sign for. On remote
	// networks this is the configured wallet only.
	Accounts() []Account
	BalanceAt(ctx context.Context, addr ethCommon.Address) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	// BlockTimestamp is the unix time of the given block.
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	// Sleep moves the chain clock forward by d.
	Sleep(ctx context.Context, d time.Duration) error
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	DeployPriceFeed(ctx context.Context, opts contracts.TxOpts, decimals uint8, initialAnswer *big.Int) (contracts.PriceFeed, error)
	DeployLinkToken(ctx context.Context, opts contracts.TxOpts) (contracts.LinkToken, error)
	DeployVRFCoordinator(ctx context.Context, opts contracts.TxOpts, link ethCommon.Address) (contracts.VRFCoordinator, error)
	DeployLottery(ctx context.Context, opts contracts.TxOpts, params contracts.LotteryParams) (contracts.Lottery, error)

	PriceFeedAt(addr ethCommon.Address) (contracts.PriceFeed, error)
	LinkTokenAt(addr ethCommon.Address) (contracts.LinkToken, error)
	VRFCoordinatorAt(addr ethCommon.Address) (contracts.VRFCoordinator, error)
	LotteryAt(addr ethCommon.Address) (contracts.Lottery, error)

	// Close releases connections held by the network.
	Close()
}

// AccountAt returns the index-th account of net.
func AccountAt(net Network, index int) (Account, error) {
	accounts := net.Accounts()
	if index < 0 || index >= len(accounts) {
		return Account{}, fmt.Errorf("network %s has %d accounts, no account %d", net.Name(), len(accounts), index)
	}
	return accounts[index], nil
}
