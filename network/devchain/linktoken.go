package devchain

import (
	"context"
	"maps"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vrflottery/lottery/contracts"
)

// LinkTotalSupply is minted to the deployer of LinkToken.
var LinkTotalSupply = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

// tokenReceiver is an ERC-677 transferAndCall recipient.
type tokenReceiver interface {
	onTokenTransfer(tx *txContext, sender ethCommon.Address, amount *big.Int, data []byte) error
}

type linkToken struct {
	chain    *Chain
	address  ethCommon.Address
	balances map[ethCommon.Address]*big.Int
}

var _ contracts.LinkToken = (*linkToken)(nil)

func (c *Chain) DeployLinkToken(ctx context.Context, opts contracts.TxOpts) (contracts.LinkToken, error) {
	return deploy(ctx, c, opts, contracts.NameLinkToken, func(tx *txContext) (*linkToken, error) {
		t := &linkToken{
			chain:   c,
			address: tx.self,
			balances: map[ethCommon.Address]*big.Int{
				tx.sender: new(big.Int).Set(LinkTotalSupply),
			},
		}
		if err := tx.emit(contracts.LinkTokenABI, contracts.EventTransfer, ethCommon.Address{}, tx.sender, LinkTotalSupply); err != nil {
			return nil, err
		}
		return t, nil
	})
}

func (t *linkToken) Address() ethCommon.Address {
	return t.address
}

func (t *linkToken) snapshot() func() {
	balances := maps.Clone(t.balances)
	return func() {
		t.balances = balances
	}
}

func (t *linkToken) balanceOf(owner ethCommon.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return b
	}
	return new(big.Int)
}

func (t *linkToken) transfer(tx *txContext, to ethCommon.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return contracts.Revert(contracts.NameLinkToken, "transfer", "negative amount")
	}
	from := tx.sender
	balance := t.balanceOf(from)
	if balance.Cmp(amount) < 0 {
		return contracts.Revert(contracts.NameLinkToken, "transfer", "transfer amount exceeds balance")
	}
	t.balances[from] = new(big.Int).Sub(balance, amount)
	t.balances[to] = new(big.Int).Add(t.balanceOf(to), amount)
	return tx.emit(contracts.LinkTokenABI, contracts.EventTransfer, from, to, amount)
}

// transferAndCall transfers and then notifies the recipient if it is a
// contract accepting tokens.
func (t *linkToken) transferAndCall(tx *txContext, to ethCommon.Address, amount *big.Int, data []byte) error {
	if err := t.transfer(tx, to, amount); err != nil {
		return err
	}
	receiver, ok := t.chain.contracts[to].(tokenReceiver)
	if !ok {
		return nil
	}
	return receiver.onTokenTransfer(tx.call(to), tx.sender, amount, data)
}

func (t *linkToken) BalanceOf(ctx context.Context, owner ethCommon.Address) (*big.Int, error) {
	return view(ctx, t.chain, func() (*big.Int, error) {
		return new(big.Int).Set(t.balanceOf(owner)), nil
	})
}

func (t *linkToken) Transfer(ctx context.Context, opts contracts.TxOpts, to ethCommon.Address, amount *big.Int) (*types.Receipt, error) {
	if err := contracts.CheckInts(contracts.NameLinkToken, "transfer", []string{"amount"}, amount); err != nil {
		return nil, err
	}
	return t.chain.transact(ctx, opts, call{
		to:       t.address,
		contract: contracts.NameLinkToken,
		method:   "transfer",
		fn: func(tx *txContext) error {
			return t.transfer(tx, to, amount)
		},
	})
}
