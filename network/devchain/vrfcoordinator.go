package devchain

import (
	"context"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vrflottery/lottery/contracts"
)

// randomnessConsumer is a VRFConsumerBase.
type randomnessConsumer interface {
	rawFulfillRandomness(tx *txContext, requestID [32]byte, randomness *big.Int) error
}

// vrfCoordinator is VRFCoordinatorMock. It holds no storage of its own.
type vrfCoordinator struct {
	chain   *Chain
	address ethCommon.Address
	link    ethCommon.Address
}

var _ contracts.VRFCoordinator = (*vrfCoordinator)(nil)

func (c *Chain) DeployVRFCoordinator(ctx context.Context, opts contracts.TxOpts, link ethCommon.Address) (contracts.VRFCoordinator, error) {
	return deploy(ctx, c, opts, contracts.NameVRFCoordinatorMock, func(tx *txContext) (*vrfCoordinator, error) {
		return &vrfCoordinator{
			chain:   c,
			address: tx.self,
			link:    link,
		}, nil
	})
}

func (v *vrfCoordinator) Address() ethCommon.Address {
	return v.address
}

func (v *vrfCoordinator) snapshot() func() {
	return func() {}
}

func (v *vrfCoordinator) onTokenTransfer(tx *txContext, sender ethCommon.Address, amount *big.Int, data []byte) error {
	if tx.sender != v.link {
		return contracts.Revert(contracts.NameVRFCoordinatorMock, "onTokenTransfer", "Must use LINK token")
	}
	keyHash, seed, err := contracts.UnpackRandomnessRequest(data)
	if err != nil {
		return contracts.Revert(contracts.NameVRFCoordinatorMock, "onTokenTransfer", err.Error())
	}
	return tx.emit(contracts.VRFCoordinatorMockABI, contracts.EventRandomnessRequest, sender, keyHash, seed)
}

// callBackWithRandomness delivers randomness to the consumer. The outcome of
// the consumer call is not propagated.
func (v *vrfCoordinator) callBackWithRandomness(tx *txContext, requestID [32]byte, randomness *big.Int, consumer ethCommon.Address) error {
	target, ok := v.chain.contracts[consumer].(randomnessConsumer)
	if !ok {
		return nil
	}
	err := tx.try(func() error {
		return target.rawFulfillRandomness(tx.call(consumer), requestID, randomness)
	})
	if err != nil {
		v.chain.logger.Warn("consumer rejected randomness",
			"consumer", consumer.Hex(),
			"request_id", ethCommon.Hash(requestID).Hex(),
			"err", err,
		)
	}
	return nil
}

func (v *vrfCoordinator) CallBackWithRandomness(ctx context.Context, opts contracts.TxOpts, requestID [32]byte, randomness *big.Int, consumer ethCommon.Address) (*types.Receipt, error) {
	return v.chain.transact(ctx, opts, call{
		to:       v.address,
		contract: contracts.NameVRFCoordinatorMock,
		method:   "callBackWithRandomness",
		fn: func(tx *txContext) error {
			return v.callBackWithRandomness(tx, requestID, randomness, consumer)
		},
	})
}
