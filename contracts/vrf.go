package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	typeBytes32 = mustNewType("bytes32")
	typeUint256 = mustNewType("uint256")
	typeAddress = mustNewType("address")

	vrfSeedArgs    = abi.Arguments{{Type: typeBytes32}, {Type: typeUint256}, {Type: typeAddress}, {Type: typeUint256}}
	vrfRequestArgs = abi.Arguments{{Type: typeBytes32}, {Type: typeUint256}}
)

func mustNewType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// MakeVRFInputSeed derives the seed the oracle proves against, as
// VRFRequestIDBase.makeVRFInputSeed does.
func MakeVRFInputSeed(keyHash ethCommon.Hash, userSeed *big.Int, requester ethCommon.Address, nonce *big.Int) *big.Int {
	packed, err := vrfSeedArgs.Pack([32]byte(keyHash), userSeed, requester, nonce)
	if err != nil {
		// All argument types are fixed above.
		panic(err)
	}
	return new(big.Int).SetBytes(crypto.Keccak256(packed))
}

// MakeRequestID derives the request id from the key hash and the input
// seed: keccak256(abi.encodePacked(keyHash, vRFSeed)).
func MakeRequestID(keyHash ethCommon.Hash, vrfSeed *big.Int) [32]byte {
	return [32]byte(crypto.Keccak256Hash(keyHash[:], ethCommon.LeftPadBytes(vrfSeed.Bytes(), 32)))
}

// PackRandomnessRequest encodes the transferAndCall payload a consumer
// sends to the coordinator.
func PackRandomnessRequest(keyHash ethCommon.Hash, userSeed *big.Int) ([]byte, error) {
	return vrfRequestArgs.Pack([32]byte(keyHash), userSeed)
}

// UnpackRandomnessRequest decodes a transferAndCall payload.
func UnpackRandomnessRequest(data []byte) (ethCommon.Hash, *big.Int, error) {
	values, err := vrfRequestArgs.Unpack(data)
	if err != nil {
		return ethCommon.Hash{}, nil, fmt.Errorf("unpacking randomness request: %w", err)
	}
	keyHash, ok := values[0].([32]byte)
	if !ok {
		return ethCommon.Hash{}, nil, fmt.Errorf("unexpected key hash type %T", values[0])
	}
	seed, ok := values[1].(*big.Int)
	if !ok {
		return ethCommon.Hash{}, nil, fmt.Errorf("unexpected seed type %T", values[1])
	}
	return keyHash, seed, nil
}
