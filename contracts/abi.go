// Package contracts holds the ABIs of the lottery and its oracle
// dependencies, the interfaces every network backend implements for them,
// and helpers for their events.
package contracts

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
)

// Contract names as they appear in build artifacts and deployment maps.
const (
	NameLottery            = "Lottery"
	NameLinkToken          = "LinkToken"
	NameMockV3Aggregator   = "MockV3Aggregator"
	NameVRFCoordinatorMock = "VRFCoordinatorMock"
)

// Artifact is a brownie-style build artifact. Only the fields used here
// are decoded.
type Artifact struct {
	ContractName string   `json:"contractName"`
	ABI          *abi.ABI `json:"abi"`
	Bytecode     string   `json:"bytecode"`
}

// BytecodeBytes decodes the creation bytecode. Artifacts written with and
// without the 0x prefix are both accepted.
func (a *Artifact) BytecodeBytes() ([]byte, error) {
	code := ethCommon.FromHex(a.Bytecode)
	if len(code) == 0 {
		return nil, fmt.Errorf("artifact %s has no bytecode", a.ContractName)
	}
	return code, nil
}

// UnmarshalArtifact decodes a build artifact.
func UnmarshalArtifact(artifactJSON []byte) (*Artifact, error) {
	var artifact Artifact
	if err := json.Unmarshal(artifactJSON, &artifact); err != nil {
		return nil, err
	}
	if artifact.ABI == nil {
		return nil, fmt.Errorf("artifact %s has no abi", artifact.ContractName)
	}
	return &artifact, nil
}

func MustUnmarshalABI(artifactJSON []byte) *abi.ABI {
	artifact, err := UnmarshalArtifact(artifactJSON)
	if err != nil {
		panic(err)
	}
	return artifact.ABI
}

//go:embed artifacts/Lottery.json
var artifactLotteryJSON []byte
var LotteryABI = MustUnmarshalABI(artifactLotteryJSON)

//go:embed artifacts/LinkToken.json
var artifactLinkTokenJSON []byte
var LinkTokenABI = MustUnmarshalABI(artifactLinkTokenJSON)

//go:embed artifacts/MockV3Aggregator.json
var artifactMockV3AggregatorJSON []byte
var MockV3AggregatorABI = MustUnmarshalABI(artifactMockV3AggregatorJSON)

//go:embed artifacts/VRFCoordinatorMock.json
var artifactVRFCoordinatorMockJSON []byte
var VRFCoordinatorMockABI = MustUnmarshalABI(artifactVRFCoordinatorMockJSON)

// ABIByName returns the embedded ABI of a known contract.
func ABIByName(name string) (*abi.ABI, error) {
	switch name {
	case NameLottery:
		return LotteryABI, nil
	case NameLinkToken:
		return LinkTokenABI, nil
	case NameMockV3Aggregator:
		return MockV3AggregatorABI, nil
	case NameVRFCoordinatorMock:
		return VRFCoordinatorMockABI, nil
	default:
		return nil, fmt.Errorf("unknown contract '%s'", name)
	}
}
