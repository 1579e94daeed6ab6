package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event names.
const (
	EventRequestedRandomness = "RequestedRandomness"
	EventLotteryStarted      = "LotteryStarted"
	EventLotteryEntered      = "LotteryEntered"
	EventLotteryFinished     = "LotteryFinished"
	EventTransfer            = "Transfer"
	EventRandomnessRequest   = "RandomnessRequest"
	EventAnswerUpdated       = "AnswerUpdated"
)

type RequestedRandomness struct {
	RequestId [32]byte
}

type LotteryStarted struct {
	Deadline *big.Int
}

type LotteryEntered struct {
	Participant ethCommon.Address
	Entries     *big.Int
}

type LotteryFinished struct {
	Winner     ethCommon.Address
	Randomness *big.Int
	Prize      *big.Int
}

type Transfer struct {
	From  ethCommon.Address
	To    ethCommon.Address
	Value *big.Int
}

type RandomnessRequest struct {
	Sender  ethCommon.Address
	KeyHash [32]byte
	Seed    *big.Int
}

type AnswerUpdated struct {
	Current   *big.Int
	RoundId   *big.Int
	UpdatedAt *big.Int
}

// UnpackLog decodes log into out, which must be a pointer to the struct
// matching event.
func UnpackLog(contractABI *abi.ABI, out interface{}, event string, log types.Log) error {
	ev, ok := contractABI.Events[event]
	if !ok {
		return fmt.Errorf("abi has no event %s", event)
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return fmt.Errorf("log is not a %s event", event)
	}
	if len(log.Data) > 0 {
		if err := contractABI.UnpackIntoInterface(out, event, log.Data); err != nil {
			return fmt.Errorf("unpacking %s data: %w", event, err)
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopics(out, indexed, log.Topics[1:]); err != nil {
		return fmt.Errorf("parsing %s topics: %w", event, err)
	}
	return nil
}

// PackLog encodes an event emitted by the contract at address. args follow
// the event's declaration order; indexed bytes32 values are passed as
// ethCommon.Hash.
func PackLog(contractABI *abi.ABI, address ethCommon.Address, event string, args ...interface{}) (*types.Log, error) {
	ev, ok := contractABI.Events[event]
	if !ok {
		return nil, fmt.Errorf("abi has no event %s", event)
	}
	if len(args) != len(ev.Inputs) {
		return nil, fmt.Errorf("event %s takes %d arguments, got %d", event, len(ev.Inputs), len(args))
	}
	var indexed [][]interface{}
	var nonIndexed []interface{}
	for i, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, []interface{}{args[i]})
		} else {
			nonIndexed = append(nonIndexed, args[i])
		}
	}
	data, err := ev.Inputs.NonIndexed().Pack(nonIndexed...)
	if err != nil {
		return nil, fmt.Errorf("packing %s data: %w", event, err)
	}
	topics := []ethCommon.Hash{ev.ID}
	if len(indexed) > 0 {
		rules, err := abi.MakeTopics(indexed...)
		if err != nil {
			return nil, fmt.Errorf("packing %s topics: %w", event, err)
		}
		for _, rule := range rules {
			topics = append(topics, rule[0])
		}
	}
	return &types.Log{
		Address: address,
		Topics:  topics,
		Data:    data,
	}, nil
}

// FindEvent decodes the first log in receipt that is event emitted by the
// contract at address.
func FindEvent(receipt *types.Receipt, contractABI *abi.ABI, address ethCommon.Address, event string, out interface{}) error {
	ev, ok := contractABI.Events[event]
	if !ok {
		return fmt.Errorf("abi has no event %s", event)
	}
	for _, log := range receipt.Logs {
		if log.Address != address || len(log.Topics) == 0 || log.Topics[0] != ev.ID {
			continue
		}
		return UnpackLog(contractABI, out, event, *log)
	}
	return fmt.Errorf("%s: %w", event, ErrEventNotFound)
}

// RequestIDFromReceipt extracts the randomness request id from an
// endLottery receipt.
func RequestIDFromReceipt(receipt *types.Receipt, lottery ethCommon.Address) ([32]byte, error) {
	var ev RequestedRandomness
	if err := FindEvent(receipt, LotteryABI, lottery, EventRequestedRandomness, &ev); err != nil {
		return [32]byte{}, err
	}
	return ev.RequestId, nil
}
