package common

import (
	"fmt"
	"strings"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// LotteryState mirrors the on-chain LOTTERY_STATE enum.
type LotteryState uint8

const (
	LotteryClosed LotteryState = iota
	LotteryOpened
	LotteryProcessing
)

var lotteryStateNames = []string{"Closed", "Opened", "Processing"}

// String returns the name the dapp shows for the state.
func (s LotteryState) String() string {
	if int(s) < len(lotteryStateNames) {
		return lotteryStateNames[s]
	}
	return fmt.Sprintf("LotteryState(%d)", uint8(s))
}

// Valid reports whether s is a known state.
func (s LotteryState) Valid() bool {
	return int(s) < len(lotteryStateNames)
}

func (s LotteryState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid lottery state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *LotteryState) UnmarshalText(text []byte) error {
	for i, name := range lotteryStateNames {
		if strings.EqualFold(name, string(text)) {
			*s = LotteryState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown lottery state '%s'", text)
}

// SliceAddress shortens an address for display, e.g. 0x5B3...ddC4.
func SliceAddress(addr ethCommon.Address) string {
	hex := addr.Hex()
	return hex[:5] + "..." + hex[38:42]
}

// SliceLongValue shortens long hex or decimal values for display, keeping
// the first five and the last four characters.
func SliceLongValue(v string) string {
	if len(v) <= 12 {
		return v
	}
	return v[:5] + "..." + v[len(v)-4:]
}
