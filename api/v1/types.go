package v1

import (
	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/storage"
)

// Status is the response of GET /v1/.
type Status struct {
	Network     string `json:"network"`
	ChainID     string `json:"chain_id"`
	LatestBlock uint64 `json:"latest_block"`
	// Lottery is empty when no lottery is deployed.
	Lottery string `json:"lottery,omitempty"`
}

// Lottery is what the dapp shows about the current round.
type Lottery struct {
	Address string              `json:"address"`
	State   common.LotteryState `json:"state"`

	// Prize pool and entry fee in ether, with 4 decimals.
	PrizePool    string        `json:"prize_pool"`
	EntryFee     string        `json:"entry_fee"`
	EntryFeeWei  common.BigInt `json:"entry_fee_wei"`
	EntryCounter common.BigInt `json:"entry_counter"`

	Randomness        common.BigInt `json:"randomness"`
	RandomnessShort   string        `json:"randomness_short"`
	LatestWinner      string        `json:"latest_winner"`
	LatestWinnerShort string        `json:"latest_winner_short"`

	Deadline  uint64 `json:"deadline"`
	Countdown string `json:"countdown"`
	// Timestamp of the latest block, against which the deadline is checked.
	Now uint64 `json:"now"`

	CanStart bool `json:"can_start"`
	CanEnter bool `json:"can_enter"`
	CanEnd   bool `json:"can_end"`
}

// Participant is the per-account view.
type Participant struct {
	Address    string        `json:"address"`
	Entries    common.BigInt `json:"entries"`
	Balance    string        `json:"balance"`
	BalanceWei common.BigInt `json:"balance_wei"`
}

// RoundList is a page of recorded rounds, newest first.
type RoundList struct {
	Rounds []*storage.Round `json:"rounds"`
}
