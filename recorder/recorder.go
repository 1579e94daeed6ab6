// Package recorder keeps the history of finished lottery rounds.
//
// The recorder scans the lottery's LotteryFinished logs range by range and
// commits each range to the round store together with the last block it
// covered, so that a restarted recorder resumes where it left off.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/network"
	"github.com/vrflottery/lottery/storage"
)

const (
	moduleName = "recorder"

	// DefaultBatchSize is the number of blocks scanned per step.
	DefaultBatchSize = 1000
	// DefaultPollInterval is the polling interval once caught up.
	DefaultPollInterval = 5 * time.Second

	// Timeout of a single step.
	stepTimeout = time.Minute
)

// Recorder stores the finished rounds of one lottery.
type Recorder struct {
	net       network.Network
	lottery   ethCommon.Address
	store     storage.RoundStore
	fromBlock uint64
	batchSize uint64
	interval  time.Duration
	logger    *log.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFromBlock sets the first block scanned when nothing was recorded yet,
// typically the lottery's deployment block.
func WithFromBlock(height uint64) Option {
	return func(r *Recorder) { r.fromBlock = height }
}

// WithBatchSize sets the number of blocks scanned per step.
func WithBatchSize(n uint64) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithPollInterval sets the polling interval once caught up.
func WithPollInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.interval = d
		}
	}
}

// New creates a recorder of lottery's rounds.
func New(net network.Network, lottery ethCommon.Address, store storage.RoundStore, logger *log.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		net:       net,
		lottery:   lottery,
		store:     store,
		batchSize: DefaultBatchSize,
		interval:  DefaultPollInterval,
		logger:    logger.WithModule(moduleName).With("lottery", lottery.Hex()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FromBlock is the first block scanned when nothing was recorded yet.
func (r *Recorder) FromBlock() uint64 {
	return r.fromBlock
}

// Name returns the name of the recorder.
func (r *Recorder) Name() string {
	return moduleName
}

// Start polls for finished rounds until ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	b, err := newBackoff(r.interval, 12*r.interval)
	if err != nil {
		r.logger.Error("error configuring recorder backoff policy", "err", err)
		return
	}

	timeout := time.Duration(0)
	for {
		select {
		case <-time.After(timeout):
		case <-ctx.Done():
			r.logger.Warn("shutting down recorder", "reason", ctx.Err())
			return
		}

		stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
		caughtUp, err := r.Step(stepCtx)
		cancel()
		switch {
		case err != nil:
			r.logger.Error("failed to record rounds", "err", err)
			b.Failure()
			timeout = b.Timeout()
		case caughtUp:
			b.Success()
			timeout = b.Timeout()
		default:
			// More blocks are pending, keep going.
			b.Success()
			timeout = 0
		}
	}
}

// Step scans the next block range and stores the rounds finished in it. It
// reports whether the recorder has caught up with the chain head.
func (r *Recorder) Step(ctx context.Context) (bool, error) {
	head, err := r.net.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("querying chain head: %w", err)
	}

	from := r.fromBlock
	last, err := r.store.LastProcessedBlock(ctx, r.lottery)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("querying last processed block: %w", err)
	default:
		from = last + 1
	}
	if from > head {
		return true, nil
	}
	to := head
	if to-from >= r.batchSize {
		to = from + r.batchSize - 1
	}

	rounds, err := r.fetchRounds(ctx, from, to)
	if err != nil {
		return false, err
	}
	if err = r.store.InsertRounds(ctx, r.lottery, rounds, to); err != nil {
		return false, err
	}
	if len(rounds) > 0 {
		r.logger.Info("recorded rounds", "from", from, "to", to, "rounds", len(rounds))
	} else {
		r.logger.Debug("no rounds finished", "from", from, "to", to)
	}
	return to == head, nil
}

func (r *Recorder) fetchRounds(ctx context.Context, from, to uint64) ([]*storage.Round, error) {
	logs, err := r.net.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []ethCommon.Address{r.lottery},
		Topics:    [][]ethCommon.Hash{{contracts.LotteryABI.Events[contracts.EventLotteryFinished].ID}},
	})
	if err != nil {
		return nil, fmt.Errorf("filtering logs %d-%d: %w", from, to, err)
	}
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	timestamps := make(map[uint64]uint64)
	rounds := make([]*storage.Round, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		var ev contracts.LotteryFinished
		if err = contracts.UnpackLog(contracts.LotteryABI, &ev, contracts.EventLotteryFinished, l); err != nil {
			r.logger.Warn("skipping malformed log", "tx_hash", l.TxHash.Hex(), "err", err)
			continue
		}
		ts, ok := timestamps[l.BlockNumber]
		if !ok {
			if ts, err = r.net.BlockTimestamp(ctx, l.BlockNumber); err != nil {
				return nil, fmt.Errorf("querying block %d: %w", l.BlockNumber, err)
			}
			timestamps[l.BlockNumber] = ts
		}
		rounds = append(rounds, &storage.Round{
			Lottery:    r.lottery,
			Block:      l.BlockNumber,
			TxHash:     l.TxHash,
			LogIndex:   l.Index,
			Winner:     ev.Winner,
			Randomness: common.BigIntFromInt(ev.Randomness),
			Prize:      common.BigIntFromInt(ev.Prize),
			FinishedAt: time.Unix(int64(ts), 0).UTC(),
		})
	}
	return rounds, nil
}
