// Package memory implements an in-process round store, used by the
// development network and in tests.
package memory

import (
	"context"
	"sync"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/vrflottery/lottery/storage"
)

const moduleName = "inmemory"

type roundKey struct {
	txHash   ethCommon.Hash
	logIndex uint
}

type lotteryRounds struct {
	rounds    []*storage.Round
	seen      map[roundKey]struct{}
	processed uint64
	hasBlock  bool
}

// Store is a storage.RoundStore kept in memory. It is safe for concurrent
// use.
type Store struct {
	mu        sync.RWMutex
	lotteries map[ethCommon.Address]*lotteryRounds
}

var _ storage.RoundStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{lotteries: make(map[ethCommon.Address]*lotteryRounds)}
}

// InsertRounds implements storage.RoundStore.
func (s *Store) InsertRounds(ctx context.Context, lottery ethCommon.Address, rounds []*storage.Round, lastBlock uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lr := s.lotteries[lottery]
	if lr == nil {
		lr = &lotteryRounds{seen: make(map[roundKey]struct{})}
		s.lotteries[lottery] = lr
	}
	for _, r := range rounds {
		key := roundKey{r.TxHash, r.LogIndex}
		if _, ok := lr.seen[key]; ok {
			continue
		}
		lr.seen[key] = struct{}{}
		stored := *r
		stored.Lottery = lottery
		stored.Round = uint64(len(lr.rounds)) + 1
		stored.FinishedAt = r.FinishedAt.UTC()
		lr.rounds = append(lr.rounds, &stored)
	}
	if !lr.hasBlock || lastBlock > lr.processed {
		lr.processed = lastBlock
		lr.hasBlock = true
	}
	return nil
}

// ListRounds implements storage.RoundStore.
func (s *Store) ListRounds(ctx context.Context, lottery ethCommon.Address, limit, offset uint64) ([]*storage.Round, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*storage.Round{}
	lr := s.lotteries[lottery]
	if lr == nil {
		return out, nil
	}
	n := uint64(len(lr.rounds))
	for i := offset; i < n && uint64(len(out)) < limit; i++ {
		r := *lr.rounds[n-1-i]
		out = append(out, &r)
	}
	return out, nil
}

// LastProcessedBlock implements storage.RoundStore.
func (s *Store) LastProcessedBlock(ctx context.Context, lottery ethCommon.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	lr := s.lotteries[lottery]
	if lr == nil || !lr.hasBlock {
		return 0, storage.ErrNotFound
	}
	return lr.processed, nil
}

// Name implements storage.RoundStore.
func (s *Store) Name() string {
	return moduleName
}

// Close implements storage.RoundStore.
func (s *Store) Close() {}
