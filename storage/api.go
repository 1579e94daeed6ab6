// Package storage defines storage interfaces.
package storage

import (
	"context"
	"errors"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/vrflottery/lottery/common"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// QueryResults represents the results from a read query.
type QueryResults = pgx.Rows

// QueryResult represents the result from a read query.
type QueryResult = pgx.Row

// BatchItem is a single query of a QueryBatch.
type BatchItem struct {
	Cmd  string
	Args []interface{}
}

// QueryBatch represents a batch of queries to be executed atomically.
// Unlike pgx.Batch, it remembers its queries so that failures can be
// reported against the offending statement.
type QueryBatch struct {
	items []*BatchItem
}

// Queue adds query to the batch.
func (b *QueryBatch) Queue(cmd string, args ...interface{}) {
	b.items = append(b.items, &BatchItem{Cmd: cmd, Args: args})
}

// Extend merges another batch into the current batch.
func (b *QueryBatch) Extend(qb *QueryBatch) {
	if qb != b {
		b.items = append(b.items, qb.items...)
	}
}

// Len returns the number of queries in the batch.
func (b *QueryBatch) Len() int {
	return len(b.items)
}

// Queries returns the queries in the batch.
func (b *QueryBatch) Queries() []*BatchItem {
	return b.items
}

// AsPgxBatch converts a QueryBatch to a pgx.Batch.
func (b *QueryBatch) AsPgxBatch() pgx.Batch {
	pgxBatch := pgx.Batch{}
	for _, item := range b.items {
		pgxBatch.Queue(item.Cmd, item.Args...)
	}
	return pgxBatch
}

// Round is a finished lottery round, as reported by a LotteryFinished
// event.
type Round struct {
	// Lottery is the address of the lottery contract.
	Lottery ethCommon.Address `json:"lottery"`
	// Round is the 1-based sequence number of the round within its lottery.
	// It is assigned by the store.
	Round      uint64            `json:"round"`
	Block      uint64            `json:"block"`
	TxHash     ethCommon.Hash    `json:"tx_hash"`
	LogIndex   uint              `json:"log_index"`
	Winner     ethCommon.Address `json:"winner"`
	Randomness common.BigInt     `json:"randomness"`
	// Prize is the winner's share, in wei.
	Prize      common.BigInt `json:"prize"`
	FinishedAt time.Time     `json:"finished_at"`
}

// RoundStore persists finished rounds and the recorder's progress.
type RoundStore interface {
	// InsertRounds atomically stores rounds (in chain order) and marks
	// every block up to and including lastBlock as processed for lottery.
	// Rounds that were already stored are skipped.
	InsertRounds(ctx context.Context, lottery ethCommon.Address, rounds []*Round, lastBlock uint64) error

	// ListRounds returns the rounds of lottery, newest first.
	ListRounds(ctx context.Context, lottery ethCommon.Address, limit, offset uint64) ([]*Round, error)

	// LastProcessedBlock returns the last block processed for lottery, or
	// ErrNotFound if nothing was processed yet.
	LastProcessedBlock(ctx context.Context, lottery ethCommon.Address) (uint64, error)

	// Name returns the name of the store.
	Name() string

	// Close shuts down the store.
	Close()
}
