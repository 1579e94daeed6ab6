package postgres

import (
	"context"
	"errors"
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/vrflottery/lottery/storage"
)

// InsertRounds implements the storage.RoundStore interface for Client.
func (c *Client) InsertRounds(ctx context.Context, lottery ethCommon.Address, rounds []*storage.Round, lastBlock uint64) (err error) {
	timer := c.metrics.Timer("insert_rounds")
	defer timer.ObserveDuration()
	defer func() { c.metrics.Observe("insert_rounds", err) }()

	batch := &storage.QueryBatch{}
	for _, r := range rounds {
		batch.Queue(insertRound,
			lottery.Hex(),
			r.Block,
			r.TxHash.Hex(),
			r.LogIndex,
			r.Winner.Hex(),
			r.Randomness,
			r.Prize,
			r.FinishedAt.UTC(),
		)
	}
	batch.Queue(upsertProcessedBlock, lottery.Hex(), lastBlock)

	if err = c.SendBatch(ctx, batch); err != nil {
		return fmt.Errorf("inserting rounds: %w", err)
	}
	c.metrics.Processed(lottery, lastBlock)
	return nil
}

// ListRounds implements the storage.RoundStore interface for Client.
func (c *Client) ListRounds(ctx context.Context, lottery ethCommon.Address, limit, offset uint64) (_ []*storage.Round, err error) {
	timer := c.metrics.Timer("list_rounds")
	defer timer.ObserveDuration()
	defer func() { c.metrics.Observe("list_rounds", err) }()

	rows, err := c.Query(ctx, selectRounds, lottery.Hex(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing rounds: %w", err)
	}
	defer rows.Close()

	rounds := []*storage.Round{}
	for rows.Next() {
		var (
			r                        storage.Round
			lotteryAddr, txHash, win string
		)
		if err = rows.Scan(
			&lotteryAddr,
			&r.Round,
			&r.Block,
			&txHash,
			&r.LogIndex,
			&win,
			&r.Randomness,
			&r.Prize,
			&r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning round: %w", err)
		}
		r.Lottery = ethCommon.HexToAddress(lotteryAddr)
		r.TxHash = ethCommon.HexToHash(txHash)
		r.Winner = ethCommon.HexToAddress(win)
		r.FinishedAt = r.FinishedAt.UTC()
		rounds = append(rounds, &r)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return rounds, nil
}

// LastProcessedBlock implements the storage.RoundStore interface for Client.
func (c *Client) LastProcessedBlock(ctx context.Context, lottery ethCommon.Address) (height uint64, err error) {
	defer func() {
		if !errors.Is(err, storage.ErrNotFound) {
			c.metrics.Observe("last_processed_block", err)
		}
	}()

	err = c.QueryRow(ctx, selectProcessedBlock, lottery.Hex()).Scan(&height)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, storage.ErrNotFound
	case err != nil:
		return 0, fmt.Errorf("reading last processed block: %w", err)
	}
	return height, nil
}
