package postgres_test

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver for golang_migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"       // support file scheme for golang_migrate
	"github.com/stretchr/testify/require"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/storage"
	"github.com/vrflottery/lottery/storage/postgres"
	"github.com/vrflottery/lottery/storage/postgres/testutil"
)

func TestInvalidConnect(t *testing.T) {
	logger := log.NewDefaultLogger("postgres-test")

	_, err := postgres.NewClient(context.Background(), "an invalid connstring", logger)
	require.NotNil(t, err)
}

func TestQuery(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()

	rows, err := client.Query(context.Background(), `
		SELECT * FROM ( VALUES (0),(1),(2) ) AS q;
	`)
	require.Nil(t, err)
	defer rows.Close()

	i := 0
	for rows.Next() {
		var result int
		err = rows.Scan(&result)
		require.Nil(t, err)
		require.Equal(t, i, result)

		i++
	}
	require.Equal(t, 3, i)
}

func TestInvalidQuery(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()

	_, err := client.Query(context.Background(), `
		an invalid query
	`)
	require.NotNil(t, err)
}

func TestQueryRow(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()

	var result int
	err := client.QueryRow(context.Background(), `
		SELECT 1+1;
	`).Scan(&result)
	require.Nil(t, err)
	require.Equal(t, 2, result)
}

func TestSendBatch(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()
	ctx := context.Background()
	require.NoError(t, client.Wipe(ctx))

	create := &storage.QueryBatch{}
	create.Queue(`
		CREATE TABLE entrants (
			eid     INTEGER PRIMARY KEY,
			address TEXT
		);
	`)
	require.Nil(t, client.SendBatch(ctx, create))

	queueEntrants := func(b *storage.QueryBatch, addrs []string, idOffset int) {
		rows := make([]string, 0, len(addrs))
		for i, addr := range addrs {
			rows = append(rows, fmt.Sprintf("(%d, '%s')", i+idOffset, addr))
		}
		b.Queue(fmt.Sprintf(`
			INSERT INTO entrants (eid, address)
			VALUES %s;
		`, strings.Join(rows, ", ")))
	}

	first := []string{"0xaa", "0xbb", "0xcc"}
	second := []string{"0xdd", "0xee"}
	insert := &storage.QueryBatch{}
	queueEntrants(insert, first, 0)
	more := &storage.QueryBatch{}
	queueEntrants(more, second, len(first))
	insert.Extend(more)
	require.Equal(t, 2, insert.Len())
	require.Nil(t, client.SendBatch(ctx, insert))

	var wg sync.WaitGroup
	for i, addr := range append(first, second...) {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()

			var result string
			err := client.QueryRow(ctx, `
				SELECT address FROM entrants WHERE eid = $1;
			`, i).Scan(&result)
			require.Nil(t, err)
			require.Equal(t, addr, result)
		}(i, addr)
	}
	wg.Wait()
}

func TestInvalidSendBatch(t *testing.T) {
	client := testutil.NewTestClient(t)
	defer client.Close()

	invalid := &storage.QueryBatch{}
	invalid.Queue(`
		an invalid query
	`)
	require.NotNil(t, client.SendBatch(context.Background(), invalid))
}

func migrated(t *testing.T) *postgres.Client {
	client := testutil.NewTestClient(t)
	require.NoError(t, client.Wipe(context.Background()))

	m, err := migrate.New("file://../migrations", testutil.SkipUnlessDatabase(t))
	require.NoError(t, err)
	require.NoError(t, m.Up())
	srcErr, dbErr := m.Close()
	require.NoError(t, srcErr)
	require.NoError(t, dbErr)
	return client
}

func TestRounds(t *testing.T) {
	client := migrated(t)
	defer client.Close()
	ctx := context.Background()

	lottery := ethCommon.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	other := ethCommon.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	_, err := client.LastProcessedBlock(ctx, lottery)
	require.ErrorIs(t, err, storage.ErrNotFound)

	finished := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	prize, ok := new(big.Int).SetString("11250000000000000", 10)
	require.True(t, ok)
	mk := func(block uint64, tx byte) *storage.Round {
		return &storage.Round{
			Block:      block,
			TxHash:     ethCommon.BytesToHash([]byte{tx}),
			Winner:     ethCommon.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
			Randomness: common.NewBigInt(778),
			Prize:      common.BigIntFromInt(prize),
			FinishedAt: finished,
		}
	}

	require.NoError(t, client.InsertRounds(ctx, lottery, []*storage.Round{mk(10, 1), mk(12, 2)}, 15))
	// Replaying a range stores nothing twice.
	require.NoError(t, client.InsertRounds(ctx, lottery, []*storage.Round{mk(12, 2), mk(20, 3)}, 25))
	require.NoError(t, client.InsertRounds(ctx, other, []*storage.Round{mk(30, 4)}, 30))

	height, err := client.LastProcessedBlock(ctx, lottery)
	require.NoError(t, err)
	require.Equal(t, uint64(25), height)

	rounds, err := client.ListRounds(ctx, lottery, 10, 0)
	require.NoError(t, err)
	require.Len(t, rounds, 3)
	require.Equal(t, uint64(3), rounds[0].Round)
	require.Equal(t, uint64(20), rounds[0].Block)
	require.Equal(t, uint64(1), rounds[2].Round)
	require.Equal(t, lottery, rounds[2].Lottery)
	require.Equal(t, "11250000000000000", rounds[2].Prize.String())
	require.Equal(t, "778", rounds[2].Randomness.String())
	require.True(t, finished.Equal(rounds[2].FinishedAt))

	page, err := client.ListRounds(ctx, lottery, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Round)

	otherRounds, err := client.ListRounds(ctx, other, 10, 0)
	require.NoError(t, err)
	require.Len(t, otherRounds, 1)
	require.Equal(t, uint64(1), otherRounds[0].Round)
}
