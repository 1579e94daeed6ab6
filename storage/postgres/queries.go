package postgres

const (
	// The round number is derived inside the batch transaction so that it
	// stays gapless per lottery. Duplicate events are skipped.
	insertRound = `
		INSERT INTO rounds (lottery, round, block, tx_hash, log_index, winner, randomness, prize, finished_at)
			SELECT $1, COALESCE(MAX(round), 0) + 1, $2, $3, $4, $5, $6, $7, $8
			FROM rounds WHERE lottery = $1
		ON CONFLICT (lottery, tx_hash, log_index) DO NOTHING`

	upsertProcessedBlock = `
		INSERT INTO processed_blocks (lottery, height)
			VALUES ($1, $2)
		ON CONFLICT (lottery) DO UPDATE
			SET height = GREATEST(processed_blocks.height, excluded.height)`

	selectRounds = `
		SELECT lottery, round, block, tx_hash, log_index, winner, randomness, prize, finished_at
			FROM rounds
			WHERE lottery = $1
			ORDER BY round DESC
			LIMIT $2 OFFSET $3`

	selectProcessedBlock = `
		SELECT height FROM processed_blocks WHERE lottery = $1`
)
