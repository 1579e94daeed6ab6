package devchain

import (
	"context"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vrflottery/lottery/contracts"
)

// priceFeed is MockV3Aggregator.
type priceFeed struct {
	chain    *Chain
	address  ethCommon.Address
	decimals uint8
	state    priceFeedState
}

type priceFeedState struct {
	round     *big.Int
	answer    *big.Int
	startedAt *big.Int
	updatedAt *big.Int
}

var _ contracts.PriceFeed = (*priceFeed)(nil)

func (c *Chain) DeployPriceFeed(ctx context.Context, opts contracts.TxOpts, decimals uint8, initialAnswer *big.Int) (contracts.PriceFeed, error) {
	if err := contracts.CheckInts(contracts.NameMockV3Aggregator, "constructor", []string{"initialAnswer"}, initialAnswer); err != nil {
		return nil, err
	}
	return deploy(ctx, c, opts, contracts.NameMockV3Aggregator, func(tx *txContext) (*priceFeed, error) {
		p := &priceFeed{
			chain:    c,
			address:  tx.self,
			decimals: decimals,
			state:    priceFeedState{round: new(big.Int)},
		}
		if err := p.updateAnswer(tx, initialAnswer); err != nil {
			return nil, err
		}
		return p, nil
	})
}

func (p *priceFeed) Address() ethCommon.Address {
	return p.address
}

func (p *priceFeed) snapshot() func() {
	state := p.state
	return func() {
		p.state = state
	}
}

func (p *priceFeed) updateAnswer(tx *txContext, answer *big.Int) error {
	now := tx.now()
	round := new(big.Int).Add(p.state.round, big.NewInt(1))
	p.state = priceFeedState{
		round:     round,
		answer:    new(big.Int).Set(answer),
		startedAt: now,
		updatedAt: now,
	}
	return tx.emit(contracts.MockV3AggregatorABI, contracts.EventAnswerUpdated, answer, round, now)
}

// latestRoundData must be called with the chain lock held.
func (p *priceFeed) latestRoundData() *contracts.RoundData {
	return &contracts.RoundData{
		RoundId:         new(big.Int).Set(p.state.round),
		Answer:          new(big.Int).Set(p.state.answer),
		StartedAt:       new(big.Int).Set(p.state.startedAt),
		UpdatedAt:       new(big.Int).Set(p.state.updatedAt),
		AnsweredInRound: new(big.Int).Set(p.state.round),
	}
}

func (p *priceFeed) Decimals(ctx context.Context) (uint8, error) {
	return p.decimals, ctx.Err()
}

func (p *priceFeed) LatestRoundData(ctx context.Context) (*contracts.RoundData, error) {
	return view(ctx, p.chain, func() (*contracts.RoundData, error) {
		return p.latestRoundData(), nil
	})
}

func (p *priceFeed) UpdateAnswer(ctx context.Context, opts contracts.TxOpts, answer *big.Int) (*types.Receipt, error) {
	if err := contracts.CheckInts(contracts.NameMockV3Aggregator, "updateAnswer", []string{"answer"}, answer); err != nil {
		return nil, err
	}
	return p.chain.transact(ctx, opts, call{
		to:       p.address,
		contract: contracts.NameMockV3Aggregator,
		method:   "updateAnswer",
		fn: func(tx *txContext) error {
			return p.updateAnswer(tx, answer)
		},
	})
}
