package evmchain

import (
	"context"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/vrflottery/lottery/common"
	"github.com/vrflottery/lottery/contracts"
	"github.com/vrflottery/lottery/log"
	"github.com/vrflottery/lottery/network"
)

var contractAddr = ethCommon.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// fakeBackend answers eth_call from canned outputs. Methods it does not
// override panic through the nil embedded Backend.
type fakeBackend struct {
	Backend

	abi     *abi.ABI
	outputs map[string][]interface{}
	inputs  map[string][]interface{}
	callErr error
	header  *types.Header
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	if msg.To == nil || *msg.To != contractAddr {
		return nil, errors.New("unexpected call target")
	}
	method, err := f.abi.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.inputs[method.Name] = args
	return method.Outputs.Pack(f.outputs[method.Name]...)
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if f.header == nil {
		return nil, ethereum.NotFound
	}
	return f.header, nil
}

type fakeRPC struct {
	methods []string
	args    [][]interface{}
}

func (f *fakeRPC) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	f.methods = append(f.methods, method)
	f.args = append(f.args, args)
	return nil
}

// revertError mimics a geth JSON-RPC error carrying revert data.
type revertError struct {
	msg  string
	data string
}

func (e *revertError) Error() string          { return e.msg }
func (e *revertError) ErrorData() interface{} { return e.data }

func testLogger(t *testing.T) *log.Logger {
	logger, err := log.NewLogger("evmchain-test", io.Discard, log.FmtJSON, log.LevelDebug)
	require.NoError(t, err)
	return logger
}

func testAccount(t *testing.T) network.Account {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return network.NewAccount(key)
}

func newTestChain(t *testing.T, name string, backend *fakeBackend, rpcCaller RPCCaller, opts ...Option) *Chain {
	return New(name, backend, rpcCaller, big.NewInt(1337), []network.Account{testAccount(t)}, testLogger(t), opts...)
}

func newFakeBackend(contractABI *abi.ABI) *fakeBackend {
	return &fakeBackend{
		abi:     contractABI,
		outputs: make(map[string][]interface{}),
		inputs:  make(map[string][]interface{}),
	}
}

func TestLotteryViews(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(contracts.LotteryABI)
	winner := ethCommon.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	backend.outputs["getEntryFee"] = []interface{}{common.MustToWei("0.0125")}
	backend.outputs["lotteryState"] = []interface{}{uint8(1)}
	backend.outputs["latestWinner"] = []interface{}{winner}
	backend.outputs["entryIdToParticipant"] = []interface{}{winner}
	chain := newTestChain(t, "sepolia", backend, &fakeRPC{})

	l, err := chain.LotteryAt(contractAddr)
	require.NoError(t, err)
	require.Equal(t, contractAddr, l.Address())

	fee, err := l.GetEntryFee(ctx)
	require.NoError(t, err)
	require.Equal(t, "12500000000000000", fee.String())

	state, err := l.LotteryState(ctx)
	require.NoError(t, err)
	require.Equal(t, common.LotteryOpened, state)

	latest, err := l.LatestWinner(ctx)
	require.NoError(t, err)
	require.Equal(t, winner, latest)

	participant, err := l.EntryIdToParticipant(ctx, big.NewInt(2))
	require.NoError(t, err)
	require.Equal(t, winner, participant)
	require.Len(t, backend.inputs["entryIdToParticipant"], 1)
	require.Equal(t, "2", backend.inputs["entryIdToParticipant"][0].(*big.Int).String())
}

func TestLotteryUnknownState(t *testing.T) {
	backend := newFakeBackend(contracts.LotteryABI)
	backend.outputs["lotteryState"] = []interface{}{uint8(7)}
	chain := newTestChain(t, "sepolia", backend, &fakeRPC{})
	l, err := chain.LotteryAt(contractAddr)
	require.NoError(t, err)

	_, err = l.LotteryState(context.Background())
	require.Error(t, err)
}

func TestPriceFeedViews(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(contracts.MockV3AggregatorABI)
	backend.outputs["decimals"] = []interface{}{uint8(8)}
	backend.outputs["latestRoundData"] = []interface{}{
		big.NewInt(3), big.NewInt(400000000000), big.NewInt(1700000000), big.NewInt(1700000001), big.NewInt(3),
	}
	chain := newTestChain(t, "sepolia", backend, &fakeRPC{})
	feed, err := chain.PriceFeedAt(contractAddr)
	require.NoError(t, err)

	decimals, err := feed.Decimals(ctx)
	require.NoError(t, err)
	require.Equal(t, uint8(8), decimals)

	round, err := feed.LatestRoundData(ctx)
	require.NoError(t, err)
	require.Equal(t, "3", round.RoundId.String())
	require.Equal(t, "400000000000", round.Answer.String())
	require.Equal(t, "1700000001", round.UpdatedAt.String())
}

func TestCallRevert(t *testing.T) {
	reason := "lottery is not opened"
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]

	backend := newFakeBackend(contracts.LotteryABI)
	backend.callErr = &revertError{
		msg:  "execution reverted: " + reason,
		data: hexutil.Encode(append(selector, packed...)),
	}
	chain := newTestChain(t, "sepolia", backend, &fakeRPC{})
	l, err := chain.LotteryAt(contractAddr)
	require.NoError(t, err)

	_, err = l.GetEntryFee(context.Background())
	require.ErrorIs(t, err, contracts.ErrReverted)
	var revert *contracts.RevertError
	require.ErrorAs(t, err, &revert)
	require.Equal(t, contracts.NameLottery, revert.Contract)
	require.Equal(t, "getEntryFee", revert.Method)
	require.Equal(t, reason, revert.Reason)
}

func TestMapError(t *testing.T) {
	err := mapError("Lottery", "endLottery", errors.New("VM Exception while processing transaction: revert not enough LINK"))
	var revert *contracts.RevertError
	require.ErrorAs(t, err, &revert)
	require.Equal(t, "not enough LINK", revert.Reason)

	cause := errors.New("connection refused")
	err = mapError("Lottery", "endLottery", cause)
	require.ErrorIs(t, err, cause)
	require.False(t, errors.Is(err, contracts.ErrReverted))
}

func TestTransactUnknownAccount(t *testing.T) {
	chain := newTestChain(t, "sepolia", newFakeBackend(contracts.LotteryABI), &fakeRPC{})
	l, err := chain.LotteryAt(contractAddr)
	require.NoError(t, err)

	_, err = l.StartLottery(context.Background(), contracts.From(ethCommon.HexToAddress("0x1234")))
	require.ErrorIs(t, err, network.ErrUnknownAccount)
}

func TestSleep(t *testing.T) {
	ctx := context.Background()
	rpcCaller := &fakeRPC{}
	local := newTestChain(t, "ganache-local", newFakeBackend(contracts.LotteryABI), rpcCaller)
	require.True(t, local.IsLocal())
	require.NoError(t, local.Sleep(ctx, 24*time.Hour))
	require.Equal(t, []string{"evm_increaseTime", "evm_mine"}, rpcCaller.methods)
	require.Equal(t, []interface{}{int64(86400)}, rpcCaller.args[0])

	remoteRPC := &fakeRPC{}
	remote := newTestChain(t, "sepolia", newFakeBackend(contracts.LotteryABI), remoteRPC)
	require.False(t, remote.IsLocal())
	require.ErrorIs(t, remote.Sleep(ctx, time.Hour), network.ErrTimeTravelUnsupported)
	require.Empty(t, remoteRPC.methods)
}

func TestBlockTimestamp(t *testing.T) {
	backend := newFakeBackend(contracts.LotteryABI)
	chain := newTestChain(t, "sepolia", backend, &fakeRPC{})
	_, err := chain.BlockTimestamp(context.Background(), 5)
	require.ErrorIs(t, err, ethereum.NotFound)

	backend.header = &types.Header{Number: big.NewInt(5), Time: 1700000000}
	ts, err := chain.BlockTimestamp(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, uint64(1700000000), ts)
}

func TestLoadArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := `{"contractName": "LinkToken", "abi": [], "bytecode": "0x6080604052"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "LinkToken.json"), []byte(artifact), 0o600))

	loaded, err := LoadArtifact(dir, contracts.NameLinkToken)
	require.NoError(t, err)
	code, err := loaded.BytecodeBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, code)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Lottery.json"), []byte(artifact), 0o600))
	_, err = LoadArtifact(dir, contracts.NameLottery)
	require.Error(t, err, "artifact of another contract")

	_, err = LoadArtifact(dir, contracts.NameVRFCoordinatorMock)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestDeployWithoutArtifacts(t *testing.T) {
	chain := newTestChain(t, "ganache-local", newFakeBackend(contracts.LinkTokenABI), &fakeRPC{})
	_, err := chain.DeployLinkToken(context.Background(), contracts.From(chain.Accounts()[0].Address))
	require.Error(t, err)
}

func TestNilIntegersAreNotPacked(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend(contracts.LotteryABI)
	chain := newTestChain(t, "sepolia", backend, &fakeRPC{})
	opts := contracts.From(chain.Accounts()[0].Address)
	l, err := chain.LotteryAt(contractAddr)
	require.NoError(t, err)

	_, err = l.EntryIdToParticipant(ctx, nil)
	require.ErrorIs(t, err, contracts.ErrNilArgument)
	_, err = l.EnterLottery(ctx, opts, nil)
	require.ErrorIs(t, err, contracts.ErrNilArgument)
	_, err = l.ChangeEntryFee(ctx, opts, nil)
	require.ErrorIs(t, err, contracts.ErrNilArgument)
	_, err = l.ChangeDuration(ctx, opts, nil)
	require.ErrorIs(t, err, contracts.ErrNilArgument)
	require.Empty(t, backend.inputs, "nothing reached the node")

	_, err = chain.DeployPriceFeed(ctx, opts, 8, nil)
	require.ErrorIs(t, err, contracts.ErrNilArgument)
	_, err = chain.DeployLottery(ctx, opts, contracts.LotteryParams{})
	require.ErrorIs(t, err, contracts.ErrNilArgument)
}
