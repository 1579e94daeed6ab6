package common

import (
	"encoding/json"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLotteryState(t *testing.T) {
	require.Equal(t, "Closed", LotteryClosed.String())
	require.Equal(t, "Opened", LotteryOpened.String())
	require.Equal(t, "Processing", LotteryProcessing.String())
	require.Equal(t, "LotteryState(7)", LotteryState(7).String())
	require.False(t, LotteryState(3).Valid())

	b, err := json.Marshal(LotteryOpened)
	require.NoError(t, err)
	require.Equal(t, `"Opened"`, string(b))

	var s LotteryState
	require.NoError(t, json.Unmarshal([]byte(`"processing"`), &s))
	require.Equal(t, LotteryProcessing, s)
	require.Error(t, json.Unmarshal([]byte(`"paused"`), &s))

	_, err = json.Marshal(LotteryState(9))
	require.Error(t, err)
}

func TestSliceAddress(t *testing.T) {
	addr := ethCommon.HexToAddress("0x5B38Da6a701c568545dCfcB03FcB875f56beddC4")
	require.Equal(t, "0x5B3...ddC4", SliceAddress(addr))
}

func TestSliceLongValue(t *testing.T) {
	require.Equal(t, "77", SliceLongValue("77"))
	require.Equal(t, "12345...6789", SliceLongValue("123450000000006789"))
}
