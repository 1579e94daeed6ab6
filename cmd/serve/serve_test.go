package serve

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vrflottery/lottery/config"
)

func developmentConfig() *config.Config {
	return &config.Config{
		Network: config.NetworkDevelopment,
		Lottery: config.LotteryConfig{EntryFeeUSD: 50, LinkToFund: "1"},
		Server: &config.ServerConfig{
			Endpoint:     "127.0.0.1:0",
			PollInterval: 10 * time.Millisecond,
			Storage:      &config.StorageConfig{Backend: "inmemory"},
		},
	}
}

func TestInitDevelopment(t *testing.T) {
	s, err := Init(context.Background(), developmentConfig())
	require.NoError(t, err)
	defer s.Close()
	require.NotNil(t, s.recorder, "a lottery is deployed on the development chain")

	l, err := s.deployer.Lottery(context.Background())
	require.NoError(t, err)
	deployed, err := s.deployer.LotteryDeployBlock(context.Background(), l.Address())
	require.NoError(t, err)
	require.Positive(t, deployed, "mocks are deployed before the lottery")
	require.Equal(t, deployed, s.recorder.FromBlock(), "history before the deployment is not scanned")

	rec := httptest.NewRecorder()
	s.api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Network string `json:"network"`
		Lottery string `json:"lottery"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, config.NetworkDevelopment, status.Network)
	require.NotEmpty(t, status.Lottery)
}

func TestInitBadStorage(t *testing.T) {
	cfg := developmentConfig()
	cfg.Server.Storage = &config.StorageConfig{Backend: "cockroach"}
	_, err := Init(context.Background(), cfg)
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := Init(context.Background(), developmentConfig())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("services did not stop")
	}
}
