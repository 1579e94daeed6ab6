package common

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vrflottery/lottery/log"
)

// ShutdownTimeout bounds the graceful shutdown of servers run by RunServer.
const ShutdownTimeout = 10 * time.Second

// RunServer serves until ctx is done, then shuts server down gracefully.
func RunServer(ctx context.Context, server *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "endpoint", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down", "endpoint", server.Addr, "reason", ctx.Err())
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
