package common

import (
	"io"

	"github.com/vrflottery/lottery/log"
)

// CloseOrLog closes c and logs, rather than returns, any error.
func CloseOrLog(c io.Closer, logger *log.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", "err", err)
	}
}
