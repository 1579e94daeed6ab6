// Package cmd implements commands for the lottery executable.
package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/spf13/cobra"

	cmdCommon "github.com/vrflottery/lottery/cmd/common"
	"github.com/vrflottery/lottery/cmd/scripts"
	"github.com/vrflottery/lottery/cmd/serve"
	"github.com/vrflottery/lottery/log"
)

var rootCmd = &cobra.Command{
	Use:   "lottery",
	Short: "Deploy and operate the VRF lottery",
}

// Execute spawns the main entry point after handing the config file.
func Execute() {
	// Debug hook. If we receive SIGUSR1, dump all goroutines.
	go dumpGoroutinesOnSignal(syscall.SIGUSR1)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String(cmdCommon.FlagConfig, "./config/local.yml", "path to the config.yml file")
	rootCmd.PersistentFlags().String(cmdCommon.FlagNetwork, "", "network to act on, overriding the config file")

	for _, f := range []func(*cobra.Command){
		scripts.Register,
		serve.Register,
	} {
		f(rootCmd)
	}
}

// Starts listening for the specified signals, and logs a dump of all
// goroutines when the process receives one of those signals.
func dumpGoroutinesOnSignal(signals ...os.Signal) {
	logger := log.NewDefaultLogger("toplevel")
	c := make(chan os.Signal, 1)
	signal.Notify(c, signals...)
	for range c {
		b := bytes.NewBufferString("")
		_ = pprof.Lookup("goroutine").WriteTo(b, 1)
		logger.Warn("USER-REQUESTED DUMP: all goroutines", "goroutines_all", b.String())

		b = bytes.NewBufferString("")
		_ = pprof.Lookup("block").WriteTo(b, 1)
		logger.Warn("USER-REQUESTED DUMP: stack traces that led to blocking on synchronization primitives", "goroutines_block", b.String())
	}
}
