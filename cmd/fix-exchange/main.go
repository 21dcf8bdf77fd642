package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/luxfi/log"

	"github.com/luxfi/fix/pkg/exchange"
)

func main() {
	tcpPort := flag.Int("tcp-port", 9878, "FIX listener port")
	enableWS := flag.Bool("ws", false, "Also accept WebSocket sessions")
	wsPort := flag.Int("ws-port", 9879, "WebSocket listener port")
	probePeriod := flag.Duration("test-request-period", 0, "Send unsolicited TestRequests on this period (0 disables)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	rootLogger := log.Root()
	rootLogger.Info(`
╔══════════════════════════════════════════╗
║        FIX 4.2 Exchange Simulator        ║
╚══════════════════════════════════════════╝`)

	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU())

	level, _ := log.ToLevel(*logLevel)
	logger := log.NewTestLogger(level)

	srv := exchange.NewServer(exchange.Config{
		TCPPort:           *tcpPort,
		WSPort:            *wsPort,
		EnableWS:          *enableWS,
		TestRequestPeriod: *probePeriod,
	}, logger)

	if err := srv.Start(); err != nil {
		rootLogger.Crit("Failed to start simulator", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	srv.Stop()
}
