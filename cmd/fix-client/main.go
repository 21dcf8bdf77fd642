package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/luxfi/log"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/luxfi/fix/pkg/client"
	"github.com/luxfi/fix/pkg/metrics"
	"github.com/luxfi/fix/pkg/seqstore"
	"github.com/luxfi/fix/pkg/session"
	"github.com/luxfi/fix/pkg/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	rootLogger := log.Root()

	cfg, err := parseFlags(args)
	if err != nil {
		rootLogger.Crit("Invalid configuration", "error", err)
		return client.ExitError
	}

	level, _ := log.ToLevel(cfg.LogLevel)
	logger := log.NewTestLogger(level)

	rootLogger.Info(`
╔══════════════════════════════════════════╗
║          FIX 4.2 Session Client          ║
╚══════════════════════════════════════════╝`)

	rootLogger.Info("System information",
		"platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"cpus", runtime.NumCPU(),
		"sender", cfg.Sender,
		"target", cfg.Target,
		"modes", cfg.Modes)

	if cfg.Username != "" && cfg.Password == "" {
		pw, err := promptPassword()
		if err != nil {
			rootLogger.Crit("Failed to read password", "error", err)
			return client.ExitError
		}
		cfg.Password = pw
		logger.Info("Credentials collected", "username", cfg.Username)
	}

	dataPath := cfg.DataDir
	if !filepath.IsAbs(dataPath) {
		dataPath = filepath.Join(os.Getenv("HOME"), dataPath)
	}
	store, err := seqstore.Open(dataPath, logger)
	if err != nil {
		rootLogger.Crit("Failed to open sequence store", "error", err)
		return client.ExitError
	}
	defer store.Close()

	m := metrics.NewSessionMetrics("fix_client", logger)
	if cfg.MetricsPort > 0 {
		m.StartServer(strconv.Itoa(cfg.MetricsPort))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			m.Shutdown(ctx)
		}()
	}

	cli, err := client.New(client.Config{
		Transport: transport.Config{
			Scheme: cfg.Transport,
			Host:   cfg.Host,
			Port:   cfg.Port,
		},
		Session: session.Config{
			Sender:    cfg.Sender,
			Target:    cfg.Target,
			SenderSub: cfg.SubID,
			SeqNum:    cfg.SeqNum,
			Modes:     cfg.Modes,
		},
		Username: cfg.Username,
		Password: cfg.Password,
		NATSURL:  cfg.NATSURL,
	}, store, m, logger)
	if err != nil {
		rootLogger.Crit("Failed to create client", "error", err)
		return client.ExitError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received shutdown signal", "signal", sig)
		cancel()
	}()

	return cli.Run(ctx)
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := terminal.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
