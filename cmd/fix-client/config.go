package main

import (
	"flag"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/luxfi/fix/pkg/session"
)

const (
	defaultDataDir = ".fix-client"
	defaultHost    = "localhost"
	defaultPort    = 9878
)

type Config struct {
	// Network
	Host      string
	Port      int
	Transport string

	// Identity
	Sender string
	Target string
	SubID  string

	// Session
	SeqNum uint64
	Modes  session.Mode

	// Credentials; the password is only ever collected interactively.
	Username string
	Password string

	// Infrastructure
	DataDir     string
	NATSURL     string
	MetricsPort int
	LogLevel    string
}

// fileConfig mirrors Config for the TOML file. Modes arrive as names and the
// password deliberately has no file field.
type fileConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	Transport   string   `toml:"transport"`
	Sender      string   `toml:"sender"`
	Target      string   `toml:"target"`
	SubID       string   `toml:"sub-id"`
	SeqNum      uint64   `toml:"seq-num"`
	Modes       []string `toml:"modes"`
	Username    string   `toml:"username"`
	DataDir     string   `toml:"db-dir"`
	NATSURL     string   `toml:"nats-url"`
	MetricsPort int      `toml:"metrics-port"`
	LogLevel    string   `toml:"log-level"`
}

// modeFlag accumulates repeated --mode values into one bitmask.
type modeFlag struct {
	mode session.Mode
}

func (m *modeFlag) String() string { return m.mode.String() }

func (m *modeFlag) Set(v string) error {
	parsed, err := session.ParseMode(v)
	if err != nil {
		return err
	}
	m.mode |= parsed
	return nil
}

// parseFlags builds the configuration from the command line, merging in the
// TOML file named by --config. A flag given on the command line always wins
// over the file value.
func parseFlags(args []string) (*Config, error) {
	fs := flag.NewFlagSet("fix-client", flag.ContinueOnError)

	cfg := &Config{}
	var modes modeFlag
	configPath := fs.String("config", "", "TOML config file (flags win over file values)")
	fs.StringVar(&cfg.Host, "host", defaultHost, "Counterparty host")
	fs.IntVar(&cfg.Port, "port", defaultPort, "Counterparty port")
	fs.StringVar(&cfg.Transport, "transport", "tcp", "Transport scheme (tcp, ws, wss)")
	fs.StringVar(&cfg.Sender, "sender", "", "SenderCompID for outbound messages")
	fs.StringVar(&cfg.Target, "target", "", "TargetCompID for outbound messages")
	fs.StringVar(&cfg.SubID, "sub-id", "", "Optional SenderSubID for the logon")
	fs.Uint64Var(&cfg.SeqNum, "seq-num", 0, "Starting sequence number (0 resumes from the store)")
	fs.Var(&modes, "mode", "Session mode, repeatable (dormant, keepalive, gapfill, logout)")
	fs.StringVar(&cfg.Username, "username", "", "Username; prompts for a password when set")
	fs.StringVar(&cfg.DataDir, "db-dir", defaultDataDir, "Sequence store directory (relative to $HOME unless absolute)")
	fs.StringVar(&cfg.NATSURL, "nats-url", "", "Mirror inbound frames to this NATS server")
	fs.IntVar(&cfg.MetricsPort, "metrics-port", 0, "Prometheus metrics port (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Modes = modes.mode

	if *configPath != "" {
		set := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if err := applyFile(cfg, *configPath, set); err != nil {
			return nil, err
		}
	}

	cfg.Modes = cfg.Modes.Normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFile fills in every field whose flag was not given on the command
// line.
func applyFile(cfg *Config, path string, set map[string]bool) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}

	if !set["host"] && fc.Host != "" {
		cfg.Host = fc.Host
	}
	if !set["port"] && fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if !set["transport"] && fc.Transport != "" {
		cfg.Transport = fc.Transport
	}
	if !set["sender"] && fc.Sender != "" {
		cfg.Sender = fc.Sender
	}
	if !set["target"] && fc.Target != "" {
		cfg.Target = fc.Target
	}
	if !set["sub-id"] && fc.SubID != "" {
		cfg.SubID = fc.SubID
	}
	if !set["seq-num"] && fc.SeqNum != 0 {
		cfg.SeqNum = fc.SeqNum
	}
	if !set["mode"] {
		for _, name := range fc.Modes {
			parsed, err := session.ParseMode(name)
			if err != nil {
				return err
			}
			cfg.Modes |= parsed
		}
	}
	if !set["username"] && fc.Username != "" {
		cfg.Username = fc.Username
	}
	if !set["db-dir"] && fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if !set["nats-url"] && fc.NATSURL != "" {
		cfg.NATSURL = fc.NATSURL
	}
	if !set["metrics-port"] && fc.MetricsPort != 0 {
		cfg.MetricsPort = fc.MetricsPort
	}
	if !set["log-level"] && fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	return nil
}

func (c *Config) validate() error {
	if c.Sender == "" {
		return fmt.Errorf("sender identity is required")
	}
	if c.Target == "" {
		return fmt.Errorf("target identity is required")
	}
	switch c.Transport {
	case "tcp", "ws", "wss":
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}
