package main

import (
	"flag"
)

// Config holds the relay's command-line configuration.
type Config struct {
	ListenAddr  string
	MetricsAddr string
	LogLevel    string
}

// ParseFlags parses os.Args-style flags into a Config.
func ParseFlags(args []string) *Config {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	cfg := &Config{}
	fs.StringVar(&cfg.ListenAddr, "addr", ":9443", "UDP listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address (empty to disable)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.Parse(args)
	return cfg
}
