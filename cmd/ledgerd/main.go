package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/investkar/ledger/internal/cli"
	"github.com/investkar/ledger/internal/config"
)

func main() {
	var cfg config.AppConfig
	flag.StringVar(&cfg.ConfigPath, "config", "", "Path to the YAML config file (defaults to LEDGER_CONFIG or "+config.DefaultConfigPath+")")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range cli.Commands(&cfg) {
		commander.Register(c, "")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
