// Command papertrader runs the paper trading simulator.
//
//	papertrader serve [-config file] [-env file]
//	papertrader replay [-balance n] [-summary] <file|->
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

func init() {
	// Money and prices go over the wire as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&replayCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
