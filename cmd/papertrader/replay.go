package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/atmx/papertrader/internal/engine"
	"github.com/atmx/papertrader/internal/ledger"
)

type replayCmd struct {
	balance string
	summary bool
}

func (*replayCmd) Name() string     { return "replay" }
func (*replayCmd) Synopsis() string { return "run a price series through a fresh portfolio" }
func (*replayCmd) Usage() string {
	return `papertrader replay [-balance <n>] [-summary] <file|->

  Reads one price per line (blank lines and lines starting with # are
  skipped) and prints every decision as a JSON line. Use - for stdin.
`
}

func (c *replayCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.balance, "balance", "", "Initial balance (defaults to 1000000).")
	f.BoolVar(&c.summary, "summary", false, "Print the final status after the last decision.")
}

func (c *replayCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	initial := ledger.DefaultInitialBalance
	if c.balance != "" {
		var err error
		if initial, err = decimal.NewFromString(c.balance); err != nil || !initial.IsPositive() {
			fmt.Fprintf(os.Stderr, "invalid -balance %q\n", c.balance)
			return subcommands.ExitUsageError
		}
	}

	var in io.Reader = os.Stdin
	if name := f.Arg(0); name != "-" {
		file, err := os.Open(name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		defer file.Close()
		in = file
	}

	if err := replay(in, os.Stdout, initial, c.summary); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// replay feeds each price in r to a fresh engine and writes one JSON decision
// per line to w. It stops at the first invalid price.
func replay(r io.Reader, w io.Writer, initial decimal.Decimal, summary bool) error {
	eng := engine.New(ledger.New(initial))
	enc := json.NewEncoder(w)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		price, err := decimal.NewFromString(text)
		if err != nil {
			return fmt.Errorf("line %d: %w: got %q", line, engine.ErrInvalidPrice, text)
		}
		res, err := eng.SubmitPrice(price)
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read prices: %w", err)
	}

	if summary {
		return enc.Encode(eng.Status())
	}
	return nil
}
