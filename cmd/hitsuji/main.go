package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
	"go.uber.org/zap"
)

var CLI struct {
	Serve    ServeCommand      `cmd:"" help:"Run the snapshot provider."`
	Snapshot SnapshotCommand   `cmd:"" help:"Request snapshots and print the replies."`
	Bench    BenchCommand      `cmd:"" help:"Generate snapshot load against a provider."`
	Ticks    TicksCommand      `cmd:"" help:"Tick file tools."`
	Man      mangokong.ManFlag `help:"Write man page." hidden:""`
	Verbose  bool              `short:"v" help:"Verbose output."`
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.Must(zap.NewProduction())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(DurationLimit{}),
		kong.Groups(map[string]string{
			"rps":       `Request rate:`,
			"overrides": `Config overrides:`,
		}),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`interactive market data snapshot provider

hitsuji answers snapshot requests for OHLCV analytics over a tick store. Requests are queued to a pool of workers and replies are correlated back to the requesting connection.
		`),
	)
	log := newLogger(CLI.Verbose)
	defer log.Sync() //nolint:errcheck
	kongCtx.Bind(log)

	err := kongCtx.Run()
	if errors.Is(err, context.Canceled) {
		log.Info("interrupted")
		err = nil
	}
	kongCtx.FatalIfErrorf(err)
}
