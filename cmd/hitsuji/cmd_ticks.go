package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/steve-o/hitsuji/tickstore"
)

type TicksCommand struct {
	Gen  TicksGenCommand  `cmd:"" help:"Generate a random walk tick file."`
	Info TicksInfoCommand `cmd:"" help:"Summarize a tick file."`
}

type TicksGenCommand struct {
	Out     string        `arg:"" required:"" type:"path" help:"Output tick file."`
	Symbols []string      `default:"MSFT.O,IBM.N" help:"Symbols to generate."`
	Day     string        `placeholder:"2006-01-02" help:"UTC trading day, today when empty."`
	Open    time.Duration `default:"9h30m" help:"Session open as an offset from midnight."`
	Close   time.Duration `default:"16h" help:"Session close as an offset from midnight."`
	Step    time.Duration `default:"1s" help:"Time between ticks."`
	Price   float64       `default:"100" help:"Starting price."`
	Seed    uint64        `default:"1" help:"Random seed of the first symbol."`
}

func (c *TicksGenCommand) Validate() error {
	if c.Open >= c.Close {
		return fmt.Errorf("--open %s must be before --close %s", c.Open, c.Close)
	}
	if c.Step <= 0 {
		return fmt.Errorf("--step must be positive")
	}
	return nil
}

func (c *TicksGenCommand) Run(_ context.Context, log *zap.Logger) error {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	if c.Day != "" {
		var err error
		day, err = time.Parse(time.DateOnly, c.Day)
		if err != nil {
			return fmt.Errorf("--day: %w", err)
		}
	}

	store := tickstore.New()
	for i, symbol := range c.Symbols {
		store.Add(symbol, tickstore.Generate(day.Add(c.Open), day.Add(c.Close), c.Step, c.Price, c.Seed+uint64(i))...)
	}
	if err := store.SaveFile(c.Out); err != nil {
		return err
	}
	log.Info("tick file written", zap.String("file", c.Out), zap.Strings("symbols", c.Symbols))
	return nil
}

type TicksInfoCommand struct {
	File string `arg:"" required:"" type:"existingfile" help:"Tick file."`
}

func (c *TicksInfoCommand) Run() error {
	store, err := tickstore.LoadFile(c.File)
	if err != nil {
		return err
	}
	for _, symbol := range store.Symbols() {
		var first, last tickstore.Tick
		n := 0
		err := store.Scan(symbol, time.Unix(0, 0), time.Unix(0, math.MaxInt64), func(t tickstore.Tick) {
			if n == 0 {
				first = t
			}
			last = t
			n++
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%-10s %8d ticks", symbol, n)
		if n > 0 {
			fmt.Fprintf(os.Stdout, "  %s .. %s  %.2f .. %.2f",
				time.Unix(0, first.Time).UTC().Format(time.RFC3339),
				time.Unix(0, last.Time).UTC().Format(time.RFC3339),
				first.Price, last.Price,
			)
		}
		fmt.Fprintln(os.Stdout)
	}
	return nil
}
