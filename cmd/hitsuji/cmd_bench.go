package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steve-o/hitsuji/client"
	"github.com/steve-o/hitsuji/datasource"
	"github.com/steve-o/hitsuji/report/multi"
	phoutReporter "github.com/steve-o/hitsuji/report/phout"
	supersimpleReporter "github.com/steve-o/hitsuji/report/supersimple"
	"github.com/steve-o/hitsuji/scheduler"
)

type RPSConst struct {
	Freq     uint64        `arg:"" required:"" help:"Value req/s."`
	Duration time.Duration `help:"Limit duration (10s, 2h...)."`
}

func (r RPSConst) AfterApply(kongCtx *kong.Context) error {
	var sched scheduler.Scheduler
	sched, err := scheduler.NewConstant(r.Freq)
	if err != nil {
		return err
	}
	kongCtx.BindTo(sched, (*scheduler.Scheduler)(nil))
	if r.Duration != 0 {
		kongCtx.Bind(DurationLimit{r.Duration})
	}
	return nil
}

type RPSLine struct {
	From     float64       `arg:"" required:"" help:"Starting req/s."`
	To       float64       `arg:"" required:"" help:"Ending req/s."`
	Duration time.Duration `arg:"" required:"" help:"Duration (10s, 2h...)."`
}

func (r RPSLine) AfterApply(kongCtx *kong.Context) error {
	sched, err := scheduler.NewLine(r.From, r.To, r.Duration)
	if err != nil {
		return err
	}
	kongCtx.BindTo(sched, (*scheduler.Scheduler)(nil))
	kongCtx.Bind(DurationLimit{r.Duration})
	return nil
}

type RPSUnlimited struct {
	Duration time.Duration `help:"Limit duration (10s, 2h...)."`
	Count    uint64        `help:"Limit requests count"`
}

func (r RPSUnlimited) AfterApply(kongCtx *kong.Context) error {
	var sched scheduler.Scheduler = scheduler.Unlimited{}
	if r.Count != 0 {
		sched = scheduler.NewCountLimiter(sched, int64(r.Count))
	}
	if r.Duration != 0 {
		kongCtx.Bind(DurationLimit{r.Duration})
	}
	kongCtx.BindTo(sched, (*scheduler.Scheduler)(nil))
	return nil
}

type RPS struct {
	Const     RPSConst     `cmd:"" group:"rps" help:"Const rps."`
	Line      RPSLine      `cmd:"" group:"rps" help:"Linear rps."`
	Unlimited RPSUnlimited `cmd:"" group:"rps" help:"Unlimited rps (default one)." default:"1"`
}

// DurationLimit stops pacing once the next request would be due later.
// Zero is no limit.
type DurationLimit struct {
	Duration time.Duration
}

type BenchCommand struct {
	Addr       string   `default:"localhost:24002" help:"Provider address."`
	Items      []string `xor:"items" help:"Item names, requested round robin."`
	ItemsFile  *os.File `xor:"items" help:"File of item names, one per line."`
	InmemItems bool     `help:"Load the whole items file in memory."`

	Clients     int           `default:"1" help:"Connections count."`
	MaxInFlight int           `default:"1024" help:"Requests in flight per connection, zero is unlimited."`
	ServiceID   uint16        `name:"service-id" default:"1" help:"Service id of the requests."`
	Timeout     time.Duration `default:"11s" help:"Reply timeout."`
	Phout       string        `help:"Phout report file." type:"path"`

	RPS
}

func (c *BenchCommand) Validate() error {
	if len(c.Items) == 0 && c.ItemsFile == nil {
		return errors.New("one of --items or --items-file is required")
	}
	if c.InmemItems && c.ItemsFile == nil {
		return errors.New("--inmem-items needs --items-file")
	}
	return nil
}

func (c *BenchCommand) Run(
	ctx context.Context,
	sched scheduler.Scheduler,
	d DurationLimit,
	log *zap.Logger,
) (err error) {
	if c.Clients < 1 {
		return fmt.Errorf("--clients must be positive")
	}
	dataSource, err := c.dataSource()
	if err != nil {
		return err
	}
	if c.ItemsFile != nil {
		defer c.ItemsFile.Close()
	}

	var reporter client.Reporter = supersimpleReporter.New(os.Stdout)
	if c.Phout != "" {
		f, createErr := os.Create(c.Phout)
		if createErr != nil {
			return fmt.Errorf("creating phout file(%s): %w", c.Phout, createErr)
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		reporter = multi.NewMulti(phoutReporter.New(f), reporter)
	}

	cfg := client.Config{
		ServiceID:   c.ServiceID,
		Timeout:     c.Timeout,
		MaxInFlight: c.MaxInFlight,
	}
	clients := make([]*client.Client, 0, c.Clients)
	defer func() {
		for _, cl := range clients {
			cl.Close()
		}
	}()
	for i := 0; i < c.Clients; i++ {
		cl, err := client.Dial(ctx, c.Addr, cfg, log)
		if err != nil {
			return err
		}
		clients = append(clients, cl)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(reporter.Run)

	clientsCtx, clientsCancel := context.WithCancel(ctx)
	defer clientsCancel()
	for _, cl := range clients {
		cl := cl
		g.Go(func() error { return cl.Run(clientsCtx) })
	}

	g.Go(func() error {
		defer func() {
			err := reporter.Close()
			if err != nil {
				log.Warn("close reporter", zap.Error(err))
			}
		}()
		defer clientsCancel()

		err := scheduler.Pace(ctx, sched, d.Duration, func(n int64) error {
			item, err := dataSource.Fetch()
			if err != nil {
				return err
			}
			cl := clients[n%int64(len(clients))]
			return cl.Request(item, reporter.Acquire(item))
		})
		for _, cl := range clients {
			cl.WaitResponses(ctx)
		}
		return err
	})

	defer memStats(log)

	return g.Wait()
}

func (c *BenchCommand) dataSource() (datasource.DataSource, error) {
	if c.ItemsFile == nil {
		return datasource.NewInmemDataSource(c.Items)
	}
	if c.InmemItems {
		defer c.ItemsFile.Close()
		ds, err := datasource.ReadInmemDataSource(c.ItemsFile)
		if err != nil {
			return nil, fmt.Errorf("inmem datasource init: %w", err)
		}
		return ds, nil
	}
	return datasource.NewFileDataSource(c.ItemsFile), nil
}

func memStats(log *zap.Logger) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Info(
		"memory stats",
		zap.Uint64("Alloc (MiB)", bToMb(m.Alloc)),
		zap.Uint64("TotalAlloc (MiB)", bToMb(m.TotalAlloc)),
		zap.Uint64("Sys (MiB)", bToMb(m.Sys)),
		zap.Uint64("HeapInuse (MiB)", bToMb(m.HeapInuse)),
		zap.Uint32("NumGC (count)", m.NumGC),
		zap.Uint64("Mallocs (count)", m.Mallocs),
		zap.Uint64("Frees (count)", m.Frees),
	)
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
