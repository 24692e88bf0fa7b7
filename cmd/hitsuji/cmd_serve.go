package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/steve-o/hitsuji/admin"
	"github.com/steve-o/hitsuji/config"
	"github.com/steve-o/hitsuji/metrics"
	"github.com/steve-o/hitsuji/permdata"
	"github.com/steve-o/hitsuji/provider"
	"github.com/steve-o/hitsuji/registry"
	"github.com/steve-o/hitsuji/tickstore"
	"github.com/steve-o/hitsuji/transport"
	"github.com/steve-o/hitsuji/transport/inproc"
	"github.com/steve-o/hitsuji/transport/natsq"
	"github.com/steve-o/hitsuji/worker"
)

const (
	healthInterval = time.Second
	stopTimeout    = 10 * time.Second
)

// Symbols served when no tick file is configured.
var demoSymbols = map[string]float64{
	"MSFT.O": 38.2,
	"IBM.N":  179.9,
	"GOOG.O": 1021.4,
	"AAPL.O": 520.1,
}

type ServeCommand struct {
	Config string `type:"existingfile" placeholder:"hitsuji.yaml" help:"YAML config file."`

	Port      int    `group:"overrides" help:"Provider port."`
	Workers   int    `group:"overrides" help:"Worker count."`
	PinCPU    bool   `group:"overrides" name:"pin-cpu" help:"Pin each worker to a CPU."`
	Transport string `group:"overrides" placeholder:"inproc|nats" help:"Task queue transport."`
	NATSURL   string `group:"overrides" name:"nats-url" help:"NATS server URL."`
	Ticks     string `group:"overrides" type:"existingfile" help:"Tick file, demo data is generated when empty."`
	PermFile  string `group:"overrides" type:"existingfile" help:"JSON permission lock file."`
}

func (c *ServeCommand) load() (config.Config, error) {
	cfg := config.Default()
	if c.Config != "" {
		var err error
		cfg, err = config.Load(c.Config)
		if err != nil {
			return cfg, err
		}
	}
	if c.Port != 0 {
		cfg.Provider.Port = c.Port
	}
	if c.Workers != 0 {
		cfg.Workers.Count = c.Workers
	}
	if c.PinCPU {
		cfg.Workers.PinCPU = true
	}
	if c.Transport != "" {
		cfg.Transport.Kind = c.Transport
	}
	if c.NATSURL != "" {
		cfg.Transport.NATSURL = c.NATSURL
	}
	if c.Ticks != "" {
		cfg.TickStore.Path = c.Ticks
	}
	if c.PermFile != "" {
		cfg.Permissions.File = c.PermFile
	}
	return cfg, cfg.Validate()
}

func (c *ServeCommand) Run(ctx context.Context, log *zap.Logger) (err error) {
	cfg, err := c.load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	store, err := openTickStore(cfg.TickStore)
	if err != nil {
		return err
	}
	log.Info("tick store ready", zap.Strings("symbols", store.Symbols()))

	perms, closePerms, err := openPermissions(ctx, cfg.Permissions, store.Symbols(), log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closePerms()) }()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	fabric, closeFabric, err := openTransport(cfg, m, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeFabric()) }()

	var onStart worker.StartHook
	if cfg.Workers.PinCPU {
		onStart = worker.PinToCPU
	}
	pool, err := worker.NewPool(fabric, cfg.Workers.Count, worker.Deps{
		Inventory:   store,
		Source:      store,
		Permissions: perms,
		Metrics:     m,
	}, onStart, log)
	if err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	// Workers outlive the signal so that Stop can drain them.
	poolCtx, poolCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer poolCancel()
	pool.Start(poolCtx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		err = multierr.Append(err, pool.Stop(stopCtx))
	}()

	srv := provider.New(fabric.Producer(), provider.Config{
		ServiceName:     cfg.Provider.ServiceName,
		ServiceID:       cfg.Provider.ServiceID,
		MaxDataSize:     cfg.Provider.MaxDataSize,
		SessionCapacity: cfg.Provider.SessionCapacity,
	}, m, log)

	reg := registry.New()
	reg.Register(registry.KindProvider, cfg.Provider.ServiceName, func() string {
		return fmt.Sprintf("sessions=%d", srv.Sessions())
	})
	for _, w := range pool.Workers() {
		reg.Register(registry.KindWorker, fmt.Sprintf("worker-%d", w.ID()), func() string {
			return w.State().String()
		})
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Provider.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	log.Info("provider listening",
		zap.String("service", cfg.Provider.ServiceName),
		zap.Uint16("service-id", cfg.Provider.ServiceID),
		zap.String("vendor", cfg.Provider.Vendor),
		zap.Stringer("addr", ln.Addr()),
	)

	var adm *admin.Server
	var grpcLn, httpLn net.Listener
	if cfg.Admin.HTTPAddr != "" && cfg.Admin.GRPCAddr != "" {
		adm = admin.New(promReg, reg, log)
		grpcLn, err = lc.Listen(ctx, "tcp", cfg.Admin.GRPCAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("admin grpc listen: %w", err)
		}
		httpLn, err = lc.Listen(ctx, "tcp", cfg.Admin.HTTPAddr)
		if err != nil {
			ln.Close()
			grpcLn.Close()
			return fmt.Errorf("admin http listen: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, ln) })
	if adm != nil {
		g.Go(func() error { return adm.Serve(ctx, grpcLn, httpLn) })
		g.Go(func() error {
			adm.MonitorHealth(ctx, cfg.Provider.ServiceName, func() bool {
				return pool.Running() == pool.Size()
			}, healthInterval)
			return nil
		})
	}

	err = g.Wait()
	log.Info("provider stopped", zap.Error(err))
	return err
}

func openTickStore(cfg config.TickStore) (*tickstore.Store, error) {
	if cfg.Path != "" {
		store, err := tickstore.LoadFile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("tick store: %w", err)
		}
		return store, nil
	}
	day := time.Now().UTC().Truncate(24 * time.Hour)
	store := tickstore.New()
	var seed uint64
	for symbol, price := range demoSymbols {
		seed++
		store.Add(symbol, tickstore.Generate(day, day.Add(24*time.Hour), time.Second, price, seed)...)
	}
	return store, nil
}

func openPermissions(
	ctx context.Context,
	cfg config.Permissions,
	symbols []string,
	log *zap.Logger,
) (permdata.Store, func() error, error) {
	noop := func() error { return nil }
	switch {
	case cfg.File != "":
		m, err := permdata.LoadFile(cfg.File)
		if err != nil {
			return nil, noop, fmt.Errorf("permissions: %w", err)
		}
		log.Info("permissions loaded", zap.String("file", cfg.File), zap.Int("symbols", len(m)))
		return m, noop, nil
	case cfg.PostgresDSN != "":
		pg, err := permdata.OpenPostgres(cfg.PostgresDSN, cfg.Table)
		if err != nil {
			return nil, noop, fmt.Errorf("permissions: %w", err)
		}
		cache := permdata.NewCache(pg, cfg.CacheSize)
		warm, err := pg.LookupMany(ctx, symbols)
		if err != nil {
			log.Warn("permission cache warm up failed", zap.Error(err))
		} else {
			cache.Warm(warm)
		}
		return cache, pg.Close, nil
	default:
		return permdata.None{}, noop, nil
	}
}

func openTransport(cfg config.Config, m *metrics.Metrics, log *zap.Logger) (transport.Fabric, func() error, error) {
	switch cfg.Transport.Kind {
	case config.TransportNATS:
		nc, err := nats.Connect(cfg.Transport.NATSURL, nats.Name("hitsuji"))
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		fabric, err := natsq.New(
			nc,
			cfg.Transport.NATSPrefix,
			cfg.Transport.HighWater,
			cfg.Transport.HighWater*cfg.Provider.MaxDataSize,
			m,
			log,
		)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("nats transport: %w", err)
		}
		return fabric, func() error {
			defer nc.Close()
			return fabric.Close()
		}, nil
	default:
		fabric := inproc.New(cfg.Transport.HighWater)
		return fabric, fabric.Close, nil
	}
}
