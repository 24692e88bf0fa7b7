// Package admin serves the operational endpoints of a provider process:
// gRPC health and reflection, prometheus metrics, pprof and the instance list.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/steve-o/hitsuji/registry"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	log    *zap.Logger
	grpc   *grpc.Server
	health *health.Server
	http   *http.Server
}

// New builds the servers. reg may be nil, then /instances is not mounted.
func New(gatherer prometheus.Gatherer, reg *registry.Registry, log *zap.Logger) *Server {
	s := &Server{
		log:    log.Named("admin"),
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	if reg != nil {
		mux.HandleFunc("/instances", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := registry.WriteJSON(w, reg.List()); err != nil {
				s.log.Debug("writing instances", zap.Error(err))
			}
		})
	}
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	return s
}

// SetServing flips the health status of service. The empty name is the
// overall server status.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, status)
}

// MonitorHealth polls healthy every period and mirrors it into the status of
// service until ctx is done.
func (s *Server) MonitorHealth(ctx context.Context, service string, healthy func() bool, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	last := healthy()
	s.SetServing(service, last)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cur := healthy()
			if cur != last {
				s.log.Info("health changed", zap.String("service", service), zap.Bool("serving", cur))
				last = cur
			}
			s.SetServing(service, cur)
		}
	}
}

// Serve runs both servers until ctx is done or one of them fails.
func (s *Server) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		s.log.Info("grpc listening", zap.Stringer("addr", grpcLn.Addr()))
		if err := s.grpc.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.log.Info("http listening", zap.Stringer("addr", httpLn.Addr()))
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
