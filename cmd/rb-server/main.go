package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/rb-admission/internal/config"
	"github.com/signalsfoundry/rb-admission/internal/engine"
	"github.com/signalsfoundry/rb-admission/internal/logging"
	"github.com/signalsfoundry/rb-admission/internal/nbi"
	"github.com/signalsfoundry/rb-admission/internal/observability"
	"github.com/signalsfoundry/rb-admission/kb"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML topology and server config")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the admission gRPC server listens on (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load config", logging.Err(err))
		os.Exit(1)
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(stopCtx, cfg, log, lis); err != nil {
		log.Error(ctx, "rb-server exited", logging.Err(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.ApplyEnv(); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// run serves until ctx is done, then drains gRPC, the sweeper and the
// metrics listener.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	tracingCfg, err := observability.TracingConfigFromEnv()
	if err != nil {
		return err
	}
	shutdownTracing, err := observability.InitTracing(ctx, tracingCfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	rpcMetrics, err := observability.NewRPCCollector(nil)
	if err != nil {
		return fmt.Errorf("init rpc metrics: %w", err)
	}
	engineMetrics, err := observability.NewAdmissionCollector(nil)
	if err != nil {
		return fmt.Errorf("init admission metrics: %w", err)
	}

	eng, err := engine.Build(cfg, log, engine.WithMetrics(engineMetrics))
	if err != nil {
		return err
	}
	rpcMetrics.SetAccessPointCount(eng.Registry.Len())
	unsubscribe := eng.Registry.Subscribe(func(kb.Event) {
		rpcMetrics.SetAccessPointCount(eng.Registry.Len())
	})
	defer unsubscribe()

	metricsSrv := serveMetrics(cfg.Server.MetricsAddr, rpcMetrics, log)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		eng.Sweeper.Run(sweepCtx)
	}()

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			rpcMetrics.UnaryServerInterceptor(),
		),
	)
	nbi.RegisterAdmissionServiceServer(server, nbi.NewAdmissionService(eng.Registry, eng.Controller, log))

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting admission gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.Int("access_points", eng.Registry.Len()),
		logging.Duration("sweep_interval", eng.Sweeper.Interval()),
	)
	go func() {
		serveErr <- server.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("grpc serve: %w", err)
		}
	}

	log.Info(context.Background(), "shutting down admission server")
	server.GracefulStop()
	stopSweep()
	<-sweepDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if ok, ap := eng.Conserved(); !ok {
		log.Error(context.Background(), "capacity not conserved at shutdown", logging.String("access_point", ap))
	}
	return runErr
}

func serveMetrics(addr string, collector *observability.RPCCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
