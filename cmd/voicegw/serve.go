package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"yuzu/voicegw/internal/api"
	"yuzu/voicegw/internal/config"
	"yuzu/voicegw/internal/gateway"
	"yuzu/voicegw/internal/health"
	"yuzu/voicegw/internal/logging"
	"yuzu/voicegw/internal/store"
)

const (
	grpcService     = "voicegw"
	shutdownTimeout = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept device connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			log := logging.New(cfg.Log.Level, cfg.Log.Format)
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	rdb, err := openRedis(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}
	deps, err := buildDeps(cfg, rdb, log)
	if err != nil {
		return err
	}

	st := store.New()
	reg := gateway.NewRegistry(cfg)
	gw := gateway.NewServer(deps, reg, st, logging.Component(log, "gateway"))

	devMux := http.NewServeMux()
	devMux.HandleFunc(cfg.Server.WSPath, gw.HandleDeviceWS)
	devSrv := &http.Server{Addr: cfg.Server.Addr, Handler: devMux, ReadHeaderTimeout: 5 * time.Second}

	handlers := api.NewHandlers(reg, st, health.NewChecker(rdb), config.Load, logging.Component(log, "api"))
	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           logMiddleware(logging.Component(log, "admin"), api.NewRouter(handlers)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	gs := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(grpcService, healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("device listener starting", zap.String("addr", cfg.Server.Addr), zap.String("path", cfg.Server.WSPath))
		return listen(devSrv)
	})
	g.Go(func() error {
		log.Info("admin listener starting", zap.String("addr", cfg.Server.AdminAddr))
		return listen(adminSrv)
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		log.Info("grpc health listener starting", zap.String("addr", cfg.Server.GRPCAddr))
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// every service reports NOT_SERVING from here on
		hs.Shutdown()

		n := gw.Drain("server shutting down")
		waitDrained(reg, cfg.Session.CloseTimeout+time.Second)
		log.Info("sessions drained", zap.Int("closed", n), zap.Int("left", reg.Len()))

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = devSrv.Shutdown(sctx)
		_ = adminSrv.Shutdown(sctx)
		gs.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
		return err
	}
	return nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// waitDrained polls until the registry is empty or d has passed. Hijacked
// WebSocket connections are invisible to http.Server.Shutdown.
func waitDrained(reg *gateway.Registry, d time.Duration) {
	deadline := time.Now().Add(d)
	for reg.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
}

func logMiddleware(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Duration("took", time.Since(start)))
	})
}
