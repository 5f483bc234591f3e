package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/rpc"
	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/telemetry"
)

// #region serve
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the adaptation engine over gRPC",
	Long: `Start the gRPC adaptation service. On SIGINT or SIGTERM the server stops
accepting calls, every open session is ended (writing final checkpoints
for sessions with a save_path) and buffered telemetry is flushed.`,
	RunE: runServe,
}

type serveOptions struct {
	addr  string
	grace time.Duration
}

var serveFlags serveOptions

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "", "Listen address (overrides service.addr)")
	f.DurationVar(&serveFlags.grace, "grace", 10*time.Second, "Time allowed for ending sessions on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) (err error) {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if serveFlags.addr != "" {
		cfg.Service.Addr = serveFlags.addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cl closers
	defer func() { err = errors.Join(err, cl.Close()) }()

	open, err := openCheckpoints(ctx, cfg.Checkpoint, &cl)
	if err != nil {
		return err
	}
	sinks, err := buildSinks(ctx, cfg.Telemetry, log, &cl)
	if err != nil {
		return err
	}
	bus := telemetry.NewBus(cfg.Telemetry.Buffer, log, sinks...)
	eng, err := newEngine(cfg, log, open, bus)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cfg.Service.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Service.Addr, err)
	}
	srv := rpc.NewGRPCServer(eng, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Run(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		log.Info("serving",
			zap.String("addr", lis.Addr().String()),
			zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
			zap.Int("telemetry_sinks", len(sinks)))
		if err := srv.Serve(lis); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		srv.GracefulStop()
		sctx, cancel := context.WithTimeout(context.Background(), serveFlags.grace)
		defer cancel()
		serr := eng.Shutdown(sctx)
		bus.Close()
		st := bus.Stats()
		log.Info("stopped",
			zap.Uint64("events_published", st.Published),
			zap.Uint64("events_dropped", st.Dropped),
			zap.Uint64("events_failed", st.Failed))
		return serr
	})
	return g.Wait()
}

// #endregion serve
