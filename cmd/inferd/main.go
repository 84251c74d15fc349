package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"github.com/nnexec/nnexec/internal/config"
	"github.com/nnexec/nnexec/internal/modelfile"
	"github.com/nnexec/nnexec/internal/server"
	"github.com/nnexec/nnexec/pkg/blobs"
	"github.com/nnexec/nnexec/pkg/executor"
	"github.com/nnexec/nnexec/pkg/ops"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	klog.InitFlags(nil)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flag.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")
	flag.StringVar(&cfg.Model, "model", cfg.Model, "model bundle reference (path, gs:// or http(s)://)")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := klog.FromContext(ctx)

	modelPath, err := blobs.Fetch(ctx, cfg.Model, cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("resolving model %q: %w", cfg.Model, err)
	}

	g, weights, err := modelfile.Load(modelPath)
	if err != nil {
		return fmt.Errorf("loading model %q: %w", modelPath, err)
	}
	log.Info("loaded model", "path", modelPath, "graph", g.String())

	exec, err := executor.New(g, weights, ops.NewRegistry())
	if err != nil {
		return fmt.Errorf("building executor: %w", err)
	}
	defer exec.Dispose()

	srv := server.New(server.Config{
		ListenAddr: cfg.ListenAddr,
		Executor:   exec,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", "signal", sig)
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
