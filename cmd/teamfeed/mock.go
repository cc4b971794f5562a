package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/mockbackend"
)

func runMockBackend(args []string) error {
	fs := flag.NewFlagSet("mock-backend", flag.ContinueOnError)
	addr := fs.String("addr", ":8000", "listen address")
	delay := fs.Duration("delay", 300*time.Millisecond, "pause between streamed events")
	delta := fs.Bool("delta", false, "stream the answer as delta chunks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts := []mockbackend.Option{
		mockbackend.WithDelay(*delay),
		mockbackend.WithTopLevelNode(cfg.Transcript.TopLevelNode),
		mockbackend.WithSystemAgent(cfg.Transcript.SystemAgent),
	}
	if *delta {
		opts = append(opts, mockbackend.WithDeltaChunks())
	}
	mock := mockbackend.New(cfg.Agents, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: *addr, Handler: mock.Handler()}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	slog.Info("mock backend listening", "addr", *addr, "delay", *delay, "delta", *delta)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
