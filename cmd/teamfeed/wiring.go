package main

import (
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/teamfeed/internal/backend"
	"github.com/mtzanidakis/teamfeed/internal/config"
	"github.com/mtzanidakis/teamfeed/internal/frame"
	"github.com/mtzanidakis/teamfeed/internal/registry"
	"github.com/mtzanidakis/teamfeed/internal/session"
	"github.com/mtzanidakis/teamfeed/internal/store"
	"github.com/mtzanidakis/teamfeed/internal/transcript"
	"github.com/mtzanidakis/teamfeed/internal/vault"
)

func newBackend(cfg *config.Config) *backend.Client {
	opts := []backend.Option{backend.WithStreamPath(cfg.Backend.StreamPath)}
	if cfg.Backend.Token != "" {
		opts = append(opts, backend.WithToken(cfg.Backend.Token))
	}
	return backend.New(cfg.Backend.URL, opts...)
}

func newController(cfg *config.Config, client *backend.Client, reg *registry.Registry, opts ...session.Option) *session.Controller {
	base := []session.Option{
		session.WithAggregator(transcript.NewAggregator(
			transcript.WithTopLevelNode(cfg.Transcript.TopLevelNode),
			transcript.WithErrorMarker(cfg.Transcript.ErrorMarker),
		)),
		session.WithDecoderOptions(frame.WithSystemAgent(cfg.Transcript.SystemAgent)),
		session.WithLogger(slog.Default()),
	}
	return session.NewController(client, reg, append(base, opts...)...)
}

func newVault(cfg *config.Config) *vault.Vault {
	if cfg.Vault.Passphrase == "" {
		return nil
	}
	return vault.New(cfg.Vault.Passphrase)
}

func openStore(cfg *config.Config) (*store.Store, error) {
	db, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return db, nil
}
