package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/missionctl/missionctl/internal/backend"
	"github.com/missionctl/missionctl/internal/config"
	"github.com/missionctl/missionctl/internal/storage"
)

var errSignedOut = errors.New("not signed in")

// loadConfig is replaced in tests.
var loadConfig = config.Load

var newBackend = func() (*backend.Client, config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if !cfg.SignedIn() {
		return nil, cfg, fmt.Errorf("%w: %s", errSignedOut, config.TokenHint())
	}
	return backend.NewClient(cfg.API.BaseURL, cfg.API.Token, backend.WithUserAgent("missionctl/"+version)), cfg, nil
}

func openCache(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	return store, nil
}

// explain turns backend sentinels into user-facing hints.
func explain(err error) error {
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		return fmt.Errorf("%w (check the API token: %s)", err, config.TokenHint())
	case errors.Is(err, backend.ErrNotFound):
		return fmt.Errorf("%w (no such resource)", err)
	}
	return err
}

func logFilePath(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "missionctl.log")
}
