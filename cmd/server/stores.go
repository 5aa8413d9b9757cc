package main

import (
	"fmt"

	"github.com/ashureev/intake-chat/internal/config"
	"github.com/ashureev/intake-chat/internal/store"
)

func openStore(cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		return store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			store.WithPrefix(cfg.RedisPrefix),
			store.WithTTL(cfg.RedisTTL),
		), nil
	case config.BackendSQLite:
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
