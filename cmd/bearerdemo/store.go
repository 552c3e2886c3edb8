package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/oauth2-bearer-go/config"
	"github.com/ggoodman/oauth2-bearer-go/oauth2types"
	"github.com/ggoodman/oauth2-bearer-go/storage"
	"github.com/ggoodman/oauth2-bearer-go/storage/jwtstore"
	"github.com/ggoodman/oauth2-bearer-go/storage/memory"
	redisstore "github.com/ggoodman/oauth2-bearer-go/storage/redis"
	"github.com/ggoodman/oauth2-bearer-go/storage/sqlstore"
)

// tokenStore is the lookup chosen by BEARER_STORE plus what the metadata
// document needs to know about it.
type tokenStore struct {
	name        string
	lookup      storage.TokenLookup
	authServers []string
	scopes      []string
	close       func() error
}

var demoScopes = []string{scopeNotesRead, scopeNotesWrite}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*tokenStore, error) {
	switch cfg.Store {
	case config.StoreRedis:
		s, err := redisstore.New(ctx, redisstore.Config{RedisAddr: cfg.RedisAddr, KeyPrefix: cfg.RedisPrefix})
		if err != nil {
			return nil, err
		}
		return &tokenStore{name: config.StoreRedis, lookup: s, scopes: demoScopes, close: s.Close}, nil

	case config.StoreSQLite:
		s, err := sqlstore.Open(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		return &tokenStore{name: config.StoreSQLite, lookup: s, scopes: demoScopes, close: s.Close}, nil

	case config.StoreJWT:
		s, err := jwtstore.New(ctx, jwtstore.Config{
			Issuer:    cfg.OIDCIssuer,
			Audiences: cfg.Audiences(),
			JWKSURL:   cfg.OIDCJWKSURL,
		})
		if err != nil {
			return nil, err
		}
		return &tokenStore{
			name:        config.StoreJWT,
			lookup:      s,
			authServers: s.AuthorizationServers(),
			scopes:      s.ScopesSupported(),
			close:       func() error { return nil },
		}, nil
	}

	s := memory.New(memory.WithLogger(logger))
	if cfg.SeedFile == "" {
		tok, sess, err := s.Issue("demo", "bearerdemo", oauth2types.NewScope(demoScopes...), 24*time.Hour)
		if err != nil {
			return nil, err
		}
		logger.Info("memory.dev.token", slog.String("token", tok), slog.String("session_id", sess.ID))
	} else {
		if err := s.LoadFile(cfg.SeedFile); err != nil {
			return nil, err
		}
		go func() {
			if err := s.Watch(ctx, cfg.SeedFile); err != nil {
				logger.Error("memory.watch.fail", slog.String("err", err.Error()))
			}
		}()
	}
	return &tokenStore{name: config.StoreMemory, lookup: s, scopes: demoScopes, close: func() error { return nil }}, nil
}
