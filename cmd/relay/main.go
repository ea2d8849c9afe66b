package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v9"
	"go.uber.org/zap"

	_ "net/http/pprof"

	"github.com/nzlov/relay/internal/api"
	"github.com/nzlov/relay/internal/auth"
	"github.com/nzlov/relay/internal/config"
	"github.com/nzlov/relay/internal/identity"
	"github.com/nzlov/relay/internal/logging"
	"github.com/nzlov/relay/internal/messaging"
	"github.com/nzlov/relay/internal/node"
	"github.com/nzlov/relay/internal/outbox"
	"github.com/nzlov/relay/internal/registry"
	"github.com/nzlov/relay/internal/store"
	"github.com/nzlov/relay/internal/store/gormstore"
	"github.com/nzlov/relay/internal/store/memory"
)

var configPath = flag.String("config", "", "config file (default ./config.yaml)")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init config error:", err)
		os.Exit(1)
	}
	logger, err := logging.Init(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init log error:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	identity.SetStaffRoles(cfg.StaffRoles)

	gw, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal("init store error:", err)
	}
	defer gw.Close()

	ob, err := openOutbox(cfg)
	if err != nil {
		log.Fatal("init outbox error:", err)
	}
	defer ob.Close()

	if cfg.PprofHost != "" {
		go func() {
			log.Info("pprof:", cfg.PprofHost)
			if err := http.ListenAndServe(cfg.PprofHost, nil); err != nil {
				log.Warn("pprof:", err)
			}
		}()
	}

	verifier := auth.NewJWT(cfg.Secret)
	svc := messaging.New(gw, registry.New(), ob, cfg.Support)
	opts := []api.Option{api.WithWebsocket(node.New(cfg.Client, svc, verifier))}
	if cfg.AdminSecret != "" {
		opts = append(opts, api.WithAdmin(cfg.AdminSecret, cfg.AdminSkew))
	} else {
		log.Warn("admin_secret is empty, /admin/notifications disabled")
	}

	srv := &http.Server{
		Addr:              cfg.Host,
		Handler:           api.New(svc, verifier, opts...).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("shutdown:", err)
		}
	}()

	log.Info("Start:", cfg.Host)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("ListenAndServe: ", err)
	}
	log.Info("close")
}

func openStore(c config.StoreConfig) (store.Gateway, error) {
	switch c.Driver {
	case "postgres":
		s, err := gormstore.Open(c.DSN, c.Log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		zap.S().Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	}
}

func openOutbox(cfg *config.Config) (outbox.Outbox, error) {
	if !cfg.Outbox.Enable {
		return outbox.Nop{}, nil
	}
	if !cfg.Redis.Enable {
		return outbox.NewMemory(cfg.Outbox.Capacity, cfg.Outbox.TTL), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Host,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	zap.S().Info("outbox on redis:", cfg.Redis.Host)
	return outbox.NewRedis(rdb, cfg.Redis.Prefix, cfg.Outbox.Capacity, cfg.Outbox.TTL), nil
}
