package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"idport.org/internal/auth"
	"idport.org/internal/bankid"
	"idport.org/internal/config"
	"idport.org/internal/httpapi"
	"idport.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var db *sql.DB
	var store auth.Store
	if cfg.Postgres.DSN != "" {
		db, err = sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		store = auth.NewPGStore(db)
	} else {
		// Local development without a database.
		log.Print("no postgres dsn configured, using in-memory store")
		store = auth.NewMemStore()
	}

	directory, err := auth.NewDirectory(store)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}
	if err := directory.EnsureBuiltins(context.Background()); err != nil {
		log.Fatalf("seed permissions: %v", err)
	}
	tokens, err := auth.NewTokenService(store.Users(), store.RefreshTokens(), cfg.JWT.Secret,
		auth.WithIssuer(cfg.JWT.Issuer),
		auth.WithAccessTTL(cfg.JWT.AccessTTL),
		auth.WithRefreshTTL(cfg.JWT.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	resolver, err := auth.NewResolver(store.Permissions())
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	var bankidSvc *bankid.Service
	if cfg.BankID.Endpoint != "" {
		client, err := bankid.NewClient(cfg.BankID)
		if err != nil {
			log.Fatalf("bankid client: %v", err)
		}
		var orders bankid.OrderStore
		if db != nil {
			orders = bankid.NewPGOrders(db)
		} else {
			orders = bankid.NewMemOrders()
		}
		orders = bankid.NewCachedOrders(orders, cfg.BankID.OrderCacheTTL)
		bankidSvc, err = bankid.NewService(client, orders, store.Users(), tokens,
			bankid.WithQRValidity(cfg.BankID.QRValidFor))
		if err != nil {
			log.Fatalf("bankid service: %v", err)
		}
	} else {
		log.Print("no bankid endpoint configured, e-id routes disabled")
	}

	api, err := httpapi.New(httpapi.Config{
		Tokens:          tokens,
		Directory:       directory,
		Resolver:        resolver,
		BankID:          bankidSvc,
		Ready:           httpapi.ReadyProbe{DB: db},
		Version:         version,
		MaxBodyBytes:    cfg.HTTP.MaxBodyBytes,
		RateLimitPerSec: cfg.HTTP.RateLimitPerSec,
		RateLimitBurst:  cfg.HTTP.RateLimitBurst,
	})
	if err != nil {
		log.Fatalf("httpapi: %v", err)
	}

	pruneCtx, pruneStop := context.WithCancel(context.Background())
	go pruneRefreshTokens(pruneCtx, store.RefreshTokens())

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting idport-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	pruneStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// pruneRefreshTokens periodically removes refresh tokens that are past their
// expiry and would otherwise only be consumed on a client retry.
func pruneRefreshTokens(ctx context.Context, tokens auth.RefreshTokenStore) {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := tokens.DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("prune refresh tokens: %v", err)
			} else if n > 0 {
				log.Printf("pruned %d expired refresh tokens", n)
			}
		}
	}
}
