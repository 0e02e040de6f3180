package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"docvault.org/internal/audit"
	"docvault.org/internal/authz"
	"docvault.org/internal/config"
	"docvault.org/internal/httpapi"
	"docvault.org/internal/obs"
	"docvault.org/internal/policy"
	"docvault.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	cfg := config.Load()
	log.WithField("config", cfg.String()).Info("starting docvault-api")

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	codec, err := token.NewCodec(cfg.AccessSecret, cfg.RefreshSecret, token.WithIssuer(cfg.Issuer))
	if err != nil {
		log.WithError(err).Fatal("token codec")
	}

	// Redis-backed revocations when configured, otherwise in-process.
	var revocations token.RevocationStore
	var memRevocations *token.MemoryRevocations
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		revocations = token.NewRedisRevocations(client)
		log.WithField("addr", cfg.RedisAddr).Info("using redis revocation store")
	} else {
		memRevocations = token.NewMemoryRevocations(time.Minute)
		revocations = memRevocations
		log.Warn("using in-memory revocation store, revocations do not survive restarts")
	}

	resources := authz.NewPGResourceStore(db)
	cache := policy.NewCache(policy.NewPGStore(db),
		policy.WithTTL(cfg.PolicyCacheTTL),
		policy.WithGrace(cfg.PolicyCacheGrace),
	)

	sink := audit.Sink(audit.LogSink{})
	var queueSink *audit.QueueSink
	if cfg.AMQPURL != "" {
		queueSink = audit.NewQueueSink(cfg.AMQPURL)
		sink = audit.Multi{audit.LogSink{}, queueSink}
		log.Info("audit events will be mirrored to the message queue")
	}

	pipeline, err := authz.NewPipeline(codec, revocations, authz.NewPGPrincipalStore(db), resources, cache, sink)
	if err != nil {
		log.WithError(err).Fatal("authorization pipeline")
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, httpapi.Config{
		Version:     version,
		Codec:       codec,
		Revocations: revocations,
		Pipeline:    pipeline,
		Resources:   resources,
		Documents:   resources,
		AccessTTL:   cfg.AccessTTL,
		RefreshTTL:  cfg.RefreshTTL,
		StepUpTTL:   cfg.StepUpTTL,
	})

	handler := httpapi.SecurityHeaders(httpapi.CORS(httpapi.Logging(api.Handler())))
	handler = httpapi.MaxBodyBytes(handler, 1<<20)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	if memRevocations != nil {
		memRevocations.Stop()
	}
	if queueSink != nil {
		queueSink.Close()
	}
	_ = db.Close()
	log.Info("stopped")
}
