package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/goodenergy/internal/api"
	"github.com/soaringjerry/goodenergy/internal/app"
	"github.com/soaringjerry/goodenergy/internal/config"
	"github.com/soaringjerry/goodenergy/internal/logger"
	"github.com/soaringjerry/goodenergy/internal/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := app.NewLogger(cfg, "server")
	defer logger.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.WithError(err).Warn("close")
		}
	}()
	if err := prepareDatabase(ctx, a); err != nil {
		log.WithError(err).Fatal("prepare database")
	}

	// The memory queue only lives in this process, so its jobs are worked here.
	poolDone := make(chan struct{})
	if cfg.Queue.Driver == "memory" {
		pool, err := a.Pool()
		if err != nil {
			log.WithError(err).Fatal("worker pool")
		}
		go func() {
			defer close(poolDone)
			_ = pool.Run(ctx)
		}()
	} else {
		close(poolDone)
	}

	rt := api.NewRouter(api.Services{
		Catalog:     a.Catalog,
		Answers:     a.Answers,
		Aggregates:  a.Aggregates,
		Comparisons: a.Comparisons,
		Ranking:     a.Ranking,
		Days:        a.Dispatcher,
	}, middleware.NewAuthenticator(cfg.JWTSecret), log, api.BuildInfo{Commit: cfg.Commit, BuildTime: cfg.BuildTime})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("http shutdown")
		}
	}()

	log.WithField("addr", cfg.Addr).Info("Good Energy server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("server error")
		stop()
	}
	<-poolDone
}
