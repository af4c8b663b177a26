package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/goodenergy/internal/app"
	"github.com/soaringjerry/goodenergy/internal/config"
	"github.com/soaringjerry/goodenergy/internal/logger"
	"github.com/soaringjerry/goodenergy/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := app.NewLogger(cfg, "worker")
	defer logger.Flush()

	if cfg.Queue.Driver != "redis" {
		log.WithField("queue", cfg.Queue.Driver).Fatal("the worker needs GE_QUEUE_DRIVER=redis")
	}

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

	if rq, ok := a.Queue.(*queue.RedisQueue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			log.WithError(err).Fatal("recover in-flight jobs")
		}
		if n > 0 {
			log.WithField("jobs", n).Warn("requeued jobs left in flight by a previous worker")
		}
	}

	pool, err := a.Pool()
	if err != nil {
		log.WithError(err).Fatal("worker pool")
	}
	if err := pool.Run(ctx); err != nil {
		log.WithError(err).Error("worker stopped")
	}
	if stats, err := a.Queue.Stats(context.Background()); err == nil {
		log.WithFields(logrus.Fields{
			"ready": stats.Ready, "in_flight": stats.InFlight, "delayed": stats.Delayed, "dead": stats.Dead,
		}).Info("queue at shutdown")
	}
}
