package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/soaringjerry/goodenergy/internal/app"
	"github.com/soaringjerry/goodenergy/internal/config"
	"github.com/soaringjerry/goodenergy/internal/logger"
	"github.com/soaringjerry/goodenergy/internal/models"
)

func main() {
	fromFlag := flag.String("from", "", "first day to recompute, YYYY-MM-DD (default: earliest campaign start)")
	toFlag := flag.String("to", "", "last day to recompute, YYYY-MM-DD (default: yesterday)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := app.NewLogger(cfg, "backfill")
	defer logger.Flush()

	var from time.Time
	if *fromFlag != "" {
		if from, err = models.ParseDay(*fromFlag); err != nil {
			log.WithError(err).Fatal("invalid -from")
		}
	}
	to := models.DayOf(time.Now().UTC()).AddDate(0, 0, -1)
	if *toFlag != "" {
		if to, err = models.ParseDay(*toFlag); err != nil {
			log.WithError(err).Fatal("invalid -to")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer a.Close()

	start := time.Now()
	days, err := a.Aggregates.Backfill(ctx, from, to)
	entry := log.WithFields(logrus.Fields{"days": days, "duration": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("backfill stopped")
		return
	}
	entry.Info("backfill complete")
}
