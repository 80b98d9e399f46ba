package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"docsense/internal/bootstrap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx)
	if err != nil {
		logrus.WithError(err).Fatal("bootstrap failed")
	}
	defer func() {
		if err := app.Close(); err != nil {
			logrus.WithError(err).Error("close resources failed")
		}
	}()

	if err := app.StartWorker(ctx); err != nil {
		logrus.WithError(err).Fatal("start worker failed")
	}
	logrus.WithField("poll_interval_seconds", app.Config.Pipeline.PollIntervalSeconds).Info("worker started")

	<-ctx.Done()
	logrus.Info("worker stopping, waiting for the document in flight")
}
