package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mossy-p/signaling-relay/config"
	"github.com/mossy-p/signaling-relay/internal/logger"
	"github.com/mossy-p/signaling-relay/internal/peer"
	"github.com/mossy-p/signaling-relay/internal/rtc"
	"github.com/mossy-p/signaling-relay/internal/signaling"
)

func main() {
	settingsPath := flag.String("settings", "settings.json", "path to a JSON settings file (optional)")
	offerTo := flag.String("offer", "", "peer id to send an offer to once connected")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logger.New(*logLevel)

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load settings")
	}

	engine, err := rtc.NewEngine(settings.RTC, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create RTC engine")
	}
	defer engine.Close()

	client := signaling.NewClient(settings.Signaling, log)
	coord := peer.NewCoordinator(engine, client, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx, coord); err != nil {
		log.WithError(err).Fatal("Failed to connect to signaling relay")
	}
	defer client.Close()

	if *offerTo != "" {
		if err := coord.Offer(*offerTo); err != nil {
			log.WithError(err).Error("Failed to send offer")
		}
	}

	plog := log.WithField("peer", client.ID())
	plog.Info("Waiting for signals")

	select {
	case <-ctx.Done():
		plog.WithField("state", engine.ConnectionState().String()).Info("Shutting down")
	case <-client.Done():
		plog.WithField("state", engine.ConnectionState().String()).Warn("Signaling connection closed")
	}
}
