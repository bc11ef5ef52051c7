package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/rulesmarket/relay/internal"
	"github.com/rulesmarket/relay/internal/client"
	"github.com/rulesmarket/relay/internal/config"
	"github.com/rulesmarket/relay/internal/monitor"
	"github.com/rulesmarket/relay/internal/statusclient"
	"github.com/rulesmarket/relay/internal/utils"
)

func main() {
	log.Info(fmt.Sprintf("Monitor %s is running", internal.RelayVersionRevision))
	config.LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token, err := client.FetchJoinToken(ctx, config.Config.APIBaseURL, config.Config.AdminTokenSecret, config.Config.OperatorEmail, config.Config.OperatorUserID)
	if err != nil {
		log.Fatalf("failed to fetch admin token: %v", err)
	}

	c := client.New(config.Config.RelayURL, client.Options{
		Attempts:         config.Config.ReconnectAttempts,
		Delay:            time.Duration(config.Config.ReconnectDelay) * time.Second,
		HandshakeTimeout: time.Duration(config.Config.HandshakeTimeout) * time.Second,
		WriteTimeout:     time.Duration(config.Config.WriteTimeout) * time.Second,
	})

	feed := monitor.NewFeed(config.Config.FeedCapacity)
	m := monitor.New(c, feed, config.Config.OperatorEmail, config.Config.OperatorUserID)
	m.OnEntry = monitor.LogFeedEntry

	if err := m.Start(ctx, token); err != nil {
		log.Fatalf("failed to start monitor: %v", err)
	}
	log.WithField("prefix", "Monitor").Infof("joined admin room as %v", config.Config.OperatorEmail)

	status := statusclient.New(config.Config.APIBaseURL,
		time.Duration(config.Config.RequestTimeout)*time.Second,
		time.Duration(config.Config.PollInterval)*time.Second)
	utils.RunWithRecovery(func() {
		status.Run(ctx, func(h statusclient.HealthSnapshot, d statusclient.DashboardSnapshot) {
			log.WithField("prefix", "Monitor.Status").Infof("backend %v, %d clients connected, %d admins",
				h.Status, d.Overview.ConnectedClients, d.Overview.AdminClients)
		})
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down monitor")
	cancel()
	m.Stop()
}
