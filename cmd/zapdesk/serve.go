package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/zapdesk/zapdesk/internal/alert"
	"github.com/zapdesk/zapdesk/internal/assign"
	"github.com/zapdesk/zapdesk/internal/classify"
	"github.com/zapdesk/zapdesk/internal/config"
	"github.com/zapdesk/zapdesk/internal/db"
	"github.com/zapdesk/zapdesk/internal/deal"
	"github.com/zapdesk/zapdesk/internal/dedup"
	"github.com/zapdesk/zapdesk/internal/events"
	"github.com/zapdesk/zapdesk/internal/httpapi"
	"github.com/zapdesk/zapdesk/internal/ingest"
	"github.com/zapdesk/zapdesk/internal/presence"
	"github.com/zapdesk/zapdesk/internal/registry"
	"github.com/zapdesk/zapdesk/internal/sweeper"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the routing service",
		Long:  "Loads the routing configuration, connects the backing services, and serves the channel webhooks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "zapdesk.yaml", "path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger()

	gormDB, err := db.Connect(cfg.DB)
	if err != nil {
		return err
	}

	reg, err := registry.Build(gormDB)
	if err != nil {
		return err
	}

	// Presence: Redis when configured, otherwise everyone counts as
	// offline and all assignments defer.
	var checker presence.Checker
	if cfg.Redis.Addr != "" {
		redisChecker := presence.NewRedisChecker(cfg.Redis)
		defer redisChecker.Close()
		checker = redisChecker
	} else {
		log.Warn("redis not configured, presence disabled; all assignments will defer")
		checker = presence.NewStatic()
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		amqp, err := events.NewAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			return err
		}
		defer amqp.Close()
		publisher = amqp
	}

	var alerter alert.Alerter = alert.Nop{}
	if cfg.Slack.Token != "" {
		alerter = alert.NewSlack(cfg.Slack.Token, cfg.Slack.Channel, log)
	}

	promRegistry := prometheus.NewRegistry()
	scheduler := assign.NewScheduler(checker, log)
	orch, err := ingest.New(ingest.Opts{
		DB:         gormDB,
		Guard:      dedup.NewGuard(gormDB, time.Duration(cfg.Dedup.LookupTimeoutMS)*time.Millisecond, log),
		Classifier: classify.New(cfg),
		Registry:   reg,
		Scheduler:  scheduler,
		Deals:      deal.NewSynchronizer(reg),
		Publisher:  publisher,
		Alerter:    alerter,
		Metrics:    ingest.NewMetrics(promRegistry),
		Log:        log,
	})
	if err != nil {
		return err
	}

	sw := sweeper.New(gormDB, checker, publisher, time.Duration(cfg.Dedup.RecordTTLHours)*time.Hour, log)
	if err := sw.Start(); err != nil {
		return err
	}
	defer sw.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if port <= 0 {
		port = cfg.Server.Port
	}
	return httpapi.Start(ctx, httpapi.StartOpts{
		DB:           gormDB,
		Orchestrator: orch,
		Scheduler:    scheduler,
		Port:         port,
		Registry:     promRegistry,
		Log:          log,
	})
}

func newLogger() *logrus.Entry {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	return logrus.NewEntry(l)
}
