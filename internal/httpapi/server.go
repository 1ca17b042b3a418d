// Package httpapi exposes the routing core over HTTP: channel webhooks for
// inbound messages, conversation operations for the inbox UI, and the
// health/metrics endpoints.
package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/zapdesk/zapdesk/internal/assign"
	"github.com/zapdesk/zapdesk/internal/ingest"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB           *gorm.DB
	Orchestrator *ingest.Orchestrator
	Scheduler    *assign.Scheduler
	Port         int
	Registry     *prometheus.Registry // nil skips the /metrics endpoint
	Log          *logrus.Entry
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := newRouter(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Log != nil {
		opts.Log.WithField("port", opts.Port).Info("http api listening")
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

// newRouter validates the options and builds the Gin engine. Split from
// Start so tests can drive the routes without a listener.
func newRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("httpapi: db is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("httpapi: orchestrator is required")
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("httpapi: scheduler is required")
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}
