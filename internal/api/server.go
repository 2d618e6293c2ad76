// Package api exposes the session and task operations over HTTP for the
// upstream producers and the external send workers.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parley-io/parley/internal/session"
	"github.com/parley-io/parley/internal/task"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Sessions   *session.Manager
	Dispatcher *task.Dispatcher
	// MaxInactive is the inactivity window used by the batch endpoint's
	// continuity decision.
	MaxInactive time.Duration
	Port        int
	Out         io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	if opts.Port <= 0 {
		opts.Port = 8000
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// NewRouter builds the Gin router with all routes registered. Split from
// Start so tests can drive it with httptest.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("api: session manager is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("api: dispatcher is required")
	}
	if opts.MaxInactive <= 0 {
		opts.MaxInactive = 2 * time.Hour
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}
