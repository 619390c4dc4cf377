package main

import (
	"context"
	"strings"

	"analyzehub/internal/logger"
	"analyzehub/internal/server"
	"analyzehub/internal/websocket"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// ConfigKeyAPIKey is the appConfig key holding the API key.
const ConfigKeyAPIKey = "apiKey"

type serveOptions struct {
	port           int
	allowedOrigins []string
	apiKey         string
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shared analysis state over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), global, opts)
		},
	}
	cmd.Flags().IntVar(&opts.port, "port", 0, "Port to listen on (defaults to PORT, then appConfig.port, then 5600)")
	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Key required on /api routes (defaults to appConfig.apiKey)")
	cmd.Flags().StringSliceVar(&opts.allowedOrigins, "allowed-origin", nil, "Origins allowed to call the API (repeatable, default any)")
	return cmd
}

func runServe(ctx context.Context, global *globalOptions, opts *serveOptions) error {
	var a *app
	wsHub := websocket.NewHub(func() *websocket.Message {
		return websocket.NewStateMessage(a.hub.Read())
	})

	a, err := newApp(global, server.NewEventObserver(wsHub))
	if err != nil {
		return err
	}
	defer a.Close()

	port, err := a.resolvePort(opts.port)
	if err != nil {
		return err
	}

	apiKey := strings.TrimSpace(opts.apiKey)
	if apiKey == "" {
		if saved, err := a.store.GetConfig(ConfigKeyAPIKey); err == nil {
			apiKey = saved
		}
	}

	srvOpts := server.Options{
		Port:           port,
		Gate:           a.gate,
		State:          a.hub,
		WSHub:          wsHub,
		AllowedOrigins: opts.allowedOrigins,
		APIKey:         apiKey,
	}
	if a.stats != nil {
		srvOpts.History = a.stats
	}
	srv, err := server.New(srvOpts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down, waiting for the running analysis to stop")
		a.gate.Close()
		return nil
	})

	logger.Info("analyzehub is running on port %d. Press Ctrl+C to stop.", port)
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("analyzehub stopped")
	return nil
}
