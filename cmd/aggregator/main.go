// Command aggregator runs the Aggregator service: it consolidates the
// Deployer's and Transitioner's status plus the versions repo's commit
// history, fans it out over websocket, and serves the deploy endpoint and
// UI, per §4.8/§4.9.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gitops-dm/dm/internal/aggregator"
	"github.com/gitops-dm/dm/internal/gitopsconfig"
	"github.com/gitops-dm/dm/internal/httpapi"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

func main() {
	root := &cobra.Command{
		Use:   "aggregator",
		Short: "Consolidate deployer/transitioner status and serve the dashboard UI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("aggregator exited")
	}
}

// httpClientTimeout bounds each poll the watch loops make against the
// deployer/transitioner status endpoints.
const httpClientTimeout = 5 * time.Second

func run(ctx context.Context) error {
	cfg, err := gitopsconfig.LoadAggregator()
	if err != nil {
		return err
	}

	repo, err := versionsrepo.Open(ctx, versionsrepo.Config{
		Name:             "aggregator",
		CheckoutPath:     cfg.VersionsCheckoutPath,
		UpstreamURL:      cfg.VersionsURL,
		MaxAncestorDepth: cfg.MaxAncestorDepth,
	})
	if err != nil {
		return err
	}

	if cfg.DeployerURL == "" {
		logrus.Warn("DEPLOYER_URL not set, deployer watch is a no-op")
	}
	if cfg.TransitionerURL == "" {
		logrus.Warn("TRANSITIONER_URL not set, transitioner watch is a no-op")
	}

	hub := aggregator.NewHub()
	client := &http.Client{Timeout: httpClientTimeout}

	router := httpapi.NewRouter()
	aggregator.RegisterRoutes(router, hub, repo, cfg.UIPath)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return aggregator.RunVersionsWatch(ctx, hub, repo) })
	g.Go(func() error { return aggregator.RunDeployerWatch(ctx, hub, cfg.DeployerURL, client) })
	g.Go(func() error { return aggregator.RunTransitionerWatch(ctx, hub, cfg.TransitionerURL, client) })
	g.Go(func() error { return httpapi.Serve(ctx, cfg.APIPort, router) })
	return g.Wait()
}
