// Command transitioner runs the Transitioner service: it evaluates each
// configured promotion rule in declaration order and mirrors versions
// across environments once preconditions allow it, per §4.6/§4.7.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/gitops-dm/dm/internal/gitopsconfig"
	"github.com/gitops-dm/dm/internal/httpapi"
	"github.com/gitops-dm/dm/internal/transitioner"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

func main() {
	var pollInterval time.Duration

	root := &cobra.Command{
		Use:   "transitioner",
		Short: "Promote versions across environments according to configured rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), pollInterval)
		},
	}
	var flags *pflag.FlagSet = root.PersistentFlags()
	flags.DurationVar(&pollInterval, "poll-interval", transitioner.DefaultPollInterval, "interval between rule evaluation ticks")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("transitioner exited")
	}
}

func run(ctx context.Context, pollInterval time.Duration) error {
	cfg, err := gitopsconfig.LoadTransitioner()
	if err != nil {
		return err
	}

	rules, err := transitioner.LoadRules(cfg.TransitionsConfigPath)
	if err != nil {
		return err
	}

	repo, err := versionsrepo.Open(ctx, versionsrepo.Config{
		Name:             "transitioner",
		CheckoutPath:     cfg.VersionsCheckoutPath,
		UpstreamURL:      cfg.VersionsURL,
		MaxAncestorDepth: cfg.MaxAncestorDepth,
	})
	if err != nil {
		return err
	}

	logrus.WithField("rules", len(rules)).Info("transitioner starting")

	loop := transitioner.NewLoop(repo, rules, cfg.DeployerURL, pollInterval)

	router := httpapi.NewRouter()
	loop.RegisterRoutes(router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return httpapi.Serve(ctx, cfg.APIPort, router) })
	return g.Wait()
}
