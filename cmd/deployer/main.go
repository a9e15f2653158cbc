// Command deployer runs the Deployer service: it reconciles every
// environment named in /deployers.yaml against the versions repo, polling
// each cluster until its rollout settles, per §4.5.
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

	"github.com/gitops-dm/dm/internal/cluster"
	"github.com/gitops-dm/dm/internal/deployerloop"
	"github.com/gitops-dm/dm/internal/gitopsconfig"
	"github.com/gitops-dm/dm/internal/httpapi"
	"github.com/gitops-dm/dm/internal/versionsrepo"
)

func main() {
	var pollInterval time.Duration

	root := &cobra.Command{
		Use:   "deployer",
		Short: "Reconcile cluster state against the versions repo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), pollInterval)
		},
	}
	var flags *pflag.FlagSet = root.PersistentFlags()
	flags.DurationVar(&pollInterval, "poll-interval", deployerloop.DefaultPollInterval, "interval between reconcile ticks")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("deployer exited")
	}
}

func run(ctx context.Context, pollInterval time.Duration) error {
	cfg, err := gitopsconfig.LoadDeployer()
	if err != nil {
		return err
	}

	repo, err := versionsrepo.Open(ctx, versionsrepo.Config{
		Name:             "deployer",
		CheckoutPath:     cfg.VersionsCheckoutPath,
		UpstreamURL:      cfg.VersionsURL,
		MaxAncestorDepth: cfg.MaxAncestorDepth,
	})
	if err != nil {
		return err
	}

	deployersConfig, err := cluster.LoadDeployersConfig(repo)
	if err != nil {
		return err
	}

	drivers := make(map[string]cluster.Driver, len(deployersConfig))
	for env, envCfg := range deployersConfig {
		driver, err := cluster.NewKubernetesFromEnvironmentConfig(envCfg)
		if err != nil {
			return err
		}
		drivers[env] = driver
	}
	logrus.WithField("environments", len(drivers)).Info("deployer starting")

	loop := deployerloop.NewLoop(repo, drivers, pollInterval)

	router := httpapi.NewRouter()
	loop.RegisterRoutes(router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return httpapi.Serve(ctx, cfg.APIPort, router) })
	return g.Wait()
}
