package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"adaptive-proxy/pkg/config"
	"adaptive-proxy/pkg/dialer"
	"adaptive-proxy/pkg/models"
	"adaptive-proxy/pkg/probe"
	"adaptive-proxy/pkg/router"
	"adaptive-proxy/pkg/routestore"
	"adaptive-proxy/pkg/tester"
)

var probeCmd = &cobra.Command{
	Use:     "probe [site]",
	Short:   "Probe every configuration of a site's queue and show the winner",
	Example: "probe example.com --profile home --save",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		profileName, _ := cmd.Flags().GetString("profile")
		save, _ := cmd.Flags().GetBool("save")

		if err := runProbe(cmd.Context(), cmd.OutOrStdout(), models.NewSite(args[0]), profileName, save); err != nil {
			logger.Error("Error probing site", "site", args[0], "error", err)
			os.Exit(1)
		}
	},
}

func runProbe(ctx context.Context, out io.Writer, site models.Site, profileName string, save bool) error {
	settings, catalog, err := loadCatalog(ctx)
	if err != nil {
		return err
	}

	provider := newIdentityProvider(settings)
	defer provider.Close()
	profile, err := resolveProfile(catalog, provider, profileName)
	if err != nil {
		return err
	}

	var store *routestore.Store
	if save {
		var closeStore func()
		store, closeStore, err = openStore(ctx, settings)
		if err != nil {
			return err
		}
		defer closeStore()
	} else {
		store, err = routestore.New(ctx, nil, settings.Routes.TTL, routestore.WithLogger(logger))
		if err != nil {
			return err
		}
		defer store.Close()
	}

	prober := probe.NewProber(dialer.New(logger), logger)
	engine := router.New(catalog, store, prober, router.WithLogger(logger))
	defer engine.Close()

	var d router.Decision
	if save {
		d, err = engine.Refresh(ctx, site, profile)
	} else {
		d, err = engine.Decide(ctx, site, profile)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "site %s, profile %s, queue %s\n", site, profile, d.Queue.Name)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONFIGURATION\tUPSTREAM\tRESULT")
	for i, cfg := range d.Queue.Configurations {
		result := "not probed"
		if i < len(d.Results) {
			result = d.Results[i].String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", cfg.Name, cfg.UpstreamString(), result)
	}
	w.Flush()

	if cfg, ok := d.Configuration(); ok {
		fmt.Fprintf(out, "winner: %s\n", cfg.Name)
	} else {
		fmt.Fprintln(out, "winner: none")
	}
	return nil
}

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Inspect and maintain recorded routes",
}

var routesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded routes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runRoutesList(cmd.Context(), cmd.OutOrStdout()); err != nil {
			logger.Error("Error listing routes", "error", err)
			os.Exit(1)
		}
	},
}

func runRoutesList(ctx context.Context, out io.Writer) error {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer closeStore()

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tPROFILE\tCONFIGURATION\tVALID UNTIL\tSTATE")
	for _, e := range store.Routes() {
		state := "fresh"
		if !e.Valid(now) {
			state = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Site, e.Profile, e.Configuration, e.ValidUntil.Local().Format(time.RFC3339), state)
	}
	return w.Flush()
}

var routesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete routes expired for longer than the retention period",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		retention, _ := cmd.Flags().GetDuration("retention")
		if err := runRoutesPrune(cmd.Context(), retention); err != nil {
			logger.Error("Error pruning routes", "error", err)
			os.Exit(1)
		}
	},
}

func runRoutesPrune(ctx context.Context, retention time.Duration) error {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if retention <= 0 {
		retention = settings.Routes.Retention
	}
	store, closeStore, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer closeStore()

	n, err := store.Prune(ctx, retention)
	if err != nil {
		return err
	}
	logger.Info("Routes pruned", "deleted", n, "retention", retention)
	return nil
}

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show the current network identity and the profile it maps to",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runIdentity(cmd.Context(), cmd.OutOrStdout()); err != nil {
			logger.Error("Error computing network identity", "error", err)
			os.Exit(1)
		}
	},
}

func runIdentity(ctx context.Context, out io.Writer) error {
	settings, catalog, err := loadCatalog(ctx)
	if err != nil {
		return err
	}
	provider := newIdentityProvider(settings)
	defer provider.Close()

	if err := provider.Refresh(); err != nil {
		return err
	}
	id, err := provider.CurrentIdentity()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "identity: %s\nprofile:  %s\n", id, catalog.ProfileForIdentity(id))
	return nil
}

var warmupCmd = &cobra.Command{
	Use:     "warmup [file]",
	Short:   "Decide and record routes for every site listed in a file",
	Example: "warmup sites.txt --workers 8",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		profileName, _ := cmd.Flags().GetString("profile")
		workers, _ := cmd.Flags().GetInt("workers")
		if err := runWarmup(cmd.Context(), args[0], profileName, workers); err != nil {
			logger.Error("Error warming routes", "error", err)
			os.Exit(1)
		}
	},
}

func runWarmup(ctx context.Context, filename, profileName string, workers int) error {
	sites, err := tester.ReadSitesFile(filename)
	if err != nil {
		return err
	}
	settings, catalog, err := loadCatalog(ctx)
	if err != nil {
		return err
	}

	provider := newIdentityProvider(settings)
	defer provider.Close()
	profile, err := resolveProfile(catalog, provider, profileName)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, settings)
	if err != nil {
		return err
	}
	defer closeStore()

	engine := router.New(catalog, store, probe.NewProber(dialer.New(logger), logger), router.WithLogger(logger))
	defer engine.Close()

	_, err = tester.WarmUp(ctx, engine, profile, sites, workers, logger)
	return err
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Validate the configuration and print the effective settings",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		settings, _, err := loadCatalog(cmd.Context())
		if err != nil {
			logger.Error("Invalid configuration", "error", err)
			os.Exit(1)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			logger.Error("Error printing configuration", "error", err)
			os.Exit(1)
		}
		enc.Close()
	},
}

func init() {
	probeCmd.Flags().String("profile", "", "Network profile to probe for (default: the current one)")
	probeCmd.Flags().Bool("save", false, "Record the winner as the route")

	routesPruneCmd.Flags().Duration("retention", 0, "Keep routes expired for less than this (default: routes.retention)")
	routesCmd.AddCommand(routesListCmd)
	routesCmd.AddCommand(routesPruneCmd)

	warmupCmd.Flags().String("profile", "", "Network profile to warm (default: the current one)")
	warmupCmd.Flags().Int("workers", tester.DefaultWorkers, "Number of sites probed concurrently")

	configCmd.AddCommand(configShowCmd)
}
