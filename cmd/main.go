// File: main.go

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"adaptive-proxy/pkg/config"
	"adaptive-proxy/pkg/database"
	"adaptive-proxy/pkg/identity"
	"adaptive-proxy/pkg/models"
	"adaptive-proxy/pkg/routestore"
)

var (
	debugFlag  bool
	configFile string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "adaptive-proxy",
	Short: "A forward HTTP/HTTPS proxy that picks a working route per site and network",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set up logging based on the debug flag
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default: config.yaml in ., $HOME/.adaptive-proxy or /etc/adaptive-proxy)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(warmupCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.adaptive-proxy")
		viper.AddConfigPath("/etc/adaptive-proxy/")
	}

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		os.Exit(1)
	}
}

// loadCatalog decodes and validates the configuration file.
func loadCatalog(ctx context.Context) (*config.Settings, *config.Catalog, error) {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	catalog, err := config.NewCatalog(ctx, settings)
	if err != nil {
		return nil, nil, err
	}
	return settings, catalog, nil
}

// openStore opens the route cache over the configured database. The returned
// function flushes pending writes and closes everything.
func openStore(ctx context.Context, settings *config.Settings) (*routestore.Store, func(), error) {
	var backend routestore.Backend
	var db *database.DB
	if settings.Database.Driver != "memory" {
		var err error
		db, err = initDB(ctx, settings.Database)
		if err != nil {
			return nil, nil, err
		}
		backend = db
	}

	store, err := routestore.New(ctx, backend, settings.Routes.TTL, routestore.WithLogger(logger))
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, err
	}

	closeFn := func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing route store", "error", err)
		}
		if db != nil {
			db.Close()
		}
	}
	return store, closeFn, nil
}

func initDB(ctx context.Context, cfg config.DatabaseSettings) (*database.DB, error) {
	db, err := database.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	err = db.InitSchema(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return db, nil
}

func newIdentityProvider(settings *config.Settings) *identity.Provider {
	var f identity.Fingerprinter = identity.InterfaceFingerprinter{}
	if settings.Identity.Static != "" {
		f = identity.StaticFingerprinter{Identity: models.ParseNetworkIdentity(settings.Identity.Static)}
	}
	return identity.NewProvider(f, settings.Identity.Debounce, logger)
}

// resolveProfile returns the named profile, or the one the host is on now.
func resolveProfile(catalog *config.Catalog, provider *identity.Provider, name string) (models.NetworkProfile, error) {
	if name != "" {
		return catalog.Profile(name)
	}
	return identity.NewProfileResolver(provider, catalog).CurrentProfile()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
