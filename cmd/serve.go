package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"endobit.io/preheat"
)

type serviceConfig struct {
	Broker   string                `mapstructure:"broker"`
	ClientID string                `mapstructure:"client_id"`
	Listen   string                `mapstructure:"listen"`
	StateDir string                `mapstructure:"state_dir"`
	Redis    redisConfig           `mapstructure:"redis"`
	Advisor  preheat.AdvisorConfig `mapstructure:"advisor"`
	Zones    []zoneEntry           `mapstructure:"zones"`
}

type redisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type zoneEntry struct {
	preheat.ZoneConfig `mapstructure:",squash"`
	Topics             preheat.ZoneTopics `mapstructure:"topics"`
}

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := cobra.Command{
		Use:   "serve",
		Short: "Run the preheating service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file")

	return &cmd
}

func loadConfig(file string) (*serviceConfig, error) {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("preheat")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/preheat")
	}

	v.SetEnvPrefix("PREHEAT")
	v.AutomaticEnv()

	v.SetDefault("broker", "tcp://localhost:1883")
	v.SetDefault("client_id", "preheat")
	v.SetDefault("listen", ":9090")
	v.SetDefault("state_dir", "state")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg serviceConfig

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if len(cfg.Zones) == 0 {
		return nil, errors.New("no zones configured")
	}

	return &cfg, nil
}

func serve(ctx context.Context, cfg *serviceConfig) error {
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	advisor, err := preheat.NewAdvisor(cfg.Advisor)
	if err != nil {
		return err
	}

	bus := preheat.NewBus(cfg.Broker,
		preheat.WithBusLogger(logger),
		preheat.ClientID(cfg.ClientID))

	if err := bus.Connect(); err != nil {
		return err
	}
	defer bus.Close()

	zones := make([]*preheat.Zone, 0, len(cfg.Zones))

	for _, entry := range cfg.Zones {
		feed, err := preheat.NewZoneFeed(bus, logger, entry.Topics)
		if err != nil {
			return fmt.Errorf("zone %s: %w", entry.Name, err)
		}

		zone := preheat.NewZone(entry.ZoneConfig, feed, feed, store,
			preheat.WithZoneLogger(logger),
			preheat.WithAdvisor(advisor))

		zones = append(zones, zone)
	}

	var wg sync.WaitGroup

	for _, zone := range zones {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := zone.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("zone stopped", "zone", zone.Name(), "error", err)
			}
		}()
	}

	server := statusServer(cfg.Listen, zones)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server failed", "error", err)
		}
	}()

	logger.Info("preheat service started",
		"broker", cfg.Broker, "listen", cfg.Listen, "zones", len(zones))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	wg.Wait()

	return nil
}

func newStore(cfg *serviceConfig) (preheat.Store, error) {
	if cfg.Redis.Addr != "" {
		return preheat.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	}

	return preheat.NewFileStore(cfg.StateDir)
}

func statusServer(listen string, zones []*preheat.Zone) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("GET /zones", func(w http.ResponseWriter, _ *http.Request) {
		snaps := make([]preheat.Snapshot, len(zones))
		for i, z := range zones {
			snaps[i] = z.SnapshotNow()
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snaps)
	})

	return &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
