// Web-boiler bridge
//
// Signs in to a Centrometal web-boiler portal account, loads every
// installation, follows the portal's live feed and mirrors parameter
// values to MQTT, InfluxDB and a local HTTP/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/9a4gl/centrometal-web-boiler/internal/api"
	"github.com/9a4gl/centrometal-web-boiler/internal/bridge"
	"github.com/9a4gl/centrometal-web-boiler/internal/device"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/config"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/influxdb"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/logging"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/mqtt"
	"github.com/9a4gl/centrometal-web-boiler/internal/infrastructure/stomp"
	"github.com/9a4gl/centrometal-web-boiler/internal/portal"
	"github.com/9a4gl/centrometal-web-boiler/internal/session"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

// startupTimeout bounds login plus the configuration snapshot.
const startupTimeout = 2 * time.Minute

var errNoInstallations = errors.New("portal account has no installations")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting web-boiler bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	portalClient, err := portal.New(cfg.Portal)
	if err != nil {
		return fmt.Errorf("creating portal client: %w", err)
	}
	portalClient.SetLogger(log.Component("portal"))

	transport := session.StompTransport(stomp.OptionsFromConfig(cfg.Stomp), log.Component("stomp"))
	ctrl := session.New(portalClient, routingFromConfig(cfg.Stomp), transport, sessionOptionsFromConfig(cfg.Session))
	ctrl.SetLogger(log.Component("session"))
	defer func() {
		log.Info("closing session")
		if closeErr := ctrl.Close(); closeErr != nil {
			log.Error("error closing session", "error", closeErr)
		}
	}()

	if err := loadAccount(ctx, ctrl); err != nil {
		return err
	}
	log.Info("account loaded", "devices", ctrl.Devices().Len())

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var (
		mqttClient *mqtt.Client
		mqttBridge *bridge.Bridge
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		mqttBridge, err = startBridge(ctx, cfg, ctrl, mqttClient, influxClient, log)
		if err != nil {
			return fmt.Errorf("starting MQTT bridge: %w", err)
		}
		defer mqttBridge.Stop()
	} else {
		log.Info("MQTT bridge disabled")
	}

	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("api"))
		ctrl.Devices().Subscribe(hub.HandleUpdate)

		deps := api.Deps{
			Config:       cfg.API,
			WS:           cfg.WebSocket,
			Logger:       log.Component("api"),
			Controller:   ctrl,
			Hub:          hub,
			RefreshDelay: cfg.GetRefreshDelay(),
			Version:      version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		if influxClient != nil {
			deps.History = influxClient
		}
		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// Deferred last so it runs first: the feed stops before the API,
	// bridge, MQTT and InfluxDB sinks it writes to are closed.
	defer stopFeed(ctrl, log)

	ctrl.SetConnectivityCallback(func(connected bool) {
		if mqttBridge != nil {
			mqttBridge.HandleConnectivity(connected)
		} else if influxClient != nil {
			influxClient.WriteConnectivity(cfg.Portal.Username, connected)
		}
		if hub != nil {
			hub.HandleConnectivity(connected)
		}
	})

	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if err := ctrl.StartWebsocket(ctx, nil, cfg.Session.AutoReconnect); err != nil {
		if !cfg.Session.AutoReconnect {
			return fmt.Errorf("starting live feed: %w", err)
		}
		log.Warn("live feed start failed, retrying in background", "error", err)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	if interval := cfg.GetReloginInterval(); interval > 0 {
		reloginLoop(ctx, ctrl, interval, cfg.Session.AutoReconnect, log)
	} else {
		<-ctx.Done()
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// feedStopper stops the live feed and its reconnect loop.
type feedStopper interface {
	StopWebsocket() error
}

func stopFeed(ctrl feedStopper, log *logging.Logger) {
	log.Info("stopping live feed")
	if err := ctrl.StopWebsocket(); err != nil {
		log.Error("error stopping live feed", "error", err)
	}
}

// accountLoader is the part of the session controller used at startup
// and by the relogin loop.
type accountLoader interface {
	Login(ctx context.Context) error
	Relogin(ctx context.Context) error
	GetConfiguration(ctx context.Context) (bool, error)
	StartWebsocket(ctx context.Context, onUpdate device.UpdateFunc, autoReconnect bool) error
}

// loadAccount signs in and loads the configuration snapshot.
func loadAccount(ctx context.Context, ctrl accountLoader) error {
	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := ctrl.Login(ctx); err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	ok, err := ctrl.GetConfiguration(ctx)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if !ok {
		return errNoInstallations
	}
	return nil
}

// reloginLoop periodically replaces the HTTP session, reloads the
// configuration and restarts the live feed. It returns when ctx is done.
func reloginLoop(ctx context.Context, ctrl accountLoader, interval time.Duration, autoReconnect bool, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		log.Info("forced relogin")
		if err := relogin(ctx, ctrl, autoReconnect); err != nil {
			log.Error("relogin failed", "error", err)
		}
	}
}

func relogin(ctx context.Context, ctrl accountLoader, autoReconnect bool) error {
	rctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := ctrl.Relogin(rctx); err != nil {
		return err
	}
	if _, err := ctrl.GetConfiguration(rctx); err != nil {
		return err
	}
	return ctrl.StartWebsocket(ctx, nil, autoReconnect)
}

// startBridge wires the MQTT bridge to the session controller.
func startBridge(ctx context.Context, cfg *config.Config, ctrl *session.Controller, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) (*bridge.Bridge, error) {
	opts := bridge.Options{
		Topics:       mqttClient.Topics(),
		Publisher:    mqttClient,
		Controller:   ctrl,
		Username:     cfg.Portal.Username,
		RefreshDelay: cfg.GetRefreshDelay(),
		Logger:       log.Component("bridge"),
	}
	if influxClient != nil {
		opts.History = influxClient
	}

	b, err := bridge.New(opts)
	if err != nil {
		return nil, err
	}
	if err := b.Start(ctx); err != nil {
		b.Stop()
		return nil, err
	}
	return b, nil
}

// getConfigPath returns the configuration file path.
// Uses WEBBOILER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WEBBOILER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the optional infrastructure connections.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
