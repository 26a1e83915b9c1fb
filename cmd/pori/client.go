package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/porihq/pori/config"
	"github.com/porihq/pori/connection"
	"github.com/porihq/pori/dashboard"
	"github.com/porihq/pori/event"
	"github.com/porihq/pori/logger"
	"github.com/porihq/pori/metrics"
	"github.com/porihq/pori/origin"
	"github.com/porihq/pori/retry"
	porisignal "github.com/porihq/pori/signal"
	"github.com/porihq/pori/supervisor"
	"github.com/porihq/pori/tunnelstate"
)

// resolveSettings merges defaults, the config file, environment
// variables and flags. Files have the lowest precedence, flags the
// highest; environment variables count as flag values in urfave/cli.
func resolveSettings(c *cli.Context) (config.Settings, error) {
	settings := config.Default()

	path := c.String("config")
	if path == "" {
		if found, ok := config.FindDefaultFile(); ok {
			path = found
		}
	}
	fileSetsHandshakeTimeout := false
	if path != "" {
		file, err := config.LoadFile(path)
		if err != nil {
			return settings, err
		}
		file.Apply(&settings)
		fileSetsHandshakeTimeout = file.WebSocket != nil && file.WebSocket.Timeout != nil
	}

	if c.IsSet("url") {
		settings.WebSocket.URL = c.String("url")
	}
	if c.IsSet("token") {
		settings.WebSocket.Token = c.String("token")
	}
	if c.IsSet("protocol") || c.IsSet("port") {
		settings.LocalServer.URL = config.LocalOriginURL(c.String("protocol"), c.Int("port"))
	}
	if c.IsSet("dashboard-port") {
		settings.Dashboard.Port = c.Int("dashboard-port")
	}
	if c.IsSet("timeout") {
		timeout := time.Duration(c.Uint("timeout")) * time.Second
		settings.LocalServer.Timeout = timeout
		// The flag is the shared default for both deadlines; an explicit
		// websocket.timeout in the file keeps its value.
		if !fileSetsHandshakeTimeout {
			settings.WebSocket.Timeout = timeout
		}
	}
	if c.IsSet("max-reconnects") {
		settings.WebSocket.MaxReconnects = c.Uint("max-reconnects")
	}
	if c.IsSet("verify-ssl") {
		settings.LocalServer.VerifySSL = c.Bool("verify-ssl")
	}
	if c.IsSet("max-connections") {
		settings.LocalServer.MaxConnections = c.Int("max-connections")
	}
	if c.IsSet("http-version") {
		settings.LocalServer.HTTPVersion = c.String("http-version")
	}
	if c.IsSet("no-dashboard") {
		settings.NoDashboard = c.Bool("no-dashboard")
	}
	if c.IsSet("loglevel") {
		settings.Logging.Level = c.String("loglevel")
	}
	if c.IsSet("logfile") {
		settings.Logging.File = c.String("logfile")
	}

	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

func run(c *cli.Context) error {
	settings, err := resolveSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), exitCodeConfig)
	}

	log := logger.Create(&logger.Config{
		MinLevel: settings.Logging.Level,
		NoColor:  !settings.Logging.EnableColor,
		Filename: settings.Logging.File,
	})

	httpVersion, err := origin.ParseHTTPVersion(settings.LocalServer.HTTPVersion)
	if err != nil {
		return cli.Exit(err.Error(), exitCodeConfig)
	}
	forwarder, err := origin.NewForwarder(origin.Config{
		OriginURL:      settings.LocalServer.URL,
		Timeout:        settings.LocalServer.Timeout,
		ConnectTimeout: settings.LocalServer.ConnectTimeout,
		MaxConnections: settings.LocalServer.MaxConnections,
		VerifySSL:      settings.LocalServer.VerifySSL,
		HTTPVersion:    httpVersion,
	}, log)
	if err != nil {
		return cli.Exit(err.Error(), exitCodeConfig)
	}

	shutdown := porisignal.New()
	go waitForSignal(shutdown, log)

	bus := event.NewBus()
	defer bus.Close()

	tracker := tunnelstate.NewTracker(log)
	promMetrics := metrics.New()

	sup := supervisor.New(supervisor.Config{
		Connection: connection.Config{
			TunnelID:         "default-tunnel",
			ClientID:         clientID(),
			URL:              settings.WebSocket.URL,
			Token:            settings.WebSocket.Token,
			HandshakeTimeout: settings.WebSocket.Timeout,
			PingInterval:     settings.WebSocket.PingInterval,
			PongTimeout:      settings.WebSocket.PongTimeout,
		},
		Retry: retryPolicy(settings.WebSocket.MaxReconnects),
	}, forwarder, bus, tracker, shutdown, log)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	trackerEvents, cancelTracker := bus.Subscribe()
	defer cancelTracker()
	group.Go(func() error {
		tracker.Run(trackerEvents)
		return nil
	})

	metricEvents, cancelMetrics := bus.Subscribe()
	defer cancelMetrics()
	group.Go(func() error {
		promMetrics.Run(metricEvents)
		return nil
	})

	if !settings.NoDashboard {
		server := dashboard.NewServer(settings, tracker, sup, shutdown, promMetrics.Handler(), log)
		dashEvents, cancelDash := bus.Subscribe()
		defer cancelDash()
		group.Go(func() error {
			server.Observe(dashEvents)
			return nil
		})
		group.Go(func() error {
			return server.Run(ctx)
		})
	}

	var tunnelErr error
	group.Go(func() error {
		tunnelErr = sup.Run(ctx)
		// Unblock the other members once the tunnel is gone for good:
		// closing the bus ends every subscriber loop, the signal and
		// cancel stop the servers.
		shutdown.Notify()
		cancel()
		bus.Close()
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error().Err(err).Msg("Shutdown with error")
		return cli.Exit(err.Error(), exitCodeFatal)
	}
	if tunnelErr != nil {
		return cli.Exit(tunnelErr.Error(), exitCodeFatal)
	}
	log.Info().Msg("Shutdown complete")
	return nil
}

func retryPolicy(maxReconnects uint) retry.Policy {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = maxReconnects
	return policy
}

// clientID labels this client in frame envelopes. The hostname makes
// concurrent clients distinguishable on the server side.
func clientID() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "pori-client"
	}
	return "pori-" + hostname
}

// waitForSignal translates SIGINT and SIGTERM into the shutdown signal
// every goroutine observes. A second signal aborts immediately.
func waitForSignal(shutdown *porisignal.Signal, log *zerolog.Logger) {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	s := <-signals
	log.Info().Str("signal", s.String()).Msg("Initiating graceful shutdown")
	shutdown.Notify()

	s = <-signals
	log.Fatal().Str("signal", s.String()).Msg("Forced shutdown")
}
