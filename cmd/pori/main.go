package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

var (
	Version   = "DEV"
	BuildTime = "unknown"
)

const (
	exitCodeConfig = 1
	exitCodeFatal  = 2
)

func main() {
	app := &cli.App{
		Name:    "pori",
		Usage:   "Expose a local HTTP server through a reverse WebSocket tunnel",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Description: `pori opens an outbound WebSocket connection to a cloud proxy and
forwards the requests it receives to a local HTTP server, so the local
server becomes reachable from the internet without inbound ports.`,
		Flags:  flags(),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitErr, ok := err.(cli.ExitCoder); ok {
			os.Exit(exitErr.ExitCode())
		}
		os.Exit(exitCodeFatal)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Usage:   "WebSocket `URL` of the cloud tunnel server",
			EnvVars: []string{"PORI_URL"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Authentication `TOKEN` for the tunnel server",
			EnvVars: []string{"PORI_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "protocol",
			Usage:   "Local server protocol, http or https",
			Value:   "http",
			EnvVars: []string{"PORI_PROTOCOL"},
		},
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Local server `PORT` to forward requests to",
			Value:   3000,
			EnvVars: []string{"PORI_PORT"},
		},
		&cli.IntFlag{
			Name:    "dashboard-port",
			Usage:   "`PORT` for the local dashboard API",
			Value:   7616,
			EnvVars: []string{"PORI_DASHBOARD_PORT"},
		},
		&cli.UintFlag{
			Name:    "timeout",
			Usage:   "Local request timeout in `SECONDS`",
			Value:   30,
			EnvVars: []string{"PORI_TIMEOUT"},
		},
		&cli.UintFlag{
			Name:    "max-reconnects",
			Usage:   "Give up after `N` reconnect attempts, 0 retries forever",
			Value:   0,
			EnvVars: []string{"PORI_MAX_RECONNECTS"},
		},
		&cli.BoolFlag{
			Name:    "verify-ssl",
			Usage:   "Verify the local server's TLS certificate",
			EnvVars: []string{"PORI_VERIFY_SSL"},
		},
		&cli.IntFlag{
			Name:    "max-connections",
			Usage:   "Maximum idle connections kept to the local server",
			Value:   10,
			EnvVars: []string{"PORI_MAX_CONNECTIONS"},
		},
		&cli.StringFlag{
			Name:    "http-version",
			Usage:   "HTTP version policy for the local server: auto, http1-only or http2-only",
			Value:   "http1-only",
			EnvVars: []string{"PORI_HTTP_VERSION"},
		},
		&cli.BoolFlag{
			Name:    "no-dashboard",
			Usage:   "Disable the local dashboard API",
			EnvVars: []string{"PORI_NO_DASHBOARD"},
		},
		&cli.StringFlag{
			Name:    "loglevel",
			Usage:   "Log `LEVEL`: trace, debug, info, warn, error",
			Value:   "info",
			EnvVars: []string{"PORI_LOGLEVEL"},
		},
		&cli.StringFlag{
			Name:    "logfile",
			Usage:   "Also write logs to `FILE`, with rotation",
			EnvVars: []string{"PORI_LOGFILE"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "Load settings from `FILE` instead of the default locations",
			EnvVars: []string{"PORI_CONFIG"},
		},
	}
}
