// Command sail runs a single SMTP listener: accept mail for a set of
// local hostnames into Maildir, relay everything else to the domains
// it's configured to trust, and bounce what it can't deliver.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/mademast/sail/framework/address"
	"github.com/mademast/sail/framework/log"
	"github.com/mademast/sail/internal/dispatch"
	"github.com/mademast/sail/internal/maildir"
	"github.com/mademast/sail/internal/metrics"
	"github.com/mademast/sail/internal/resolver"
)

// shutdownGrace bounds how long sail waits for in-flight relay tasks
// to finish once a shutdown signal arrives.
const shutdownGrace = 30 * time.Second

func main() {
	app := &cli.App{
		Name:  "sail",
		Usage: "a small SMTP mail transfer agent",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Value: ":25", Usage: "address to accept SMTP connections on"},
			&cli.StringSliceFlag{Name: "hostname", Required: true, Usage: "domain this instance accepts local mail for (repeatable)"},
			&cli.StringSliceFlag{Name: "relay", Usage: "domain this instance is willing to relay outbound mail to (repeatable)"},
			&cli.StringFlag{Name: "maildir", Required: true, Usage: "maildir path template, e.g. /srv/mail/{destination domain}/{destination user}"},
			&cli.StringFlag{Name: "metrics-listen", Usage: "address to serve Prometheus metrics on (disabled if unset)"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("sail exited", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger := log.Logger{Out: log.WriterOutput(os.Stderr, true), Name: "sail", Debug: c.Bool("debug")}

	hostnames, err := parseDomains(c.StringSlice("hostname"))
	if err != nil {
		return fmt.Errorf("sail: bad --hostname: %w", err)
	}
	relays, err := parseDomains(c.StringSlice("relay"))
	if err != nil {
		return fmt.Errorf("sail: bad --relay: %w", err)
	}
	tpl, err := maildir.ParseTemplate(c.String("maildir"))
	if err != nil {
		return fmt.Errorf("sail: bad --maildir: %w", err)
	}

	if err := metrics.Register(nil); err != nil {
		return fmt.Errorf("sail: registering metrics: %w", err)
	}
	if addr := c.String("metrics-listen"); addr != "" {
		go serveMetrics(addr, logger)
	}

	d := dispatch.New(dispatch.Config{
		Hostnames: hostnames,
		Relays:    relays,
		Maildir:   tpl,
	}, resolver.DefaultLookup, logger)

	ln, err := net.Listen("tcp", c.String("listen"))
	if err != nil {
		return fmt.Errorf("sail: listen on %s: %w", c.String("listen"), err)
	}
	logger.Printf("listening on %s", ln.Addr())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &dispatch.Server{Dispatcher: d, Logger: logger}
	if err := srv.Serve(ctx, ln); err != nil {
		logger.Error("listener stopped", err)
	}

	logger.Printf("shutting down: draining in-flight relay tasks")
	d.Wait(shutdownGrace)
	return nil
}

func parseDomains(raw []string) ([]address.Domain, error) {
	domains := make([]address.Domain, 0, len(raw))
	for _, s := range raw {
		d, err := address.ParseDomainIDNA(s)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		domains = append(domains, d)
	}
	return domains, nil
}

func serveMetrics(addr string, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", err)
	}
}
