// Copyright 2021 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// The xmppping command logs in to an XMPP server and pings an entity, printing
// the round trip time of every reply.
//
// The account is read from a YAML config file or from the environment.
// For more information try running:
//
//     xmppping -help
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"mellium.im/sasl"

	"mellium.im/xmppc"
	"mellium.im/xmppc/compress"
	"mellium.im/xmppc/jid"
	"mellium.im/xmppc/mux"
	"mellium.im/xmppc/ping"
	"mellium.im/xmppc/provider"
)

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	var (
		configPath string
		verbose    bool
		logXML     bool
		count      int
	)
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	flags.Usage = func() {
		fmt.Fprintf(flags.Output(), "Usage of %s: [options] [jid]\n", flags.Name())
		fmt.Fprintf(flags.Output(), "\n  $%s: The JID to log in as if not set in the config file\n  $%s: The password\n\n", envAddr, envPass)
		flags.PrintDefaults()
	}
	flags.StringVar(&configPath, "config", configPath, "the YAML config file to load")
	flags.IntVar(&count, "c", -1, "the number of pings to send, overrides the config file")
	flags.BoolVar(&verbose, "v", verbose, "turns on verbose debug logging")
	flags.BoolVar(&logXML, "vv", logXML, "turns on verbose debug and XML logging")

	switch err := flags.Parse(os.Args[1:]); err {
	case flag.ErrHelp:
		return
	case nil:
	default:
		logger.Fatal(err)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Fatal(err)
	}
	cfg.fromEnv()
	if count >= 0 {
		cfg.Count = count
	}
	addr, level, err := cfg.validate()
	if err != nil {
		logger.Fatal(err)
	}
	logger.SetLevel(level)
	switch {
	case logXML:
		logger.SetLevel(logrus.TraceLevel)
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	}

	target := addr.Domain()
	if flags.NArg() > 0 {
		target, err = jid.Parse(flags.Arg(0))
		if err != nil {
			logger.Fatalf("error parsing target %q: %v", flags.Arg(0), err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT and stop pinging.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	go func() {
		select {
		case <-ctx.Done():
		case <-sigs:
			cancel()
		}
	}()

	if err := run(ctx, cfg, addr, target, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, cfg config, addr, target jid.JID, logger *logrus.Logger) error {
	dial, err := cfg.dialer(addr)
	if err != nil {
		return err
	}

	var metrics *xmppc.Metrics
	if cfg.Metrics != "" {
		reg := prometheus.NewRegistry()
		metrics, err = xmppc.NewMetrics(reg)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Addr:              cfg.Metrics,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithField("error", err).Warn("error serving metrics")
			}
		}()
		defer srv.Close()
	}

	registry := provider.NewDefault(logger)
	ping.Register(registry)

	conn, err := xmppc.NewConn(xmppc.Config{
		Origin: addr,
		Dial:   dial,
		Features: []xmppc.StreamFeature{
			xmppc.StartTLS(nil),
			xmppc.SASL("", cfg.Password, sasl.ScramSha256Plus, sasl.ScramSha1Plus, sasl.ScramSha256, sasl.ScramSha1, sasl.Plain),
			compress.New(),
			xmppc.BindResource(),
		},
		Registry:     registry,
		Logger:       logger,
		Metrics:      metrics,
		IQHandler:    mux.NewIQMux(mux.GetIQ(ping.Ping{}.Name(), ping.Handler)),
		ReplyTimeout: cfg.Timeout,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("error connecting: %w", err)
	}
	logger.WithField("jid", conn.LocalAddr()).Debug("logged in")

	limiter := rate.NewLimiter(rate.Every(cfg.Interval), 1)
	var sent, received int
	for i := 0; cfg.Count == 0 || i < cfg.Count; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		sent++
		rtt, err := ping.Send(ctx, conn, target)
		switch {
		case errors.Is(err, context.Canceled):
		case err != nil:
			fmt.Printf("ping %s: seq=%d error: %v\n", target, i, err)
		default:
			received++
			fmt.Printf("pong from %s: seq=%d time=%s\n", target, i, rtt.Round(time.Microsecond))
		}
	}
	fmt.Printf("%d pings sent, %d replies received\n", sent, received)

	// The disconnect is not bound by ctx so that an interrupted run still closes
	// its stream.
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	return conn.Disconnect(closeCtx)
}
