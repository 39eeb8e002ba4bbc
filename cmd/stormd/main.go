// Stormd serves a small demo site with the stormhttp server.
//
//	stormd -addr :8080
//	stormd -addr :8443 -tls-cert cert.pem -tls-key key.pem
//	stormd -engine gnet -multicore
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jennifer-Brigman/stormhttp/router"
	"github.com/Jennifer-Brigman/stormhttp/server"
)

func main() {
	var (
		addr           = flag.String("addr", ":8080", "listen address")
		certFile       = flag.String("tls-cert", "", "TLS certificate file")
		keyFile        = flag.String("tls-key", "", "TLS key file")
		engine         = flag.String("engine", "std", "connection engine: std or gnet")
		multicore      = flag.Bool("multicore", false, "one gnet event loop per CPU")
		minCompression = flag.Int("min-compression", router.DefaultMinCompressionLength, "smallest body to compress, negative disables")
		serverHeader   = flag.String("server-header", router.DefaultServerHeader, `Server header value, "-" omits it`)
		maxBody        = flag.Int("max-body", 8<<20, "largest accepted request body in bytes")
		idle           = flag.Duration("idle-timeout", 2*time.Minute, "close connections idle this long")
		level          = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()

	r, err := newRouter(router.Config{
		MinCompressionLength: *minCompression,
		ServerHeader:         *serverHeader,
		Logger:               &logger,
	}, time.Now())
	if err != nil {
		logger.Fatal().Err(err).Msg("building routes failed")
	}

	cfg := server.Config{
		Addr:         *addr,
		MaxBodyBytes: *maxBody,
		IdleTimeout:  *idle,
		Logger:       &logger,
	}
	if *certFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("loading TLS key pair failed")
		}
		cfg.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch *engine {
	case "std":
		err = server.New(r, cfg).ListenAndServe(ctx)
	case "gnet":
		if cfg.TLSConfig != nil {
			logger.Fatal().Msg("the gnet engine does not serve TLS")
		}
		err = server.NewEventServer(r, cfg, *multicore).Run(ctx)
	default:
		logger.Fatal().Str("engine", *engine).Msg("unknown engine")
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}
