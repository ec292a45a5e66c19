package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"

	http1 "github.com/widaT/http1core"
)

var (
	flagAddr        = flag.String("addr", ":8080", "HTTP service address")
	flagMaxConns    = flag.Int("maxconns", 1024, "maximum number of open connections")
	flagWorkers     = flag.Int("workers", 0, "number of connection workers (0: maxconns)")
	flagReadTimeout = flag.Duration("readtimeout", 30*time.Second, "read timeout")
	flagReqTimeout  = flag.Duration("requesttimeout", 10*time.Second, "handler timeout")
	flagMaxBody     = flag.Int64("maxbody", 1<<20, "maximum request body size")
	flagStatic      = flag.String("static", "", "directory served under /static/")
	flagDebug       = flag.Bool("debug", false, "log at debug level")
	flagProfile     = flag.Bool("profile", false, "write cpu profile to file")
)

var usage = func() {
	fmt.Fprintf(os.Stderr, "usage: http1d [flags]\n")
	flag.CommandLine.PrintDefaults()
}

func main() {
	flag.CommandLine.Usage = usage
	flag.Parse()

	if *flagProfile {
		defer profile.Start(profile.CPUProfile, profile.NoShutdownHook).Stop()
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	level := zerolog.InfoLevel
	if *flagDebug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	router := http1.NewRouter()
	registerRoutes(router, NewStore(), *flagStatic, *flagMaxBody)

	srv := http1.NewServer(router, http1.Config{
		MaxConnections: *flagMaxConns,
		Workers:        *flagWorkers,
		ReadTimeout:    *flagReadTimeout,
		RequestTimeout: *flagReqTimeout,
		MaxBodyBytes:   *flagMaxBody,
		ServerName:     "http1d",
		Logger:         &logger,
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	errc := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", *flagAddr).Msg("listening")
		errc <- srv.ListenAndServe(*flagAddr)
	}()

	select {
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	case err := <-errc:
		logger.Error().Stack().Err(err).Msg("serve")
	}
}
