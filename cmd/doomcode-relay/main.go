// Command doomcode-relay runs the stateless two-party rendezvous relay.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doomcode/doomcode/internal/relay"
	"github.com/rs/zerolog"
)

func main() {
	log := newLogger()

	addr := os.Getenv("DOOMCODE_RELAY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := relay.NewServer(log)

	stop := make(chan struct{})
	srv.StartSweeper(time.Minute, stop)
	defer close(stop)

	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	go func() {
		log.Info().Str("addr", addr).Msg("relay listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("relay server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("DOOMCODE_DEBUG_SESSION") == "1" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}
