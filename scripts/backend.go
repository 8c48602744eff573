// Backend is a demo upstream for trying the balancer locally.
// "/" answers with a short text naming the server, optionally after a delay,
// and "/health" always answers 200.
//
// Usage:
//
//	go run ./scripts -port 4001
//	go run ./scripts -port 4002 -delay 2s
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angeloszaimis/dispatch-balancer/internal/httpserver"
	"github.com/angeloszaimis/dispatch-balancer/pkg/logger"
)

func main() {
	port := flag.Int("port", 4001, "port to listen on")
	delay := flag.Duration("delay", 0, "time to wait before answering /")
	id := flag.Int("id", 0, "server number used in responses, defaults to port-4000")
	flag.Parse()

	if *id == 0 {
		*id = *port - 4000
	}

	log := logger.New(logger.Options{Level: "info", Environment: "dev"}).
		With(slog.Int("port", *port))

	speed := "Fast"
	if *delay > 0 {
		speed = "Slow"
	}
	reply := fmt.Sprintf("%s response from server %d", speed, *id)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		log.Info("request",
			slog.String("from", r.RemoteAddr),
			slog.String("api_type", r.Header.Get("X-Api-Type")))

		select {
		case <-time.After(*delay):
		case <-r.Context().Done():
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(reply))
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	timeouts := httpserver.DefaultTimeouts()
	srv, err := httpserver.New(fmt.Sprintf(":%d", *port), mux, timeouts)
	if err != nil {
		log.Error("invalid address", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	log.Info("Server started", slog.Duration("delay", *delay))
	if err := srv.Start(); err != nil {
		log.Error("server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
