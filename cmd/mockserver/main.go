// Command mockserver is a small authoritative game server speaking the same
// frame protocol as the client, over raw TCP and WebSocket. It exists for
// local development and end-to-end tests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outpost.client/internal/transport"
	"outpost.client/internal/transport/tcp"
	"outpost.client/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":7400", "raw tcp listen address")
		wsAddr     = flag.String("ws_addr", ":7401", "http listen address for /v1/ws (empty to disable)")
		tickRate   = flag.Int("tick_rate", 10, "world ticks (and gamestate pushes) per second")
		zombies    = flag.Int("zombies", 6, "number of wandering zombies")
		trees      = flag.Int("trees", 12, "number of usable objects")
		maxPlayers = flag.Int("max_players", 8, "reject joins beyond this many players (0 = unlimited)")
		seed       = flag.Int64("seed", 1337, "world seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[mockserver] ", log.LstdFlags|log.Lmicroseconds)

	w := newWorld(worldConfig{
		TickRateHz: *tickRate,
		Zombies:    *zombies,
		Trees:      *trees,
		MaxPlayers: *maxPlayers,
		Seed:       *seed,
	}, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	ln, err := tcp.Listen(*addr, transport.ConnOptions{})
	if err != nil {
		logger.Fatalf("listen %s: %v", *addr, err)
	}
	go acceptLoop(ln, w, logger)
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	logger.Printf("tcp listening on %s", ln.Addr())

	if *wsAddr == "" {
		<-ctx.Done()
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := w.Metrics()
		fmt.Fprintf(rw, "# TYPE outpost_mock_tick gauge\n")
		fmt.Fprintf(rw, "outpost_mock_tick %d\n", m.Tick)
		fmt.Fprintf(rw, "# TYPE outpost_mock_players gauge\n")
		fmt.Fprintf(rw, "outpost_mock_players %d\n", m.Players)
		fmt.Fprintf(rw, "# TYPE outpost_mock_broadcast_dropped_total counter\n")
		fmt.Fprintf(rw, "outpost_mock_broadcast_dropped_total %d\n", m.Dropped)
	})
	mux.HandleFunc("/v1/ws", ws.NewServer(w.serve, transport.ConnOptions{}, logger).Handler())

	srv := &http.Server{
		Addr:              *wsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Printf("ws listening on %s/v1/ws", *wsAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("listen: %v", err)
	}
}

func acceptLoop(ln *tcp.Listener, w *world, logger *log.Logger) {
	for {
		s, remote, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Printf("accept: %v", err)
			continue
		}
		go w.serve(s, remote.String())
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
