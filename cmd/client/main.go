package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"outpost.client/internal/client"
	"outpost.client/internal/config"
	"outpost.client/internal/gamestate"
	"outpost.client/internal/mathx"
	"outpost.client/internal/persistence/indexdb"
	persistlog "outpost.client/internal/persistence/log"
	"outpost.client/internal/transport"
	"outpost.client/internal/transport/tcp"
	"outpost.client/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/client.yaml", "path to client.yaml (missing file: defaults)")
		server     = flag.String("server", "", "server address, host:port for tcp or ws:// url (overrides config)")
		transp     = flag.String("transport", "", "tcp or ws (overrides config)")
		name       = flag.String("name", "", "player name (overrides config)")
		record     = flag.String("record", "", "recording directory (overrides config; \"-\" disables)")
		indexPath  = flag.String("index", "", "sqlite session index path (overrides config; \"-\" disables)")
		wander     = flag.Duration("wander", 0, "send a random nearby move this often (0 disables)")
		verbose    = flag.Bool("v", false, "log every domain event")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[client] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load config: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		cfg = config.Defaults()
	}
	override(&cfg.Server, *server)
	override(&cfg.Transport, *transp)
	override(&cfg.PlayerName, *name)
	override(&cfg.Persistence.RecordDir, *record)
	override(&cfg.Persistence.IndexDB, *indexPath)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := dial(ctx, cfg)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	sessionID := fmt.Sprintf("%s-%s", cfg.PlayerName, time.Now().UTC().Format("20060102T150405.000"))
	opts := client.Options{
		Name:             cfg.PlayerName,
		Server:           cfg.Server,
		Transport:        cfg.Transport,
		SessionID:        sessionID,
		MaxPayload:       uint32(cfg.MaxFrameBytes),
		ReadChunk:        cfg.ReadChunkBytes,
		SustainedActions: cfg.SustainedActions,
		ResyncInterval:   cfg.ResyncInterval(),
		Logger:           logger,
	}
	if dir := cfg.Persistence.RecordDir; dir != "" {
		rec := persistlog.NewFrameRecorder(dir, sessionID)
		rec.OnSegmentClosed(func(path string) { logger.Printf("recording written: %s", path) })
		opts.Recorder = rec
		logger.Printf("recording frames to %s", dir)
	}
	if p := cfg.Persistence.IndexDB; p != "" {
		idx, err := indexdb.OpenSQLite(p)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		opts.Index = idx
	}

	sess := client.New(stream, opts)
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	hctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout())
	err = sess.Handshake(hctx)
	cancel()
	if err != nil {
		logger.Printf("handshake: %v", err)
		return
	}

	if *verbose {
		sess.Bus().SubscribeAll(func(ev gamestate.Event) error {
			logger.Printf("event %s %+v", ev.Kind(), ev)
			return nil
		})
		// Once a game minute, report how stale snapshots are on arrival.
		sess.Bus().Subscribe(gamestate.KindTimeTick, func(gamestate.Event) error {
			if age, ok := sess.SnapshotAge(); ok {
				logger.Printf("snapshot age=%.1fms server_now=%.3f delta=%.4fs", age*1000, sess.Clock().ServerNow(), sess.Clock().Delta())
			}
			return nil
		})
	} else {
		sess.Bus().Subscribe(gamestate.KindTimeTick, func(ev gamestate.Event) error {
			tt := ev.(gamestate.TimeTick)
			logger.Printf("day %d %02d:%02d entities=%d", tt.Time.Day, tt.Time.Hour, tt.Time.Minute, sess.Registry().Len())
			return nil
		})
	}

	var onTick func(float64) error
	if *wander > 0 {
		onTick = wanderer(sess, *wander)
	}

	err = sess.Run(ctx, cfg.TickInterval(), onTick)
	var leave *client.LeaveError
	switch {
	case err == nil:
		logger.Printf("interrupted")
	case errors.As(err, &leave):
		logger.Printf("session ended: %v", leave)
	default:
		logger.Printf("session failed: %v", err)
	}
	st := sess.Stats()
	logger.Printf("frames in=%d out=%d discarded=%d", st.FramesIn, st.FramesOut, st.Discarded)
}

func override(dst *string, v string) {
	switch v = strings.TrimSpace(v); v {
	case "":
	case "-":
		*dst = ""
	default:
		*dst = v
	}
}

func dial(ctx context.Context, cfg config.Config) (transport.Stream, error) {
	opts := transport.ConnOptions{ReadSize: cfg.ReadChunkBytes}
	dctx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout())
	defer cancel()
	switch cfg.Transport {
	case config.TransportWS:
		url := cfg.Server
		if !strings.Contains(url, "://") {
			url = "ws://" + url + "/v1/ws"
		}
		return ws.Dial(dctx, url, opts)
	default:
		return tcp.Dial(dctx, cfg.Server, opts)
	}
}

// wanderer moves our own entity to a random nearby point every interval.
func wanderer(sess *client.Session, every time.Duration) func(float64) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var elapsed time.Duration
	return func(dt float64) error {
		elapsed += time.Duration(dt * float64(time.Second))
		if elapsed < every {
			return nil
		}
		elapsed = 0
		me, ok := sess.Registry().Lookup(gamestate.ID(sess.Self().ID))
		if !ok {
			return nil
		}
		target := me.Position().Add(mathx.Vec2{X: r.Float64()*14 - 7, Y: r.Float64()*14 - 7})
		return sess.Move(target)
	}
}
