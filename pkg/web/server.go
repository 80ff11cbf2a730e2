// Package web serves the tracker state to visualizers: a small JSON API for
// the world, field geometry and ball filter tuning, and a websocket feed of
// world snapshots.
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/field"
	"github.com/teslashibe/go-sslteam/pkg/hub"
	"github.com/teslashibe/go-sslteam/pkg/protocol"
	"github.com/teslashibe/go-sslteam/pkg/vision"
	"github.com/teslashibe/go-sslteam/pkg/worldmodel"
)

// DefaultStatsPeriod is how often counters are pushed to viewers.
const DefaultStatsPeriod = time.Second

// VisionStats is implemented by *vision.Client.
type VisionStats interface {
	Stats() vision.ClientStats
}

// Options configures a Server.
type Options struct {
	Addr        string      // listen address for Run, e.g. ":8080"
	StaticDir   string      // optional directory served at /
	Vision      VisionStats // optional source of receive counters
	StatsPeriod time.Duration
	Logger      *slog.Logger
}

// Server is the visualizer API.
type Server struct {
	app   *fiber.App
	opts  Options
	log   *slog.Logger
	world *worldmodel.WorldModel
	field *field.Store

	worldHub *hub.Hub

	// OnBallSettings is called after the ball filter is retuned through the
	// API, e.g. to persist the new values.
	OnBallSettings func(protocol.BallSettingsData)

	shutdownOnce sync.Once
}

// NewServer wires the routes. Nothing listens until Run or Serve.
func NewServer(world *worldmodel.WorldModel, store *field.Store, opts Options) *Server {
	if opts.StatsPeriod <= 0 {
		opts.StatsPeriod = DefaultStatsPeriod
	}
	l := log.Or(opts.Logger, "web")
	s := &Server{
		opts:     opts,
		log:      l,
		world:    world,
		field:    store,
		worldHub: hub.New("world", l),
	}

	app := fiber.New(fiber.Config{
		AppName:               "sslteam",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())
	if opts.StaticDir != "" {
		app.Static("/", opts.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/world", s.handleWorld)
	api.Get("/geometry", s.handleGetGeometry)
	api.Put("/geometry", s.handlePutGeometry)
	api.Post("/geometry/unpin", s.handleUnpinGeometry)
	api.Get("/ball-settings", s.handleGetBallSettings)
	api.Put("/ball-settings", s.handlePutBallSettings)
	api.Get("/stats", s.handleStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/world", websocket.New(s.handleWorldWS))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the world feed hub.
func (s *Server) Hub() *hub.Hub { return s.worldHub }

// Run listens on Options.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down. It also runs
// the world feed: one message per snapshot while viewers are connected and
// the counters every StatsPeriod.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, run := range []func(context.Context){s.worldHub.Run, s.feedWorld, s.feedStats} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.log.Info("visualizer API listening", "addr", ln.Addr().String())

	var err error
	select {
	case <-ctx.Done():
		s.shutdown()
		err = <-errc
	case err = <-errc:
		cancel()
	}
	wg.Wait()
	s.log.Info("visualizer API stopped")
	return err
}

func (s *Server) shutdown() {
	s.shutdownOnce.Do(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.app.ShutdownWithContext(sctx); err != nil {
			s.log.Warn("shutdown", "error", err)
		}
	})
}

// feedWorld forwards world snapshots to the hub. Only the newest pending
// snapshot is kept.
func (s *Server) feedWorld(ctx context.Context) {
	snaps := s.world.Subscribe(fanout.WithCapacity(1))
	defer snaps.Close()
	for {
		snap, err := snaps.Recv(ctx)
		if err != nil {
			return
		}
		if s.worldHub.ClientCount() > 0 {
			s.broadcast(protocol.NewWorldMessage(snap))
		}
	}
}

func (s *Server) feedStats(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatsPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.worldHub.ClientCount() > 0 {
				s.broadcast(protocol.NewStatsMessage(s.stats()))
			}
		}
	}
}

func (s *Server) broadcast(msg *protocol.Message, err error) {
	if err != nil {
		s.log.Warn("encode message", "error", err)
		return
	}
	b, err := msg.Bytes()
	if err != nil {
		s.log.Warn("encode message", "error", err)
		return
	}
	s.worldHub.Broadcast(hub.NewTextMessage(b))
}

func (s *Server) stats() protocol.StatsData {
	w := s.world.Stats()
	st := protocol.StatsData{World: &w, Viewers: s.worldHub.ClientCount()}
	if s.opts.Vision != nil {
		v := s.opts.Vision.Stats()
		st.Vision = &protocol.VisionStats{
			Packets:    v.Packets,
			Detections: v.Detections,
			Geometry:   v.Geometry,
			Malformed:  v.Malformed,
		}
	}
	return st
}

func (s *Server) geometry() (protocol.GeometryData, bool) {
	g, ok := s.field.Get()
	if !ok {
		return protocol.GeometryData{}, false
	}
	d := protocol.GeometryFromSSL(g)
	d.Source = string(s.field.Info().Source)
	return d, true
}
