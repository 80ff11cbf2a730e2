package worldmodel

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/filter"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// Config selects the filter settings. Unknown is used for robots that have
// never been seen and Known for robots reacquired after a timeout.
type Config struct {
	Ball    filter.BallSettings
	Unknown filter.RobotSettings
	Known   filter.RobotSettings
}

// DefaultConfig returns the default ball settings and robot presets.
func DefaultConfig() Config {
	return Config{
		Ball:    filter.DefaultBallSettings(),
		Unknown: filter.UnknownRobotSettings(),
		Known:   filter.KnownRobotSettings(),
	}
}

// WorldModel maintains the filtered state of the ball and all robots. All
// methods are safe for concurrent use.
type WorldModel struct {
	log *slog.Logger

	mu       sync.RWMutex
	cfg      Config
	ball     *filter.BallFilter
	ballSeen bool
	ballLast float64
	tracks   map[TrackKey]*robotTrack
	latest   float64
	stats    Stats

	updates *fanout.Registry[Snapshot]
}

// New creates an empty world model.
func New(cfg Config, logger *slog.Logger) (*WorldModel, error) {
	for _, s := range []filter.RobotSettings{cfg.Unknown, cfg.Known} {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	ball, err := filter.NewBallFilter(cfg.Ball)
	if err != nil {
		return nil, err
	}
	l := log.Or(logger, "worldmodel")
	return &WorldModel{
		log:     l,
		cfg:     cfg,
		ball:    ball,
		tracks:  make(map[TrackKey]*robotTrack),
		updates: fanout.New[Snapshot]("world", l),
	}, nil
}

// BallSettings returns the active ball filter settings.
func (w *WorldModel) BallSettings() filter.BallSettings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ball.Settings()
}

// SetBallSettings retunes the ball filter in place. The estimate is kept.
func (w *WorldModel) SetBallSettings(s filter.BallSettings) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ball.SetSettings(s); err != nil {
		return err
	}
	w.cfg.Ball = s
	w.log.Info("ball filter settings updated",
		"friction_decel", s.FrictionDecel,
		"process_variance", s.ProcessVariance,
		"measurement_variance", s.MeasurementVariance)
	return nil
}

// Observe feeds one detection frame through the filters.
func (w *WorldModel) Observe(f ssl.DetectionFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.Frames++
	if f.TCapture > w.latest {
		w.latest = f.TCapture
	}

	w.observeBall(f)
	for _, team := range []ssl.Team{ssl.TeamYellow, ssl.TeamBlue} {
		for _, r := range f.Robots(team) {
			w.observeRobot(TrackKey{Team: team, RobotID: r.RobotID}, r, f.TCapture)
		}
	}
}

// observeBall updates the ball filter with the most confident ball in f.
func (w *WorldModel) observeBall(f ssl.DetectionFrame) {
	threshold := w.cfg.Unknown.ConfidenceThreshold
	best := -1
	for i, b := range f.Balls {
		if b.Confidence < threshold {
			w.stats.Rejected++
			continue
		}
		if best < 0 || b.Confidence > f.Balls[best].Confidence {
			best = i
		}
	}
	if best < 0 {
		return
	}
	b := f.Balls[best]

	timeout := w.cfg.Known.NoDataTimeout.Seconds()
	if !w.ballSeen || f.TCapture-w.ballLast > timeout {
		w.ball.SetState(filter.BallState{X: b.X, Y: b.Y})
		w.ballSeen = true
		w.ballLast = f.TCapture
		w.stats.BallUpdates++
		return
	}

	if dt := f.TCapture - w.ballLast; dt > 0 {
		w.ball.Predict(dt)
		w.ballLast = f.TCapture
	}
	if err := w.ball.Update(b.X, b.Y); err != nil {
		w.stats.FilterErrors++
		w.log.Warn("ball update failed, reinitialising", "error", err)
		w.ball.SetState(filter.BallState{X: b.X, Y: b.Y})
		return
	}
	w.stats.BallUpdates++
}

func (w *WorldModel) observeRobot(key TrackKey, r ssl.DetectionRobot, tc float64) {
	if r.Confidence < w.cfg.Unknown.ConfidenceThreshold {
		w.stats.Rejected++
		return
	}

	t, ok := w.tracks[key]
	timeout := w.cfg.Known.NoDataTimeout.Seconds()
	switch {
	case !ok:
		w.tracks[key] = w.newTrack(w.cfg.Unknown, r, tc)
		w.log.Debug("new robot track", "team", key.Team, "robot_id", key.RobotID)
		return
	case tc-t.lastSeen > timeout:
		w.tracks[key] = w.newTrack(w.cfg.Known, r, tc)
		w.stats.Reacquired++
		w.log.Debug("robot reacquired", "team", key.Team, "robot_id", key.RobotID, "absent_s", tc-t.lastSeen)
		return
	}

	if dt := tc - t.lastSeen; dt > 0 {
		if err := t.filter.Predict(dt); err != nil {
			w.resetTrack(key, r, tc, err)
			return
		}
		t.lastSeen = tc
	}
	if err := t.filter.Update(r.X, r.Y, r.Orientation); err != nil {
		w.resetTrack(key, r, tc, err)
		return
	}
	t.updates++
	w.stats.RobotUpdates++
}

func (w *WorldModel) newTrack(s filter.RobotSettings, r ssl.DetectionRobot, tc float64) *robotTrack {
	f := filter.NewRobotFilter(s, 0)
	f.SetState(filter.RobotState{X: r.X, Y: r.Y, Theta: r.Orientation}, nil)
	w.stats.RobotUpdates++
	return &robotTrack{filter: f, lastSeen: tc, updates: 1}
}

func (w *WorldModel) resetTrack(key TrackKey, r ssl.DetectionRobot, tc float64, err error) {
	w.stats.FilterErrors++
	w.log.Warn("robot filter failed, reinitialising",
		"team", key.Team, "robot_id", key.RobotID, "error", err)
	w.tracks[key] = w.newTrack(w.cfg.Known, r, tc)
}

// Snapshot returns a copy of the current estimates with robots ordered by
// team and id.
func (w *WorldModel) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	snap := Snapshot{Timestamp: w.latest, Robots: make([]RobotEstimate, 0, len(w.tracks))}
	if w.ballSeen {
		s := w.ball.State()
		snap.Ball = &BallEstimate{X: s.X, Y: s.Y, VX: s.VX, VY: s.VY, LastSeen: w.ballLast}
	}

	keys := make([]TrackKey, 0, len(w.tracks))
	for k := range w.tracks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Team != keys[j].Team {
			return keys[i].Team < keys[j].Team
		}
		return keys[i].RobotID < keys[j].RobotID
	})
	timeout := w.cfg.Known.NoDataTimeout.Seconds()
	for _, k := range keys {
		snap.Robots = append(snap.Robots, w.tracks[k].estimate(k, w.latest, timeout))
	}
	return snap
}

// Stats returns a copy of the counters.
func (w *WorldModel) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// Reset drops every track and the ball estimate.
func (w *WorldModel) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tracks = make(map[TrackKey]*robotTrack)
	w.ballSeen = false
	w.latest = 0
}

// Subscribe returns a stream of snapshots, one per frame consumed by Run.
func (w *WorldModel) Subscribe(opts ...fanout.Option) *fanout.Subscription[Snapshot] {
	return w.updates.Subscribe(opts...)
}

// Run consumes frames from src until ctx is cancelled or src closes, then
// closes every snapshot subscription.
func (w *WorldModel) Run(ctx context.Context, src fanout.Source[ssl.DetectionFrame]) error {
	defer w.updates.Close()
	for {
		f, err := src.Recv(ctx)
		if err != nil {
			if errors.Is(err, fanout.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.Observe(f)
		if w.updates.Len() == 0 {
			continue
		}
		if err := w.updates.Publish(ctx, w.Snapshot()); err != nil && ctx.Err() == nil {
			w.log.Warn("snapshot publish failed", "error", err)
		}
	}
}
