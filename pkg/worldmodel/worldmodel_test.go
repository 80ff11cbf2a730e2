package worldmodel

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/fanout"
	"github.com/teslashibe/go-sslteam/pkg/filter"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

func newModel(t *testing.T) *WorldModel {
	t.Helper()
	w, err := New(DefaultConfig(), log.Discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func frame(tc float64, balls []ssl.DetectionBall, blue ...ssl.DetectionRobot) ssl.DetectionFrame {
	return ssl.DetectionFrame{TCapture: tc, Balls: balls, RobotsBlue: blue}
}

func TestWorldModel_Empty(t *testing.T) {
	w := newModel(t)
	snap := w.Snapshot()
	if snap.Ball != nil {
		t.Errorf("Ball: got %+v, want nil", snap.Ball)
	}
	if len(snap.Robots) != 0 {
		t.Errorf("Robots: got %d, want 0", len(snap.Robots))
	}
}

func TestWorldModel_NewTrackStartsAtMeasurement(t *testing.T) {
	w := newModel(t)
	w.Observe(frame(1.0, nil, ssl.DetectionRobot{Confidence: 1, RobotID: 3, X: 100, Y: -50, Orientation: 1}))

	snap := w.Snapshot()
	if len(snap.Robots) != 1 {
		t.Fatalf("Robots: got %d, want 1", len(snap.Robots))
	}
	r := snap.Robots[0]
	if r.Team != "blue" || r.RobotID != 3 {
		t.Errorf("key: got %s/%d, want blue/3", r.Team, r.RobotID)
	}
	if r.X != 100 || r.Y != -50 || math.Abs(r.Theta-1) > 1e-9 {
		t.Errorf("pose: got (%v, %v, %v), want (100, -50, 1)", r.X, r.Y, r.Theta)
	}
	if snap.Timestamp != 1.0 {
		t.Errorf("Timestamp: got %v, want 1", snap.Timestamp)
	}
}

func TestWorldModel_IgnoresLowConfidence(t *testing.T) {
	w := newModel(t)
	w.Observe(frame(1.0,
		[]ssl.DetectionBall{{Confidence: 0.05, X: 1, Y: 1}},
		ssl.DetectionRobot{Confidence: 0.05, RobotID: 1}))

	snap := w.Snapshot()
	if snap.Ball != nil || len(snap.Robots) != 0 {
		t.Errorf("low confidence detections were tracked: %+v", snap)
	}
	if got := w.Stats().Rejected; got != 2 {
		t.Errorf("Rejected: got %d, want 2", got)
	}
}

func TestWorldModel_BallUsesMostConfident(t *testing.T) {
	w := newModel(t)
	w.Observe(frame(1.0, []ssl.DetectionBall{
		{Confidence: 0.4, X: -1000, Y: 0},
		{Confidence: 0.9, X: 250, Y: 40},
		{Confidence: 0.5, X: 1000, Y: 0},
	}))

	snap := w.Snapshot()
	if snap.Ball == nil {
		t.Fatal("expected a ball")
	}
	if snap.Ball.X != 250 || snap.Ball.Y != 40 {
		t.Errorf("ball: got (%v, %v), want (250, 40)", snap.Ball.X, snap.Ball.Y)
	}
}

func TestWorldModel_TracksMovingRobot(t *testing.T) {
	w := newModel(t)
	const vx = 600.0 // mm/s
	for i := 0; i < 120; i++ {
		tc := float64(i) / 60
		w.Observe(frame(tc, nil, ssl.DetectionRobot{Confidence: 1, RobotID: 0, X: vx * tc, Y: 0}))
	}

	r := w.Snapshot().Robots[0]
	wantX := vx * 119.0 / 60
	if math.Abs(r.X-wantX) > 10 {
		t.Errorf("X: got %v, want ~%v", r.X, wantX)
	}
	if math.Abs(r.VX-vx) > 100 {
		t.Errorf("VX: got %v, want ~%v", r.VX, vx)
	}
	if r.Updates != 120 {
		t.Errorf("Updates: got %d, want 120", r.Updates)
	}
}

func TestWorldModel_ReacquireAfterTimeout(t *testing.T) {
	w := newModel(t)
	w.Observe(frame(0, nil, ssl.DetectionRobot{Confidence: 1, RobotID: 2, X: 0, Y: 0}))
	w.Observe(frame(0.5, nil, ssl.DetectionRobot{Confidence: 1, RobotID: 2, X: 10, Y: 0}))

	timeout := filter.KnownRobotSettings().NoDataTimeout.Seconds()
	w.Observe(frame(0.5+timeout+1, nil, ssl.DetectionRobot{Confidence: 1, RobotID: 2, X: 3000, Y: 2000, Orientation: -2}))

	r := w.Snapshot().Robots[0]
	if r.X != 3000 || r.Y != 2000 || math.Abs(r.Theta+2) > 1e-9 {
		t.Errorf("reacquired pose: got (%v, %v, %v), want (3000, 2000, -2)", r.X, r.Y, r.Theta)
	}
	if r.Updates != 1 {
		t.Errorf("Updates after reacquire: got %d, want 1", r.Updates)
	}
	if got := w.Stats().Reacquired; got != 1 {
		t.Errorf("Reacquired: got %d, want 1", got)
	}
}

func TestWorldModel_StaleFlag(t *testing.T) {
	w := newModel(t)
	w.Observe(frame(0, nil, ssl.DetectionRobot{Confidence: 1, RobotID: 1}))
	w.Observe(frame(20, []ssl.DetectionBall{{Confidence: 1}}))

	snap := w.Snapshot()
	if !snap.Robots[0].Stale {
		t.Error("robot unseen for 20s should be stale")
	}
}

func TestWorldModel_RobotsSorted(t *testing.T) {
	w := newModel(t)
	f := ssl.DetectionFrame{
		TCapture:     1,
		RobotsBlue:   []ssl.DetectionRobot{{Confidence: 1, RobotID: 4}, {Confidence: 1, RobotID: 1}},
		RobotsYellow: []ssl.DetectionRobot{{Confidence: 1, RobotID: 7}},
	}
	w.Observe(f)

	got := w.Snapshot().Robots
	want := []struct {
		team string
		id   uint32
	}{{"yellow", 7}, {"blue", 1}, {"blue", 4}}
	if len(got) != len(want) {
		t.Fatalf("Robots: got %d, want %d", len(got), len(want))
	}
	for i, wnt := range want {
		if got[i].Team != wnt.team || got[i].RobotID != wnt.id {
			t.Errorf("Robots[%d]: got %s/%d, want %s/%d", i, got[i].Team, got[i].RobotID, wnt.team, wnt.id)
		}
	}
}

func TestWorldModel_SetBallSettings(t *testing.T) {
	w := newModel(t)
	s := w.BallSettings()
	s.FrictionDecel = 123
	if err := w.SetBallSettings(s); err != nil {
		t.Fatalf("SetBallSettings: %v", err)
	}
	if got := w.BallSettings().FrictionDecel; got != 123 {
		t.Errorf("FrictionDecel: got %v, want 123", got)
	}

	s.FrictionDecel = -1
	if err := w.SetBallSettings(s); err == nil {
		t.Error("negative deceleration should be rejected")
	}
}

func TestWorldModel_Reset(t *testing.T) {
	w := newModel(t)
	w.Observe(frame(1, []ssl.DetectionBall{{Confidence: 1}}, ssl.DetectionRobot{Confidence: 1}))
	w.Reset()
	snap := w.Snapshot()
	if snap.Ball != nil || len(snap.Robots) != 0 {
		t.Errorf("Reset left state behind: %+v", snap)
	}
}

func TestWorldModel_RunPublishesSnapshots(t *testing.T) {
	w := newModel(t)
	frames := fanout.New[ssl.DetectionFrame]("test", log.Discard())
	src := frames.Subscribe()
	snaps := w.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, src) }()

	if err := frames.Publish(ctx, frame(1, nil, ssl.DetectionRobot{Confidence: 1, RobotID: 5, X: 42})); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	snap, err := snaps.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if len(snap.Robots) != 1 || snap.Robots[0].X != 42 {
		t.Errorf("snapshot: got %+v", snap)
	}

	frames.Close()
	if err := <-done; err != nil {
		t.Errorf("Run: got %v, want nil", err)
	}
	if _, err := snaps.Recv(ctx); !errors.Is(err, fanout.ErrClosed) {
		t.Errorf("snapshot stream after Run: got %v, want ErrClosed", err)
	}
}
