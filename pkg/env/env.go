// Package env exposes one robot as a step-based environment: each Step
// buffers a wheel action for the dispatcher and returns what the cameras
// reported since the previous step.
package env

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/observation"
	"github.com/teslashibe/go-sslteam/pkg/robot"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

var (
	ErrInvalidConfig = errors.New("env: invalid config")
	ErrNotRunning    = errors.New("env: not running")
)

// Observations is the camera side of the environment; *observation.Cache
// implements it.
type Observations interface {
	CloneAndClear() map[uint32]ssl.DetectionFrame
	Statistics() observation.Stats
}

// Actions is the actuation side; *robot.Dispatcher implements it.
type Actions interface {
	SetAction(robot.Action) error
	ResetAction()
	Statistics() robot.Stats
}

// Runner is a background loop started by Start, such as a dispatcher or a
// vision client.
type Runner func(ctx context.Context) error

// CameraObservation is what one camera saw of the robot. Pose is
// [x, y, theta] and is zero when Detected is false.
type CameraObservation struct {
	Detected bool
	Pose     [3]float64
}

// State holds one observation per camera, indexed by camera id.
type State []CameraObservation

// Action is the wheel command for the controlled robot, nominally in [-1, 1].
type Action [ssl.NumWheels]float64

// RewardFunc scores a transition.
type RewardFunc func(prev State, a Action, next State) float64

// TerminalFunc reports whether a transition ends the episode.
type TerminalFunc func(prev State, a Action, next State) bool

// Info carries both sides' counters at the time of a step.
type Info struct {
	Actions      robot.Stats
	Observations observation.Stats
}

// Config describes the controlled robot and the field.
type Config struct {
	RobotID     int
	Team        ssl.Team
	NumCameras  int
	FieldWidth  float64 // mm
	FieldLength float64 // mm
	Reward      RewardFunc
	Terminal    TerminalFunc
}

// Validate checks robot id, camera count and field size.
func (c Config) Validate() error {
	switch {
	case c.RobotID < 0 || uint64(c.RobotID) > math.MaxUint32:
		return fmt.Errorf("%w: robot id must be in [0, 2^32), got %d", ErrInvalidConfig, c.RobotID)
	case c.NumCameras < 1:
		return fmt.Errorf("%w: camera count must be >= 1, got %d", ErrInvalidConfig, c.NumCameras)
	case !(c.FieldWidth > 0):
		return fmt.Errorf("%w: field width must be > 0, got %v", ErrInvalidConfig, c.FieldWidth)
	case !(c.FieldLength > 0):
		return fmt.Errorf("%w: field length must be > 0, got %v", ErrInvalidConfig, c.FieldLength)
	}
	return nil
}

// SingleRobotEnv drives one robot. Reset and Step must not be called
// concurrently with each other.
type SingleRobotEnv struct {
	log     *slog.Logger
	obs     Observations
	act     Actions
	runners []Runner

	mu   sync.Mutex
	cfg  Config
	curr State

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	exitErr error
}

// New validates cfg. The runners are started by Start and stopped by Close.
func New(cfg Config, obs Observations, act Actions, logger *slog.Logger, runners ...Runner) (*SingleRobotEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Reward == nil {
		cfg.Reward = func(State, Action, State) float64 { return 0 }
	}
	if cfg.Terminal == nil {
		cfg.Terminal = func(State, Action, State) bool { return false }
	}
	return &SingleRobotEnv{
		log:     log.Or(logger, "env").With("robot_id", cfg.RobotID, "team", cfg.Team),
		obs:     obs,
		act:     act,
		runners: runners,
		cfg:     cfg,
		curr:    make(State, cfg.NumCameras),
	}, nil
}

// Config returns the current configuration.
func (e *SingleRobotEnv) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Reconfigure replaces robot, camera and field settings. Reward and
// Terminal are kept when nil.
func (e *SingleRobotEnv) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.Reward == nil {
		cfg.Reward = e.cfg.Reward
	}
	if cfg.Terminal == nil {
		cfg.Terminal = e.cfg.Terminal
	}
	e.cfg = cfg
	if len(e.curr) != cfg.NumCameras {
		e.curr = make(State, cfg.NumCameras)
	}
	return nil
}

// ObservationBounds returns the per-camera pose limits implied by the field.
func (e *SingleRobotEnv) ObservationBounds() (low, high [3]float64) {
	cfg := e.Config()
	hw, hl := cfg.FieldWidth/2, cfg.FieldLength/2
	return [3]float64{-hw, -hl, -math.Pi}, [3]float64{hw, hl, math.Pi}
}

// Start launches the runners. Calling Start on a running env is a no-op.
func (e *SingleRobotEnv) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.exitErr = nil

	for _, run := range e.runners {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			err := run(ctx)
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.running {
				// Any runner exiting on its own leaves the env unusable.
				e.running = false
				e.exitErr = err
				cancel()
				if err != nil {
					e.log.Error("runner exited", "error", err)
				}
			}
		}()
	}
	e.log.Info("env started", "runners", len(e.runners))
}

// Running reports whether Start was called and every runner is alive.
func (e *SingleRobotEnv) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Close stops the runners and waits for them. It returns the error of a
// runner that failed on its own, if any.
func (e *SingleRobotEnv) Close() error {
	e.mu.Lock()
	cancel := e.cancel
	e.running = false
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.exitErr
}

func (e *SingleRobotEnv) checkRunning(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	if e.exitErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotRunning, op, e.exitErr)
	}
	return fmt.Errorf("%w: call Start before %s", ErrNotRunning, op)
}

// Reset stops the robot and returns the latest observation.
func (e *SingleRobotEnv) Reset() (State, error) {
	if err := e.checkRunning("Reset"); err != nil {
		return nil, err
	}
	e.act.ResetAction()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.curr = e.observe(e.obs.CloneAndClear())
	e.log.Debug("reset")
	return e.curr.clone(), nil
}

// Step buffers a for the robot, then observes and scores the transition.
func (e *SingleRobotEnv) Step(a Action) (State, float64, bool, Info, error) {
	if err := e.checkRunning("Step"); err != nil {
		return nil, 0, false, Info{}, err
	}

	e.mu.Lock()
	id := e.cfg.RobotID
	e.mu.Unlock()
	if err := e.act.SetAction(robot.Action{RobotID: id, Wheels: a}); err != nil {
		return nil, 0, false, Info{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.observe(e.obs.CloneAndClear())
	reward := e.cfg.Reward(e.curr.clone(), a, next.clone())
	terminal := e.cfg.Terminal(e.curr.clone(), a, next.clone())
	e.curr = next

	info := Info{Actions: e.act.Statistics(), Observations: e.obs.Statistics()}
	return next.clone(), reward, terminal, info, nil
}

// observe extracts the robot's pose from each camera's frame. Callers hold
// e.mu.
func (e *SingleRobotEnv) observe(frames map[uint32]ssl.DetectionFrame) State {
	s := make(State, e.cfg.NumCameras)
	for cam := range s {
		f, ok := frames[uint32(cam)]
		if !ok {
			continue
		}
		if r, ok := f.FindRobot(e.cfg.Team, uint32(e.cfg.RobotID)); ok {
			s[cam] = CameraObservation{Detected: true, Pose: [3]float64{r.X, r.Y, r.Orientation}}
		}
	}
	return s
}

func (s State) clone() State {
	return append(State(nil), s...)
}
