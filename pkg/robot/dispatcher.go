package robot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// DefaultPeriod is the send period used when none is given (60 Hz).
const DefaultPeriod = time.Second / 60

var (
	ErrInvalidRobotID = errors.New("robot: robot id must be in [0, 2^32)")
	ErrInvalidAction  = errors.New("robot: wheel velocity must be finite")
	ErrAlreadyRunning = errors.New("robot: dispatcher already running")
	ErrStopped        = errors.New("robot: dispatcher stopped")
)

// State is the dispatcher lifecycle: Idle -> Running -> Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Action is a raw wheel command for one robot. Wheel velocities are
// nominally in [-1, 1]; values outside are clamped when encoded.
type Action struct {
	RobotID int
	Wheels  [ssl.NumWheels]float64
}

// Validate checks that the robot id fits the radio's uint32 key and that
// every velocity is finite.
func (a Action) Validate() error {
	if a.RobotID < 0 || uint64(a.RobotID) > math.MaxUint32 {
		return fmt.Errorf("%w: got %d", ErrInvalidRobotID, a.RobotID)
	}
	for i, w := range a.Wheels {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: wheel %d is %v", ErrInvalidAction, i, w)
		}
	}
	return nil
}

// Command converts the action to its radio form.
func (a Action) Command() ssl.RobotCommand {
	var c ssl.RobotCommand
	for i, w := range a.Wheels {
		c.WheelVelocity[i] = ssl.QuantizeWheel(w)
	}
	return c
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	NumSent            uint64
	Failures           uint64
	LastSetActionTime  time.Time
	LastActionSentTime time.Time
}

// Dispatcher holds the latest action per robot and sends the whole set
// every period. SetAction, ResetAction and the accessors are safe for
// concurrent use; Run may be called once.
type Dispatcher struct {
	radio        Radio
	period       time.Duration
	closeTimeout time.Duration
	log          *slog.Logger
	now          func() time.Time

	state atomic.Int32

	mu      sync.Mutex
	actions map[int]Action

	statsMu sync.Mutex
	stats   Stats
}

// NewDispatcher creates an idle dispatcher sending to radio every period.
func NewDispatcher(radio Radio, period time.Duration, logger *slog.Logger) *Dispatcher {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Dispatcher{
		radio:        radio,
		period:       period,
		closeTimeout: period,
		log:          log.Or(logger, "dispatcher"),
		now:          time.Now,
		actions:      make(map[int]Action),
	}
}

// Period returns the send period.
func (d *Dispatcher) Period() time.Duration { return d.period }

// State returns the lifecycle state.
func (d *Dispatcher) State() State { return State(d.state.Load()) }

// SetAction replaces the pending action for a.RobotID.
func (d *Dispatcher) SetAction(a Action) error {
	if err := a.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.actions[a.RobotID] = a
	d.mu.Unlock()

	d.touch()
	return nil
}

// ResetAction clears every pending action. Following ticks send an empty
// command set until SetAction is called again.
func (d *Dispatcher) ResetAction() {
	d.mu.Lock()
	clear(d.actions)
	d.mu.Unlock()

	d.touch()
}

func (d *Dispatcher) touch() {
	d.statsMu.Lock()
	d.stats.LastSetActionTime = d.now()
	d.statsMu.Unlock()
}

// CurrentAction returns a copy of the pending actions keyed by robot id.
func (d *Dispatcher) CurrentAction() map[int]Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]Action, len(d.actions))
	for id, a := range d.actions {
		out[id] = a
	}
	return out
}

// Statistics returns a snapshot of the counters.
func (d *Dispatcher) Statistics() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// encode builds the outgoing message from a consistent view of the buffer.
func (d *Dispatcher) encode() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	rc := ssl.RobotCommands{Commands: make(map[uint32]ssl.RobotCommand, len(d.actions))}
	for id, a := range d.actions {
		rc.Commands[uint32(id)] = a.Command()
	}
	return rc.Marshal()
}

// Run opens a command stream and sends the buffer every period until ctx is
// cancelled, which returns nil. A permanent stream failure is returned. A
// dispatcher runs at most once.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		if d.State() == StateStopped {
			return ErrStopped
		}
		return ErrAlreadyRunning
	}
	defer d.state.Store(int32(StateStopped))

	stream, err := d.radio.OpenCommandStream(ctx)
	if err != nil {
		return fmt.Errorf("robot: open command stream: %w", err)
	}
	defer d.closeStream(stream)

	d.log.Info("dispatcher started", "period", d.period)
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			d.log.Info("dispatcher stopped")
			return nil
		}
		if err := d.tick(stream); err != nil {
			return err
		}
	}
}

func (d *Dispatcher) tick(stream CommandStream) error {
	msg := d.encode()
	if err := stream.Send(msg); err != nil {
		if errors.Is(err, ErrStreamClosed) || errors.Is(err, io.EOF) {
			d.log.Error("command stream closed", "error", err)
			return fmt.Errorf("robot: send: %w", err)
		}
		d.statsMu.Lock()
		d.stats.Failures++
		failures := d.stats.Failures
		d.statsMu.Unlock()
		d.log.Warn("send failed", "error", err, "failures", failures)
		return nil
	}

	d.statsMu.Lock()
	d.stats.NumSent++
	d.stats.LastActionSentTime = d.now()
	d.statsMu.Unlock()
	return nil
}

// closeStream closes the stream but gives up waiting after closeTimeout.
func (d *Dispatcher) closeStream(stream CommandStream) {
	done := make(chan error, 1)
	go func() { done <- stream.Close() }()

	timer := time.NewTimer(d.closeTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, ErrStreamClosed) && !errors.Is(err, context.Canceled) {
			d.log.Warn("command stream close failed", "error", err)
		}
	case <-timer.C:
		d.log.Warn("command stream did not close promptly", "timeout", d.closeTimeout)
	}
}
