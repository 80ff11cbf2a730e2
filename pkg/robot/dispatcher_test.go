package robot

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-sslteam/internal/log"
	"github.com/teslashibe/go-sslteam/pkg/ssl"
)

// mockStream records every message sent through it
type mockStream struct {
	mu         sync.Mutex
	sent       [][]byte
	onSend     func(n int) error // n is the 1-based call count
	closed     bool
	closeDelay time.Duration
}

func (m *mockStream) Send(msg []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), msg...))
	n := len(m.sent)
	onSend := m.onSend
	m.mu.Unlock()
	if onSend != nil {
		return onSend(n)
	}
	return nil
}

func (m *mockStream) Close() error {
	time.Sleep(m.closeDelay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockStream) messages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.sent...)
}

func (m *mockStream) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type mockRadio struct {
	stream *mockStream
	err    error
}

func (r *mockRadio) OpenCommandStream(ctx context.Context) (CommandStream, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.stream, nil
}

func decode(t *testing.T, msg []byte) map[uint32]ssl.RobotCommand {
	t.Helper()
	rc, err := ssl.DecodeRobotCommands(msg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rc.Commands
}

func runUntil(t *testing.T, d *Dispatcher, stream *mockStream, stopAfter int) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prev := stream.onSend
	stream.onSend = func(n int) error {
		var err error
		if prev != nil {
			err = prev(n)
		}
		if n == stopAfter {
			cancel()
		}
		return err
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestDispatcher_SendsEveryTick(t *testing.T) {
	stream := &mockStream{}
	d := NewDispatcher(&mockRadio{stream: stream}, 5*time.Millisecond, log.Discard())

	if err := d.SetAction(Action{RobotID: 0, Wheels: [4]float64{0.01, 0.01, 0.01, 0.01}}); err != nil {
		t.Fatalf("SetAction: %v", err)
	}
	if err := runUntil(t, d, stream, 5); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := stream.messages()
	if len(msgs) != 5 {
		t.Fatalf("sent %d messages, want 5", len(msgs))
	}
	want := ssl.RobotCommand{WheelVelocity: [4]int8{1, 1, 1, 1}}
	for i, msg := range msgs {
		cmds := decode(t, msg)
		if len(cmds) != 1 || cmds[0] != want {
			t.Errorf("message %d: got %v, want {0: %v}", i, cmds, want)
		}
	}

	st := d.Statistics()
	if st.NumSent != 5 {
		t.Errorf("NumSent: got %d, want 5", st.NumSent)
	}
	if st.LastActionSentTime.Before(st.LastSetActionTime) {
		t.Error("LastActionSentTime should follow LastSetActionTime")
	}
	if d.State() != StateStopped {
		t.Errorf("State: got %v, want stopped", d.State())
	}
	if !stream.isClosed() {
		t.Error("stream was not closed")
	}
}

func TestDispatcher_LastWriteWins(t *testing.T) {
	stream := &mockStream{}
	d := NewDispatcher(&mockRadio{stream: stream}, 5*time.Millisecond, log.Discard())

	for _, v := range []float64{0.1, -0.5, 0.3} {
		d.SetAction(Action{RobotID: 1, Wheels: [4]float64{v, v, v, v}})
	}
	d.SetAction(Action{RobotID: 2, Wheels: [4]float64{1, 0, 0, -1}})

	if err := runUntil(t, d, stream, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cmds := decode(t, stream.messages()[0])
	if got := cmds[1].WheelVelocity; got != [4]int8{38, 38, 38, 38} {
		t.Errorf("robot 1: got %v, want last write (0.3 -> 38)", got)
	}
	if got := cmds[2].WheelVelocity; got != [4]int8{127, 0, 0, -127} {
		t.Errorf("robot 2: got %v", got)
	}
}

func TestDispatcher_ResetSendsEmpty(t *testing.T) {
	stream := &mockStream{}
	d := NewDispatcher(&mockRadio{stream: stream}, 5*time.Millisecond, log.Discard())

	d.SetAction(Action{RobotID: 0, Wheels: [4]float64{1, 1, 1, 1}})
	d.ResetAction()
	if len(d.CurrentAction()) != 0 {
		t.Fatal("CurrentAction should be empty after reset")
	}

	if err := runUntil(t, d, stream, 1); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cmds := decode(t, stream.messages()[0]); len(cmds) != 0 {
		t.Errorf("got %v, want empty command set", cmds)
	}
}

func TestDispatcher_SetActionValidation(t *testing.T) {
	d := NewDispatcher(&mockRadio{stream: &mockStream{}}, 0, log.Discard())
	if d.Period() != DefaultPeriod {
		t.Errorf("Period: got %v, want %v", d.Period(), DefaultPeriod)
	}

	if err := d.SetAction(Action{RobotID: -1}); !errors.Is(err, ErrInvalidRobotID) {
		t.Errorf("negative id: got %v, want ErrInvalidRobotID", err)
	}
	if strconv.IntSize == 64 {
		big := int(int64(math.MaxUint32) + 1)
		if err := d.SetAction(Action{RobotID: big}); !errors.Is(err, ErrInvalidRobotID) {
			t.Errorf("id %d: got %v, want ErrInvalidRobotID", big, err)
		}
		if err := d.SetAction(Action{RobotID: big - 1}); err != nil {
			t.Errorf("id MaxUint32: got %v, want nil", err)
		}
	}
	if err := d.SetAction(Action{RobotID: 0, Wheels: [4]float64{math.NaN()}}); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("NaN: got %v, want ErrInvalidAction", err)
	}
	if err := d.SetAction(Action{RobotID: 0, Wheels: [4]float64{math.Inf(-1)}}); !errors.Is(err, ErrInvalidAction) {
		t.Errorf("Inf: got %v, want ErrInvalidAction", err)
	}
	if !d.Statistics().LastSetActionTime.IsZero() {
		t.Error("rejected actions must not update LastSetActionTime")
	}

	// Out of range is accepted and clamped on the wire
	a := Action{RobotID: 3, Wheels: [4]float64{2, -3, 0.5, 0}}
	if err := d.SetAction(a); err != nil {
		t.Fatalf("SetAction: %v", err)
	}
	if got := d.CurrentAction()[3]; got != a {
		t.Errorf("CurrentAction: got %v, want unclamped %v", got, a)
	}
	if got := a.Command().WheelVelocity; got != [4]int8{127, -127, 64, 0} {
		t.Errorf("Command: got %v", got)
	}
}

func TestDispatcher_CurrentActionIsCopy(t *testing.T) {
	d := NewDispatcher(&mockRadio{stream: &mockStream{}}, 0, log.Discard())
	d.SetAction(Action{RobotID: 0, Wheels: [4]float64{0.2}})

	cur := d.CurrentAction()
	delete(cur, 0)
	if len(d.CurrentAction()) != 1 {
		t.Error("mutating the returned map changed the dispatcher")
	}
}

func TestDispatcher_RunOnce(t *testing.T) {
	stream := &mockStream{}
	d := NewDispatcher(&mockRadio{stream: stream}, 5*time.Millisecond, log.Discard())

	started := make(chan struct{})
	var once sync.Once
	stream.onSend = func(int) error {
		once.Do(func() { close(started) })
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	<-started

	if err := d.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run while running: got %v, want ErrAlreadyRunning", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := d.Run(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Run after stop: got %v, want ErrStopped", err)
	}
}

func TestDispatcher_TransientFailure(t *testing.T) {
	stream := &mockStream{onSend: func(n int) error {
		if n == 2 {
			return errors.New("radio busy")
		}
		return nil
	}}
	d := NewDispatcher(&mockRadio{stream: stream}, 5*time.Millisecond, log.Discard())

	if err := runUntil(t, d, stream, 4); err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := d.Statistics()
	if st.Failures != 1 {
		t.Errorf("Failures: got %d, want 1", st.Failures)
	}
	if st.NumSent != 3 {
		t.Errorf("NumSent: got %d, want 3", st.NumSent)
	}
}

func TestDispatcher_PermanentFailure(t *testing.T) {
	stream := &mockStream{onSend: func(n int) error {
		if n == 2 {
			return ErrStreamClosed
		}
		return nil
	}}
	d := NewDispatcher(&mockRadio{stream: stream}, 5*time.Millisecond, log.Discard())

	err := runUntil(t, d, stream, 100)
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Run: got %v, want ErrStreamClosed", err)
	}
	if n := d.Statistics().NumSent; n != 1 {
		t.Errorf("NumSent: got %d, want 1", n)
	}
	if d.State() != StateStopped {
		t.Errorf("State: got %v, want stopped", d.State())
	}
}

func TestDispatcher_OpenFailure(t *testing.T) {
	openErr := errors.New("no radio")
	d := NewDispatcher(&mockRadio{err: openErr}, 5*time.Millisecond, log.Discard())

	if err := d.Run(context.Background()); !errors.Is(err, openErr) {
		t.Errorf("Run: got %v, want %v", err, openErr)
	}
	if d.State() != StateStopped {
		t.Errorf("State: got %v, want stopped", d.State())
	}
}

func TestDispatcher_StopsWithSlowClose(t *testing.T) {
	stream := &mockStream{closeDelay: 2 * time.Second}
	d := NewDispatcher(&mockRadio{stream: stream}, 20*time.Millisecond, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run blocked on a stream that would not close")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Run took %v to stop", elapsed)
	}
}

func TestDispatcher_ConcurrentSetAction(t *testing.T) {
	stream := &mockStream{}
	d := NewDispatcher(&mockRadio{stream: stream}, time.Millisecond, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				v := float64(j%3) / 2
				d.SetAction(Action{RobotID: id, Wheels: [4]float64{v, v, v, v}})
				if j%50 == 0 {
					d.ResetAction()
				}
				_ = d.Statistics()
			}
		}(i)
	}
	wg.Wait()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Every message must carry identical wheels per robot: a torn write
	// would show up as mixed values.
	for _, msg := range stream.messages() {
		for id, cmd := range decode(t, msg) {
			w := cmd.WheelVelocity
			if w[0] != w[1] || w[1] != w[2] || w[2] != w[3] {
				t.Fatalf("robot %d: torn command %v", id, w)
			}
		}
	}
}

func TestDispatcher_OutOfRangeIDDoesNotAliasRobot(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("int cannot hold ids beyond uint32")
	}
	d := NewDispatcher(&mockRadio{stream: &mockStream{}}, 0, log.Discard())
	if err := d.SetAction(Action{RobotID: 0, Wheels: [4]float64{0.5, 0.5, 0.5, 0.5}}); err != nil {
		t.Fatalf("SetAction: %v", err)
	}
	alias := int(int64(math.MaxUint32) + 1) // truncates to 0 as uint32
	if err := d.SetAction(Action{RobotID: alias, Wheels: [4]float64{-1, -1, -1, -1}}); !errors.Is(err, ErrInvalidRobotID) {
		t.Fatalf("SetAction(%d): got %v, want ErrInvalidRobotID", alias, err)
	}

	for i := 0; i < 20; i++ {
		rc, err := ssl.DecodeRobotCommands(d.encode())
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(rc.Commands) != 1 {
			t.Fatalf("commands: got %d, want 1", len(rc.Commands))
		}
		if got := rc.Commands[0].WheelVelocity; got != [4]int8{64, 64, 64, 64} {
			t.Fatalf("robot 0 wheels on encode %d: got %v, want [64 64 64 64]", i, got)
		}
	}
}
