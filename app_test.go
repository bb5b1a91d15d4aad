package ioapp_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharnoff/ioapp"
	"github.com/sharnoff/ioapp/ccy"
	"github.com/sharnoff/ioapp/reactor"
)

type recordingHooks struct {
	ioapp.NopHooks

	prepared atomic.Int32
	started  atomic.Int32
	stopped  atomic.Int32
	exits    atomic.Int32
	reason   atomic.Int32

	inHook        atomic.Int32
	maxConcurrent atomic.Int32

	// called from OnStarted, if set
	onStarted func()
}

func (h *recordingHooks) enter() {
	n := h.inHook.Add(1)
	for {
		cur := h.maxConcurrent.Load()
		if n <= cur || h.maxConcurrent.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
}

func (h *recordingHooks) leave() { h.inHook.Add(-1) }

func (h *recordingHooks) Prepare() { h.prepared.Add(1) }

func (h *recordingHooks) OnStarted() {
	h.enter()
	defer h.leave()
	h.started.Add(1)
	if h.onStarted != nil {
		h.onStarted()
	}
}

func (h *recordingHooks) OnExit(reason int) int {
	h.exits.Add(1)
	h.reason.Store(int32(reason))
	return reason + 100
}

func (h *recordingHooks) OnStopped() {
	h.enter()
	defer h.leave()
	h.stopped.Add(1)
}

// start starts the app whichever way its policy requires, returning a channel that's closed once
// all of its loops have returned.
func start[P ccy.Policy](t *testing.T, app *ioapp.App[P], threads int) <-chan struct{} {
	t.Helper()

	done := make(chan struct{})
	var p P
	if p.OwnsThreads() {
		require.NoError(t, app.Launch(threads))
		go func() {
			app.Join()
			close(done)
		}()
	} else {
		go func() {
			defer close(done)
			_, err := app.Run()
			assert.NoError(t, err)
		}()
	}
	return done
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func testConcurrentExit[P ccy.Policy](t *testing.T) {
	t.Parallel()

	h := &recordingHooks{}
	app := ioapp.New[P](h)
	done := start(t, app, 4)
	require.Eventually(t, func() bool { return app.State() >= ioapp.StateRunning }, 5*time.Second, time.Millisecond)

	const callers = 32
	var (
		wg     sync.WaitGroup
		wins   atomic.Int32
		winner atomic.Int32
	)
	for i := 0; i < callers; i += 1 {
		wg.Add(1)
		go func(reason int) {
			defer wg.Done()
			if app.RequestExit(reason) {
				wins.Add(1)
				winner.Store(int32(reason))
			}
		}(i)
	}
	wg.Wait()
	waitDone(t, done)

	assert.EqualValues(t, 1, wins.Load())
	assert.EqualValues(t, 1, h.exits.Load())
	assert.Equal(t, winner.Load(), h.reason.Load())
	assert.Equal(t, int(winner.Load())+100, app.ReturnCode())
	assert.False(t, app.RequestExit(99))
	assert.Equal(t, ioapp.StateStopped, app.State())
}

func TestConcurrentRequestExit(t *testing.T) {
	t.Run("none", testConcurrentExit[ccy.None])
	t.Run("single", testConcurrentExit[ccy.Single])
	t.Run("safe", testConcurrentExit[ccy.Safe])
	t.Run("unsafe", testConcurrentExit[ccy.Unsafe])
}

func TestJoinStopsAllThreads(t *testing.T) {
	t.Parallel()

	h := &recordingHooks{}
	app := ioapp.New[ccy.Safe](h)
	require.NoError(t, app.Launch(4))

	require.Eventually(t, func() bool { return h.started.Load() == 4 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, 4, app.ThreadCount())
	assert.True(t, app.Running())
	assert.Equal(t, []ioapp.TaskInfo{
		{Name: "worker-0", Count: 1},
		{Name: "worker-1", Count: 1},
		{Name: "worker-2", Count: 1},
		{Name: "worker-3", Count: 1},
	}, app.Workers())

	assert.True(t, app.RequestExit(0))
	app.Join()

	assert.Zero(t, app.ThreadCount())
	assert.False(t, app.Running())
	assert.Empty(t, app.Workers())
	assert.Equal(t, ioapp.StateStopped, app.State())
	assert.EqualValues(t, 4, h.stopped.Load())

	// nothing else fires afterwards
	time.Sleep(10 * time.Millisecond)
	assert.EqualValues(t, 4, h.started.Load())
	assert.EqualValues(t, 4, h.stopped.Load())
	assert.EqualValues(t, 1, h.exits.Load())
}

func TestSafeSerializesHooks(t *testing.T) {
	t.Parallel()

	h := &recordingHooks{}
	app := ioapp.New[ccy.Safe](h)
	require.NoError(t, app.Launch(8))
	require.Eventually(t, func() bool { return h.started.Load() == 8 }, 5*time.Second, time.Millisecond)
	app.RequestExit(0)
	app.Join()

	assert.EqualValues(t, 1, h.maxConcurrent.Load())
}

func TestSingleClampsThreads(t *testing.T) {
	t.Parallel()

	h := &recordingHooks{}
	app := ioapp.New[ccy.Single](h)
	require.NoError(t, app.Launch(8))
	assert.Len(t, app.Workers(), 1)

	app.RequestExit(3)
	app.Join()
	assert.EqualValues(t, 1, h.started.Load())
	assert.Equal(t, 103, app.ReturnCode())
}

func callIsSafeInLoop[P ccy.Policy](t *testing.T) (safe, inApp bool) {
	app := ioapp.New[P](ioapp.NopHooks{})
	assert.False(t, app.CallIsSafe())
	assert.False(t, app.CallIsInApp())

	app.Post(func() {
		safe, inApp = app.CallIsSafe(), app.CallIsInApp()
		app.RequestExit(0)
	})
	require.NoError(t, app.Launch(2))
	app.Join()
	return safe, inApp
}

func TestCallIsSafe(t *testing.T) {
	t.Parallel()

	safe, inApp := callIsSafeInLoop[ccy.Safe](t)
	assert.True(t, safe)
	assert.True(t, inApp)

	// calls are never safe under Unsafe, even from within the loop
	safe, inApp = callIsSafeInLoop[ccy.Unsafe](t)
	assert.False(t, safe)
	assert.True(t, inApp)
}

func TestPolicyErrors(t *testing.T) {
	t.Parallel()

	none := ioapp.New[ccy.None](ioapp.NopHooks{})
	assert.ErrorIs(t, none.Launch(2), ioapp.ErrThreadsNotOwned)

	safe := ioapp.New[ccy.Safe](ioapp.NopHooks{})
	code, err := safe.Run()
	assert.ErrorIs(t, err, ioapp.ErrOwnsThreads)
	assert.Equal(t, -1, code)

	safe.RequestExit(0)
	require.NoError(t, safe.Launch(1))
	assert.ErrorIs(t, safe.Launch(1), ioapp.ErrAlreadyStarted)
	safe.Join()
}

func TestRunOnCaller(t *testing.T) {
	t.Parallel()

	h := &recordingHooks{}
	var app *ioapp.App[ccy.None]
	h.onStarted = func() {
		assert.Equal(t, ioapp.StateRunning, app.State())
		app.RequestExit(7)
	}
	app = ioapp.New[ccy.None](h)
	assert.Equal(t, ioapp.StateCreated, app.State())
	assert.Equal(t, -1, app.ReturnCode())

	code, err := app.Run()
	require.NoError(t, err)
	assert.Equal(t, 107, code)
	assert.Equal(t, ioapp.StateStopped, app.State())
	assert.EqualValues(t, 1, h.prepared.Load())
	assert.EqualValues(t, 1, h.started.Load())
	assert.EqualValues(t, 1, h.stopped.Load())

	// None doesn't own threads, so there's nothing to join
	app.Join()
	assert.NoError(t, app.TryJoin(context.Background()))
}

func TestPrepareOnce(t *testing.T) {
	t.Parallel()

	h := &recordingHooks{}
	app := ioapp.New[ccy.Safe](h)
	app.Prepare()
	app.Prepare()
	assert.Equal(t, ioapp.StatePrepared, app.State())
	assert.Zero(t, h.started.Load())

	app.RequestExit(0)
	require.NoError(t, app.Launch(2))
	app.Join()
	assert.EqualValues(t, 1, h.prepared.Load())
}

type panickingHooks struct {
	ioapp.NopHooks
}

func (panickingHooks) OnStarted() { panic("boom") }

func TestHookPanicIsRecorded(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var mu sync.Mutex
	logger := ioapp.NewLogger(&lockedWriter{mu: &mu, w: &buf}, logiface.LevelDebug)

	app := ioapp.New[ccy.Safe](panickingHooks{}, ioapp.WithLogger(logger))
	require.NoError(t, app.Launch(2))
	app.RequestExit(5)
	app.Join()

	err := app.Err()
	require.Error(t, err)
	var perr *reactor.PanicError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "boom", perr.Value)
	assert.Equal(t, 5, app.ReturnCode())

	mu.Lock()
	defer mu.Unlock()
	out := buf.String()
	assert.Contains(t, out, "hook panicked")
	assert.Contains(t, out, app.ID().String())
	assert.Contains(t, out, "exit requested")
}

func TestExitSignal(t *testing.T) {
	t.Parallel()

	app := ioapp.New[ccy.Single](ioapp.NopHooks{})
	codes := make(chan int, 1)
	_ = app.Signals().On(ioapp.Exit, context.Background(), func(ctx context.Context) error {
		code, ok := ioapp.ExitCode(ctx)
		assert.True(t, ok)
		codes <- code
		return nil
	})
	exitCtx := app.Signals().Context(ioapp.Exit)

	require.NoError(t, app.Launch(1))
	app.RequestExit(42)
	app.Join()

	assert.Equal(t, 42, <-codes)
	assert.Error(t, exitCtx.Err())
}

func TestSharedContext(t *testing.T) {
	t.Parallel()

	ctx := reactor.New()
	app := ioapp.New[ccy.Safe](ioapp.NopHooks{}, ioapp.WithContext(ctx))
	assert.Same(t, ctx, app.Context())

	ran := make(chan bool, 1)
	app.Dispatch(func() {
		ran <- app.CallIsInApp()
		app.RequestExit(0)
	})
	require.NoError(t, app.Launch(1))
	app.Join()
	assert.True(t, <-ran)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "created", ioapp.StateCreated.String())
	assert.Equal(t, "exit-requested", ioapp.StateExitRequested.String())
	assert.Equal(t, "stopped", ioapp.StateStopped.String())
	assert.Equal(t, "State(9)", ioapp.State(9).String())
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
