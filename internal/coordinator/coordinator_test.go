package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/engine"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/metrics"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/runlock"
)

type fakePipeline struct {
	runs    atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32

	started chan struct{} // 每次开始排班时写入
	gate    chan struct{} // 不为 nil 时排班会阻塞直到可以读取
	err     error
	panic   bool
}

func (p *fakePipeline) Run(ctx context.Context) (*engine.Result, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	run := p.runs.Add(1)
	if p.started != nil {
		p.started <- struct{}{}
	}
	if p.gate != nil {
		<-p.gate
	}
	if p.panic {
		panic("boom")
	}
	if p.err != nil {
		return nil, p.err
	}

	return &engine.Result{
		Message:     "ok",
		Assignments: []engine.Assignment{{ShiftID: int64(run)}},
	}, nil
}

func newCoordinator(t *testing.T, p Pipeline, locker Locker) *Coordinator {
	c := New(p, locker, Options{
		RunTimeout: 5 * time.Second,
		Metrics:    metrics.New(prometheus.NewRegistry()),
	})
	c.Start()
	t.Cleanup(func() {
		_ = c.Stop(context.Background())
	})
	return c
}

func TestTriggerRunReturnsResult(t *testing.T) {
	c := newCoordinator(t, &fakePipeline{}, nil)

	res, err := c.TriggerRun(context.Background(), SourceManual)
	require.NoError(t, err)
	require.Equal(t, "ok", res.Message)
	require.Len(t, res.Assignments, 1)
}

func TestTriggerRunReturnsPipelineError(t *testing.T) {
	pipelineErr := errors.New("oracle timeout")
	c := newCoordinator(t, &fakePipeline{err: pipelineErr}, nil)

	_, err := c.TriggerRun(context.Background(), SourceManual)
	require.ErrorIs(t, err, pipelineErr)
}

func TestRunsNeverOverlap(t *testing.T) {
	p := &fakePipeline{}
	c := newCoordinator(t, p, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.TriggerRun(context.Background(), SourceScanner)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int32(1), p.maxSeen.Load())
	require.GreaterOrEqual(t, p.runs.Load(), int32(1))
}

func TestTriggersDuringRunAreCoalesced(t *testing.T) {
	p := &fakePipeline{
		started: make(chan struct{}, 10),
		gate:    make(chan struct{}),
	}
	c := newCoordinator(t, p, nil)

	require.NoError(t, c.Submit(SourceShiftCreated))
	<-p.started // 第一次排班正在执行

	var jobRuns atomic.Int32
	job := func(ctx context.Context) error {
		jobRuns.Add(1)
		return nil
	}
	require.NoError(t, c.Submit(SourceAvailabilityChanged, job))
	require.NoError(t, c.Submit(SourceAvailabilityChanged, job))

	type outcome struct {
		res *engine.Result
		err error
	}
	waited := make(chan outcome, 1)
	go func() {
		res, err := c.TriggerRun(context.Background(), SourceManual)
		waited <- outcome{res, err}
	}()

	// 等待 TriggerRun 加入排队中的任务
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.pending != nil && len(c.pending.sources) == 3
	}, time.Second, 5*time.Millisecond)

	p.gate <- struct{}{}
	<-p.started
	p.gate <- struct{}{}

	out := <-waited
	require.NoError(t, out.err)
	require.Equal(t, int64(2), out.res.Assignments[0].ShiftID)
	require.Equal(t, int32(2), p.runs.Load())
	require.Equal(t, int32(2), jobRuns.Load())
}

func TestJobsRunBeforePipelineAndErrorsAreIgnored(t *testing.T) {
	p := &fakePipeline{}
	c := newCoordinator(t, p, nil)

	var order []string
	var runsBeforeJobs int32
	var mu sync.Mutex
	failing := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runsBeforeJobs = p.runs.Load()
		order = append(order, "failing")
		return errors.New("release failed")
	}
	ok := func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "ok")
		return nil
	}

	_, err := c.TriggerRun(context.Background(), SourceAvailabilityChanged, failing, ok)
	require.NoError(t, err)
	require.Equal(t, []string{"failing", "ok"}, order)
	require.Zero(t, runsBeforeJobs)
	require.Equal(t, int32(1), p.runs.Load())
}

type fakeLocker struct {
	err      error
	released atomic.Int32
}

func (l *fakeLocker) Acquire(ctx context.Context) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released.Add(1) }, nil
}

func TestLockIsHeldAroundRun(t *testing.T) {
	locker := &fakeLocker{}
	c := newCoordinator(t, &fakePipeline{}, locker)

	_, err := c.TriggerRun(context.Background(), SourceManual)
	require.NoError(t, err)
	require.Equal(t, int32(1), locker.released.Load())
}

func TestLockHeldFailsRun(t *testing.T) {
	p := &fakePipeline{}
	c := newCoordinator(t, p, &fakeLocker{err: runlock.ErrLockHeld})

	_, err := c.TriggerRun(context.Background(), SourceManual)
	require.ErrorIs(t, err, runlock.ErrLockHeld)
	require.Zero(t, p.runs.Load())
}

func TestPanicBecomesError(t *testing.T) {
	c := newCoordinator(t, &fakePipeline{panic: true}, nil)

	_, err := c.TriggerRun(context.Background(), SourceManual)
	require.Error(t, err)

	// 协调器在 panic 之后仍然可以继续工作
	_, err = c.TriggerRun(context.Background(), SourceManual)
	require.Error(t, err)
}

func TestTriggerRunHonoursCallerContext(t *testing.T) {
	p := &fakePipeline{gate: make(chan struct{})}
	c := newCoordinator(t, p, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.TriggerRun(ctx, SourceManual)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(p.gate)
}

func TestStoppedCoordinatorRejectsTriggers(t *testing.T) {
	c := New(&fakePipeline{}, nil, Options{})
	c.Start()
	require.NoError(t, c.Stop(context.Background()))
	require.NoError(t, c.Stop(context.Background()))

	_, err := c.TriggerRun(context.Background(), SourceManual)
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, c.Submit(SourceScanner), ErrStopped)
}

func TestExclusiveDoesNotOverlapRun(t *testing.T) {
	p := &fakePipeline{started: make(chan struct{}, 1), gate: make(chan struct{})}
	locker := &fakeLocker{}
	c := newCoordinator(t, p, locker)

	require.NoError(t, c.Submit(SourceManual))
	<-p.started

	var (
		ran    atomic.Bool
		active atomic.Int32
	)
	done := make(chan error, 1)
	go func() {
		done <- c.Exclusive(context.Background(), func(ctx context.Context) error {
			active.Store(p.active.Load())
			ran.Store(true)
			return nil
		})
	}()

	time.Sleep(30 * time.Millisecond)
	require.False(t, ran.Load())

	close(p.gate)
	require.NoError(t, <-done)
	require.True(t, ran.Load())
	require.Zero(t, active.Load(), "排班仍在执行")
	require.Equal(t, int32(2), locker.released.Load())
}

func TestExclusiveReturnsErrors(t *testing.T) {
	t.Run("job error", func(t *testing.T) {
		c := newCoordinator(t, &fakePipeline{}, nil)
		jobErr := errors.New("版本冲突")
		require.ErrorIs(t, c.Exclusive(context.Background(), func(ctx context.Context) error { return jobErr }), jobErr)
	})

	t.Run("lock held", func(t *testing.T) {
		c := newCoordinator(t, &fakePipeline{}, &fakeLocker{err: runlock.ErrLockHeld})
		called := false
		err := c.Exclusive(context.Background(), func(ctx context.Context) error {
			called = true
			return nil
		})
		require.ErrorIs(t, err, runlock.ErrLockHeld)
		require.False(t, called)
	})

	t.Run("stopped", func(t *testing.T) {
		c := New(&fakePipeline{}, nil, Options{})
		c.Start()
		require.NoError(t, c.Stop(context.Background()))
		require.ErrorIs(t, c.Exclusive(context.Background(), func(ctx context.Context) error { return nil }), ErrStopped)
	})

	t.Run("caller gives up while run is in progress", func(t *testing.T) {
		p := &fakePipeline{started: make(chan struct{}, 1), gate: make(chan struct{})}
		c := newCoordinator(t, p, nil)
		require.NoError(t, c.Submit(SourceManual))
		<-p.started

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := c.Exclusive(ctx, func(ctx context.Context) error { return nil })
		require.ErrorIs(t, err, context.DeadlineExceeded)
		close(p.gate)
	})
}

// deadlinePipeline 阻塞到 ctx 结束，模拟超过 RunTimeout 的排班
type deadlinePipeline struct{}

func (deadlinePipeline) Run(ctx context.Context) (*engine.Result, error) {
	<-ctx.Done()
	return &engine.Result{Message: "排班被中断"}, ctx.Err()
}

func TestRunTimeoutCancelsPipeline(t *testing.T) {
	c := New(deadlinePipeline{}, &fakeLocker{}, Options{RunTimeout: 20 * time.Millisecond})
	c.Start()
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	res, err := c.TriggerRun(context.Background(), SourceManual)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, "排班被中断", res.Message)
}
