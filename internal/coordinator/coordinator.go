// Package coordinator 把所有排班触发串行化：任何时刻最多只有一次排班在执行，
// 排队中的触发会合并成一次排班
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/engine"
	"github.com/sysu-ecnc-dev/shift-allocator/backend/internal/metrics"
)

var ErrStopped = errors.New("排班协调器已停止")

const (
	SourceManual              = "manual"
	SourceShiftCreated        = "shift_created"
	SourceAvailabilityChanged = "availability_changed"
	SourceScanner             = "scanner"
)

// Job 在排班之前执行，例如释放不可用员工的班次。Job 的错误只记录日志，不会取消排班
type Job func(ctx context.Context) error

type Pipeline interface {
	Run(ctx context.Context) (*engine.Result, error)
}

// Locker 在多个进程之间互斥，由 runlock.Lock 实现
type Locker interface {
	Acquire(ctx context.Context) (func(), error)
}

type Options struct {
	// RunTimeout 为一次排班（包括获取锁和预处理任务）的最长时间，为 0 时不限制
	RunTimeout time.Duration
	Metrics    *metrics.Metrics
}

type task struct {
	sources []string
	jobs    []Job
	done    chan struct{}
	result  *engine.Result
	err     error
}

func (t *task) finish(result *engine.Result, err error) {
	t.result, t.err = result, err
	close(t.done)
}

type Coordinator struct {
	pipeline   Pipeline
	locker     Locker
	metrics    *metrics.Metrics
	runTimeout time.Duration

	mu      sync.Mutex
	pending *task // 已排队但尚未开始执行的任务
	stopped bool

	// sem 保证排班与 Exclusive 中的写入不会同时进行
	sem chan struct{}

	queue  chan *task
	stop   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建协调器，locker 为 nil 时只在进程内互斥
func New(pipeline Pipeline, locker Locker, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		pipeline:   pipeline,
		locker:     locker,
		metrics:    opts.Metrics,
		runTimeout: opts.RunTimeout,
		sem:        make(chan struct{}, 1),
		queue:      make(chan *task, 1),
		stop:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.loop()
}

// Stop 不再接收新的触发，并等待正在执行的排班结束。ctx 结束时取消正在执行的排班
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	close(c.stop)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ctx.Done():
		c.cancel()
		<-done
		return ctx.Err()
	}
}

// TriggerRun 触发排班并等待结果。如果已有排队中的排班，会加入那一次排班并返回它的结果
func (c *Coordinator) TriggerRun(ctx context.Context, source string, jobs ...Job) (*engine.Result, error) {
	t, err := c.enqueue(source, jobs)
	if err != nil {
		return nil, err
	}

	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Submit 触发排班后立即返回，结果只体现在日志和指标中
func (c *Coordinator) Submit(source string, jobs ...Job) error {
	_, err := c.enqueue(source, jobs)
	return err
}

// Exclusive 在不与任何排班重叠的情况下执行 fn，并持有与排班相同的锁。
// 用于主管手动改派等需要修改 assigned_to 的操作
func (c *Coordinator) Exclusive(ctx context.Context, fn Job) error {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.runTimeout)
		defer cancel()
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if c.locker != nil {
		release, err := c.locker.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("无法获取排班锁: %w", err)
		}
		defer release()
	}

	return fn(ctx)
}

func (c *Coordinator) enqueue(source string, jobs []Job) (*task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil, ErrStopped
	}

	if c.pending != nil {
		c.pending.sources = append(c.pending.sources, source)
		c.pending.jobs = append(c.pending.jobs, jobs...)
		c.metrics.IncCoalescedTrigger()
		return c.pending, nil
	}

	t := &task{
		sources: []string{source},
		jobs:    append([]Job(nil), jobs...),
		done:    make(chan struct{}),
	}
	c.pending = t
	// pending 不为 nil 时不会再入队，因此队列中最多只有一个任务，这里不会阻塞
	c.queue <- t

	return t, nil
}

func (c *Coordinator) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.stop:
			select {
			case t := <-c.queue:
				c.take(t)
				t.finish(nil, ErrStopped)
			default:
			}
			return
		case t := <-c.queue:
			sources, jobs := c.take(t)
			c.execute(t, sources, jobs)
		}
	}
}

// take 把任务移出排队状态，之后到达的触发会创建新的任务
func (c *Coordinator) take(t *task) ([]string, []Job) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == t {
		c.pending = nil
	}
	return t.sources, t.jobs
}

func (c *Coordinator) execute(t *task, sources []string, jobs []Job) {
	start := time.Now()
	source := sources[0]

	var (
		result *engine.Result
		err    error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("排班过程中发生 panic: %v", r)
			result = nil
		}
		c.report(source, sources, result, err, time.Since(start))
		t.finish(result, err)
	}()

	ctx := c.ctx
	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.runTimeout)
		defer cancel()
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		err = ctx.Err()
		return
	}

	if c.locker != nil {
		release, lockErr := c.locker.Acquire(ctx)
		if lockErr != nil {
			err = fmt.Errorf("无法获取排班锁: %w", lockErr)
			return
		}
		defer release()
	}

	for _, job := range jobs {
		if jobErr := job(ctx); jobErr != nil {
			slog.Error("排班前的任务执行失败", "sources", sources, "error", jobErr)
		}
	}

	result, err = c.pipeline.Run(ctx)
}

func (c *Coordinator) report(source string, sources []string, result *engine.Result, err error, elapsed time.Duration) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		slog.Warn("排班被中断", "sources", sources, "error", err)
		c.metrics.ObserveRun(source, "cancelled", elapsed)
	case err != nil:
		slog.Error("排班失败", "sources", sources, "error", err)
		c.metrics.ObserveRun(source, "failure", elapsed)
	case result == nil || len(result.Assignments) == 0:
		c.metrics.ObserveRun(source, "noop", elapsed)
	default:
		slog.Info("排班完成", "sources", sources, slog.Int("assigned", len(result.Assignments)), slog.Duration("elapsed", elapsed))
		c.metrics.ObserveRun(source, "success", elapsed)
	}
}
